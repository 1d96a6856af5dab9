package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// -------------------------------------------------------------------------
// Command Kinds
// -------------------------------------------------------------------------

// CommandKind identifies an outbound device command.
type CommandKind string

// Command kinds accepted on the command queue. Whether a kind can be
// encoded depends on the session's protocol fingerprint.
const (
	CommandLocate       CommandKind = "locate"
	CommandReboot       CommandKind = "reboot"
	CommandEngineStop   CommandKind = "engine_stop"
	CommandEngineResume CommandKind = "engine_resume"
	CommandRaw          CommandKind = "raw"
)

// -------------------------------------------------------------------------
// Command Request Parsing
// -------------------------------------------------------------------------

// ErrBridgeAddressed indicates a queue payload carrying targetHost. Such
// payloads are owned by the direct-TCP bridge, not the gateway dispatcher,
// and must be returned to the queue untouched.
var ErrBridgeAddressed = errors.New("payload carries targetHost, owned by the direct-tcp bridge")

// parseCommandErrPrefix is the common error prefix for command payload
// parse failures.
const parseCommandErrPrefix = "parse command payload"

// CommandRequest is a normalized inbound command from the command queue.
type CommandRequest struct {
	// ID is the producer-assigned command id, or a generated UUID when
	// the payload carries none.
	ID string

	// DeviceID is the numeric device row id, when the producer knows it.
	DeviceID uint

	// IMEI addresses the target device.
	IMEI string

	// Kind is the normalized command kind.
	Kind CommandKind

	// Parameters carries kind-specific arguments (raw bytes for
	// CommandRaw, ...).
	Parameters map[string]any
}

// commandEnvelope mirrors the inbound queue JSON. Producers disagree on
// field names: command, command_type and kind are synonyms, as are id and
// commandId. Unknown fields are ignored.
type commandEnvelope struct {
	ID          string         `json:"id"`
	CommandID   string         `json:"commandId"`
	DeviceID    uint           `json:"device_id"`
	IMEI        string         `json:"imei"`
	Command     string         `json:"command"`
	CommandType string         `json:"command_type"`
	Kind        string         `json:"kind"`
	Parameters  map[string]any `json:"parameters"`
	TargetHost  string         `json:"targetHost"`
}

// ParseCommandRequest decodes a command queue payload into a normalized
// CommandRequest.
//
// Returns ErrBridgeAddressed when the payload carries targetHost; the
// caller must nack the delivery with requeue so the bridge can consume
// it. Malformed JSON returns a wrapped unmarshal error. Missing fields
// are tolerated: an absent id is replaced with a generated UUID, and an
// absent kind or IMEI surfaces downstream as an encode or lookup failure.
func ParseCommandRequest(body []byte) (*CommandRequest, error) {
	var env commandEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%s: %w", parseCommandErrPrefix, err)
	}

	if env.TargetHost != "" {
		return nil, fmt.Errorf("%s: %w", parseCommandErrPrefix, ErrBridgeAddressed)
	}

	id := env.ID
	if id == "" {
		id = env.CommandID
	}
	if id == "" {
		id = uuid.NewString()
	}

	kind := env.Command
	if kind == "" {
		kind = env.CommandType
	}
	if kind == "" {
		kind = env.Kind
	}

	return &CommandRequest{
		ID:         id,
		DeviceID:   env.DeviceID,
		IMEI:       strings.TrimSpace(env.IMEI),
		Kind:       CommandKind(strings.ToLower(strings.TrimSpace(kind))),
		Parameters: env.Parameters,
	}, nil
}
