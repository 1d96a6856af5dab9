package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"
)

// -------------------------------------------------------------------------
// ListenerConfig — Device gateway listener configuration
// -------------------------------------------------------------------------

// ListenerConfig holds configuration for the device TCP listener.
type ListenerConfig struct {
	// Addr is the host:port the listener binds to. A port of 0 picks an
	// ephemeral port; use Addr() on the Listener to discover it.
	Addr string

	// KeepAlivePeriod is the TCP keepalive probe interval for accepted
	// connections. Zero disables keepalive.
	KeepAlivePeriod time.Duration

	// UserTimeout bounds how long written data may remain unacknowledged
	// before the kernel fails the connection (TCP_USER_TIMEOUT, Linux
	// only). Zero leaves the kernel default.
	UserTimeout time.Duration
}

// -------------------------------------------------------------------------
// Listener — High-level device connection accept loop
// -------------------------------------------------------------------------

// ConnHandler processes a single accepted device connection. The handler
// owns the connection and must close it before returning.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Listener wraps a net.Listener and provides a context-aware accept loop
// for tracker device connections.
type Listener struct {
	ln     net.Listener
	logger *slog.Logger
}

// NewListener binds a TCP listener per the given configuration.
// Returns an error if the address cannot be bound.
func NewListener(ctx context.Context, cfg ListenerConfig, logger *slog.Logger) (*Listener, error) {
	lc := net.ListenConfig{
		KeepAlive: cfg.KeepAlivePeriod,
		Control: func(_, _ string, c syscall.RawConn) error {
			return setSocketOpts(c, cfg.UserTimeout)
		},
	}

	ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	return &Listener{
		ln:     ln,
		logger: logger.With(slog.String("component", "listener")),
	}, nil
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled, invoking handle for
// each accepted connection in its own goroutine. Serve returns once the
// accept loop has stopped and every handler has returned.
func (l *Listener) Serve(ctx context.Context, handle ConnHandler) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		if cErr := l.ln.Close(); cErr != nil && !errors.Is(cErr, net.ErrClosed) {
			l.logger.Debug("listener close error", slog.String("error", cErr.Error()))
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("accept error", slog.String("error", err.Error()))
			continue
		}

		l.logger.Debug("connection accepted",
			slog.String("remote", conn.RemoteAddr().String()),
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			handle(ctx, conn)
		}()
	}
}

// Close closes the underlying listener. Safe to call concurrently with
// Serve; the accept loop exits cleanly.
func (l *Listener) Close() error {
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}
