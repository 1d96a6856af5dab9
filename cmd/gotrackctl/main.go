// gotrackctl is the operations CLI for the GoTrack gateway. It talks
// directly to the PostgreSQL store and the RabbitMQ broker.
package main

import (
	"github.com/dantte-lp/gotrack/cmd/gotrackctl/commands"
)

func main() {
	commands.Execute()
}
