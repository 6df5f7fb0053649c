// Package socksengine wraps armon/go-socks5 as the upgrader portguard
// hands an already-accepted byte-stream to when a client's target resolves
// to the built-in SOCKS5 proxy token rather than a fixed address.
package socksengine

import (
	"fmt"
	"net"

	socks5 "github.com/armon/go-socks5"
)

// Engine upgrades byte-streams into SOCKS5 sessions.
type Engine struct {
	server *socks5.Server
}

// New builds a SOCKS5 engine with default resolution/dialing behavior.
func New() (*Engine, error) {
	srv, err := socks5.New(&socks5.Config{})
	if err != nil {
		return nil, fmt.Errorf("socksengine: build server: %w", err)
	}
	return &Engine{server: srv}, nil
}

// Serve upgrades conn to a SOCKS5 session and services it until the client
// closes its side or an error occurs. It does not return until the session
// ends, and conn is closed by the time it returns.
func (e *Engine) Serve(conn net.Conn) error {
	return e.server.ServeConn(conn)
}
