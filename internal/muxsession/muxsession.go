// Package muxsession wraps hashicorp/yamux sessions with the role
// inversion portguard's reverse-proxy path depends on: the TCP-initiating
// reverse-provider client plays the multiplexer's passive ("server") role,
// while the TCP-accepting portguard server plays the multiplexer's active
// ("client") role when it is driving a provider's connection. Visitors, not
// providers, originate sub-streams, so the peer that opens streams must be
// the portguard server's end regardless of which end dialed the TCP
// connection.
package muxsession

import (
	"io"
	"time"

	"github.com/hashicorp/yamux"
)

func defaultConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.Logger = nil
	cfg.LogOutput = io.Discard
	cfg.StreamOpenTimeout = 30 * time.Second
	return cfg
}

// Session is the subset of *yamux.Session portguard uses: opening and
// accepting sub-streams, and tearing the whole multiplexer down.
type Session struct {
	sess *yamux.Session
}

// NewProviderSide wraps stream as the multiplexer's passive peer: the
// reverse-provider client calls this on its side of the connection it just
// dialed, so the server (not the provider) is the one opening sub-streams.
func NewProviderSide(stream io.ReadWriteCloser) (*Session, error) {
	sess, err := yamux.Server(stream, defaultConfig())
	if err != nil {
		return nil, err
	}
	return &Session{sess: sess}, nil
}

// NewServerSide wraps stream as the multiplexer's active peer: the
// portguard server calls this on its side of a connection a provider
// dialed in, so it can open visitor sub-streams against that provider.
func NewServerSide(stream io.ReadWriteCloser) (*Session, error) {
	sess, err := yamux.Client(stream, defaultConfig())
	if err != nil {
		return nil, err
	}
	return &Session{sess: sess}, nil
}

// OpenStream opens a new sub-stream; only valid from the server side of a
// provider connection.
func (s *Session) OpenStream() (*yamux.Stream, error) {
	return s.sess.OpenStream()
}

// AcceptStream blocks for an inbound sub-stream; only valid from the
// provider side of the connection, where it is driven once per visitor.
func (s *Session) AcceptStream() (*yamux.Stream, error) {
	return s.sess.AcceptStream()
}

// Close tears down the multiplexer and its underlying stream.
func (s *Session) Close() error {
	return s.sess.Close()
}

// CloseChan is closed when the session terminates, letting callers detect
// provider disconnection without blocking in AcceptStream/OpenStream.
func (s *Session) CloseChan() <-chan struct{} {
	return s.sess.CloseChan()
}
