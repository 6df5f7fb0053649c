// Package serverengine implements the portguard server: it accepts TCP
// connections, authenticates each one with a Noise IK handshake, and
// dispatches on the Remote a client is configured for: a fixed-address
// proxy, the SOCKS5 engine, a reverse-service visitor, or a reverse-service
// provider.
package serverengine

import (
	"context"
	"fmt"
	"net"

	"github.com/flynn/noise"

	"github.com/portguard/portguard/internal/muxsession"
	"github.com/portguard/portguard/internal/noiseik"
	"github.com/portguard/portguard/internal/pgconfig"
	"github.com/portguard/portguard/internal/pgshare"
	"github.com/portguard/portguard/internal/registry"
	"github.com/portguard/portguard/internal/socksengine"
	"github.com/portguard/portguard/internal/wire"
)

const (
	integrityAccepted = 0x42 // 'B'
	integrityDuplicate = 0x58 // 'X'
	integrityMismatch = 0x00
)

// Engine owns the server's listening socket, its static identity, the
// client directory it authenticates against, and the reverse-proxy
// registry shared by every connection handler.
type Engine struct {
	pgshare.ShutdownHelper

	cfg      *pgconfig.ServerConfig
	identity noise.DHKey
	logger   pgshare.Logger
	registry *registry.Registry
	socks    *socksengine.Engine

	ln net.Listener
}

// New builds a server Engine. cfg is treated as read-only for the engine's
// lifetime, matching the documented concurrency model.
func New(cfg *pgconfig.ServerConfig, logger pgshare.Logger) (*Engine, error) {
	socks, err := socksengine.New()
	if err != nil {
		return nil, fmt.Errorf("serverengine: build socks5 engine: %w", err)
	}
	e := &Engine{
		cfg:      cfg,
		identity: noise.DHKey{Private: cfg.PrivateKey[:], Public: cfg.PublicKey[:]},
		logger:   logger,
		registry: registry.New(),
		socks:    socks,
	}
	e.InitShutdownHelper(logger, e)
	return e, nil
}

// HandleOnceShutdown closes the listener so the accept loop in Run unwinds.
func (e *Engine) HandleOnceShutdown(completionErr error) error {
	if e.ln != nil {
		e.ln.Close()
	}
	return completionErr
}

// Run binds the configured address and serves connections until ctx is
// canceled or the listener fails to bind. A bind failure is the only error
// that terminates the server; every per-connection failure is logged and
// otherwise ignored.
func (e *Engine) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", e.cfg.Port))
	if err != nil {
		return fmt.Errorf("serverengine: listen: %w", err)
	}
	e.ln = ln
	e.logger.ILogf("listening on %s", ln.Addr())
	e.ShutdownOnContext(ctx)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-e.ShutdownStartedChan():
				return e.Close()
			default:
			}
			e.logger.WLogf("accept failed: %s", err)
			continue
		}
		go e.handleConn(conn)
	}
}

func (e *Engine) handleConn(conn net.Conn) {
	logger := e.logger.Fork("conn %s", conn.RemoteAddr())

	var entry *pgconfig.ClientEntry
	stream, err := noiseik.Accept(conn, e.identity, func(peerPub [32]byte) bool {
		entry = e.cfg.FindClient(peerPub)
		return entry != nil
	})
	if err != nil {
		logger.WLogf("handshake failed: %s", err)
		conn.Close()
		return
	}
	defer stream.Close()

	remote := entry.EffectiveRemote(e.cfg.Default)
	logger.ILogf("client %q authenticated, remote=%s", entry.Name, remote)

	switch remote.Kind {
	case pgconfig.RemoteKindProxy:
		if remote.Target.Socks5 {
			if err := e.socks.Serve(wire.WrapAsNetConn(stream, "socks5:"+entry.Name)); err != nil {
				logger.DLogf("socks5 session ended: %s", err)
			}
			return
		}
		e.handleProxyTarget(logger, stream, remote.Target.Addr)

	case pgconfig.RemoteKindService:
		e.handleVisitor(logger, stream, remote.ServiceID)

	case pgconfig.RemoteKindRProxy:
		e.handleProvider(logger, stream, entry, remote)

	default:
		logger.ELogf("unknown remote kind %d", remote.Kind)
	}
}

func (e *Engine) handleProxyTarget(logger pgshare.Logger, stream wire.Stream, addr string) {
	target, err := net.Dial("tcp", addr)
	if err != nil {
		logger.WLogf("dial target %s: %s", addr, err)
		return
	}
	wire.Splice(logger, stream, target)
}

func (e *Engine) handleVisitor(logger pgshare.Logger, stream wire.Stream, id uint32) {
	sub, err := e.registry.Open(id)
	if err != nil {
		logger.WLogf("visitor for service %d: %s", id, err)
		return
	}
	wire.Splice(logger, stream, sub)
}

// handleProvider implements §4.6's provider-onboarding sequence: a
// reservation-based duplicate check strictly before any digest I/O,
// integrity handshake, the accept byte sent on the raw stream, then (only
// after that byte is on the wire) the multiplexer upgrade, registration,
// and a drive loop that exists purely to detect the provider's disconnect.
// The accept/mismatch/duplicate bytes must all be written to the raw
// stream before muxsession.NewServerSide takes over its I/O; writing to
// stream afterwards would corrupt the multiplexer's framing.
func (e *Engine) handleProvider(logger pgshare.Logger, stream wire.Stream, entry *pgconfig.ClientEntry, remote pgconfig.Remote) {
	if err := e.registry.Reserve(remote.ServiceID); err != nil {
		stream.Write([]byte{integrityDuplicate})
		logger.WLogf("provider %q: service id %d already online", entry.Name, remote.ServiceID)
		return
	}

	digest := make([]byte, 32)
	if _, err := readFull(stream, digest); err != nil {
		e.registry.Release(remote.ServiceID)
		logger.WLogf("provider %q: read self-digest: %s", entry.Name, err)
		return
	}

	if entry.FileHash == nil {
		e.registry.Release(remote.ServiceID)
		logger.ELogf("provider %q: remote=rproxy but no file hash recorded; rejecting", entry.Name)
		stream.Write([]byte{integrityMismatch})
		return
	}

	var got [32]byte
	copy(got[:], digest)
	if got != *entry.FileHash {
		e.registry.Release(remote.ServiceID)
		logger.WLogf("provider %q: self-digest mismatch", entry.Name)
		stream.Write([]byte{integrityMismatch})
		return
	}

	if _, err := stream.Write([]byte{integrityAccepted}); err != nil {
		e.registry.Release(remote.ServiceID)
		logger.WLogf("provider %q: send accept byte: %s", entry.Name, err)
		return
	}

	sess, err := muxsession.NewServerSide(stream)
	if err != nil {
		e.registry.Release(remote.ServiceID)
		logger.WLogf("provider %q: multiplexer upgrade: %s", entry.Name, err)
		return
	}
	defer sess.Close()

	e.registry.Finalize(remote.ServiceID, sess)
	logger.ILogf("provider %q registered for service %d %s", entry.Name, remote.ServiceID, e.registry.Stats())

	<-sess.CloseChan()
	e.registry.Unregister(remote.ServiceID, sess)
	logger.ILogf("provider %q for service %d disconnected %s", entry.Name, remote.ServiceID, e.registry.Stats())
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
