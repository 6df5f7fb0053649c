// Package clientengine implements the client side of portguard: a forward
// proxy listener, or a reverse-proxy provider that dials back to the
// server and exposes a local target through it.
package clientengine

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/flynn/noise"
	"github.com/jpillora/backoff"
	"golang.org/x/crypto/blake2s"

	"github.com/portguard/portguard/internal/keys"
	"github.com/portguard/portguard/internal/muxsession"
	"github.com/portguard/portguard/internal/noiseik"
	"github.com/portguard/portguard/internal/pgconfig"
	"github.com/portguard/portguard/internal/pgshare"
	"github.com/portguard/portguard/internal/socksengine"
	"github.com/portguard/portguard/internal/wire"
)

// replyAccepted and friends are the one-byte signals a reverse provider
// reads immediately after sending its executable digest.
const (
	replyAccepted = 0x42 // 'B'
	replyDuplicate = 0x58 // 'X'
)

// PassphraseFunc supplies the passphrase used to decrypt an encrypted
// client private key. It is consulted only if the embedded configuration
// carries HasKeypass; prompting the operator is the caller's concern.
type PassphraseFunc func() (string, error)

// Engine runs one client identity: either a forward-proxy listener or a
// reverse-proxy provider, per its embedded configuration.
type Engine struct {
	pgshare.ShutdownHelper

	cfg        pgconfig.ClientConfig
	localKey   noise.DHKey
	logger     pgshare.Logger
	passphrase PassphraseFunc

	fwdLn net.Listener
}

// HandleOnceShutdown closes the forward-proxy listener, if one is active, so
// runForward's accept loop unwinds. Reverse mode has no listener to close;
// its retry loop watches ctx directly.
func (e *Engine) HandleOnceShutdown(completionErr error) error {
	if e.fwdLn != nil {
		e.fwdLn.Close()
	}
	return completionErr
}

// New builds an Engine from a decoded ClientConfig. If serverOverride is
// non-empty it replaces the embedded server address, matching the
// documented run(listen_port, server_override?) entry point.
func New(cfg pgconfig.ClientConfig, serverOverride string, passphrase PassphraseFunc, logger pgshare.Logger) (*Engine, error) {
	if serverOverride != "" {
		cfg.ServerAddr = serverOverride
	}

	priv := cfg.ClientKey.Private
	if cfg.ClientKey.HasKeypass {
		if passphrase == nil {
			return nil, fmt.Errorf("clientengine: config requires a passphrase but none was supplied")
		}
		pass, err := passphrase()
		if err != nil {
			return nil, fmt.Errorf("clientengine: obtain passphrase: %w", err)
		}
		decrypted, err := keys.Decrypt(cfg.ClientKey.Private, pass)
		if err != nil {
			return nil, fmt.Errorf("clientengine: decrypt client key: %w", err)
		}
		priv = decrypted
	}

	pub, err := keys.PublicFromPrivate(priv)
	if err != nil {
		return nil, fmt.Errorf("clientengine: derive public key: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		localKey:   noise.DHKey{Private: priv, Public: pub[:]},
		passphrase: passphrase,
		logger:     logger,
	}
	e.InitShutdownHelper(logger, e)
	return e, nil
}

// Run dispatches to forward or reverse mode per the embedded Reverse flag.
func (e *Engine) Run(ctx context.Context, listenPort int) error {
	if e.cfg.Reverse {
		return e.runReverse(ctx)
	}
	return e.runForward(ctx, listenPort)
}

func (e *Engine) runForward(ctx context.Context, listenPort int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", listenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("clientengine: listen on %s: %w", addr, err)
	}
	e.fwdLn = ln
	e.logger.ILogf("forward proxy listening on %s -> %s via %s", addr, e.cfg.Target, e.cfg.ServerAddr)
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
		go e.handleForwardConn(conn)
	}
}

func (e *Engine) handleForwardConn(local net.Conn) {
	logger := e.logger.Fork("forward")
	remote, err := net.Dial("tcp", e.cfg.ServerAddr)
	if err != nil {
		logger.WLogf("dial server %s: %s", e.cfg.ServerAddr, err)
		local.Close()
		return
	}

	var serverPub [32]byte
	copy(serverPub[:], e.cfg.ServerPub[:])
	stream, err := noiseik.Initiate(remote, e.localKey, serverPub)
	if err != nil {
		logger.WLogf("handshake with %s: %s", e.cfg.ServerAddr, err)
		remote.Close()
		local.Close()
		return
	}

	wire.Splice(logger, local, stream)
}

func (e *Engine) runReverse(ctx context.Context) error {
	if !e.cfg.Target.Socks5 {
		if _, err := pgconfig.ParseTarget(e.cfg.Target.Addr); err != nil {
			return fmt.Errorf("clientengine: reverse target: %w", err)
		}
	}
	b :=&backoff.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := e.reverseSession(ctx)
		if err == errDuplicateProvider {
			e.logger.ELogf("another provider is already online for this service; aborting to avoid a zombie instance")
			os.Exit(1)
		}
		if err != nil {
			d := b.Duration()
			e.logger.WLogf("reverse session ended: %s; retrying in %s", err, d)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d):
			}
			continue
		}
		b.Reset()
	}
}

var errDuplicateProvider = fmt.Errorf("clientengine: service id already online")

func (e *Engine) reverseSession(ctx context.Context) error {
	logger := e.logger.Fork("reverse")

	conn, err := net.Dial("tcp", e.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}

	var serverPub [32]byte
	copy(serverPub[:], e.cfg.ServerPub[:])
	stream, err := noiseik.Initiate(conn, e.localKey, serverPub)
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	digest, err := selfDigest()
	if err != nil {
		stream.Close()
		return fmt.Errorf("compute self digest: %w", err)
	}
	if _, err := stream.Write(digest[:]); err != nil {
		stream.Close()
		return fmt.Errorf("send self digest: %w", err)
	}

	reply := make([]byte, 1)
	if _, err := io.ReadFull(stream, reply); err != nil {
		stream.Close()
		return fmt.Errorf("read integrity reply: %w", err)
	}
	switch reply[0] {
	case replyAccepted:
	case replyDuplicate:
		stream.Close()
		return errDuplicateProvider
	default:
		stream.Close()
		return fmt.Errorf("server rejected self digest (byte 0x%02x)", reply[0])
	}

	sess, err := muxsession.NewProviderSide(stream)
	if err != nil {
		stream.Close()
		return fmt.Errorf("upgrade to multiplexer: %w", err)
	}
	defer sess.Close()

	logger.ILogf("reverse session established, serving %s", e.cfg.Target)

	var socks *socksengine.Engine
	if e.cfg.Target.Socks5 {
		socks, err = socksengine.New()
		if err != nil {
			return fmt.Errorf("build socks5 engine: %w", err)
		}
	}

	for {
		sub, err := sess.AcceptStream()
		if err != nil {
			return fmt.Errorf("multiplexer accept: %w", err)
		}
		go e.handleReverseSubStream(logger, sub, socks)
	}
}

func (e *Engine) handleReverseSubStream(logger pgshare.Logger, sub wire.Stream, socks *socksengine.Engine) {
	if socks != nil {
		if err := socks.Serve(wire.WrapAsNetConn(sub, "reverse-socks5")); err != nil {
			logger.DLogf("socks5 session ended: %s", err)
		}
		sub.Close()
		return
	}

	target, err := net.Dial("tcp", e.cfg.Target.Addr)
	if err != nil {
		logger.WLogf("dial local target %s: %s", e.cfg.Target.Addr, err)
		sub.Close()
		return
	}
	wire.Splice(logger, sub, target)
}

// selfDigest computes the BLAKE2s-256 digest of the currently running
// executable on disk, the self-attestation a reverse provider sends after
// handshake.
func selfDigest() ([32]byte, error) {
	var zero [32]byte
	path, err := os.Executable()
	if err != nil {
		return zero, fmt.Errorf("locate own executable: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return zero, fmt.Errorf("read own executable: %w", err)
	}
	return blake2s.Sum256(data), nil
}
