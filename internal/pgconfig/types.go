// Package pgconfig defines portguard's two configuration surfaces -- the
// compact binary-encoded configuration embedded in each client executable,
// and the human-readable table-format file read by the server -- along
// with the domain types they both serialize.
package pgconfig

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Socks5Token is the literal string a Target or a "remote" entry uses to
// mean "proxy to the embedded SOCKS5 engine" rather than a fixed address.
const Socks5Token = "socks5"

// Target names where proxied traffic should end up: either a concrete
// TCP address, or the built-in SOCKS5 engine.
type Target struct {
	Socks5 bool
	Addr   string // host:port, meaningful only when Socks5 is false
}

// ParseTarget parses a target descriptor string: either the literal
// Socks5Token, or a host:port string that net.SplitHostPort accepts with a
// non-empty host and a numeric port that fits in 16 bits.
func ParseTarget(s string) (Target, error) {
	if s == Socks5Token {
		return Target{Socks5: true}, nil
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", s, err)
	}
	if host == "" {
		return Target{}, fmt.Errorf("invalid target %q: missing host", s)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return Target{}, fmt.Errorf("invalid target %q: bad port: %w", s, err)
	}
	return Target{Addr: s}, nil
}

func (t Target) String() string {
	if t.Socks5 {
		return Socks5Token
	}
	return t.Addr
}

// RemoteKind tags the three Remote variants.
type RemoteKind uint8

const (
	// RemoteKindProxy is a plain forward proxy to a Target.
	RemoteKindProxy RemoteKind = iota
	// RemoteKindService is a visitor of a reverse-service with the given id.
	RemoteKindService
	// RemoteKindRProxy is a reverse-service provider exposing a Target under the given id.
	RemoteKindRProxy
)

// Remote is the server-assigned policy for a client: a plain forward
// proxy, a reverse-service visitor, or a reverse-service provider.
type Remote struct {
	Kind      RemoteKind
	Target    Target // valid for RemoteKindProxy and RemoteKindRProxy
	ServiceID uint32 // valid for RemoteKindService and RemoteKindRProxy
}

// ProxyRemote builds a Remote with the Proxy variant.
func ProxyRemote(t Target) Remote { return Remote{Kind: RemoteKindProxy, Target: t} }

// ServiceRemote builds a Remote with the Service variant.
func ServiceRemote(id uint32) Remote { return Remote{Kind: RemoteKindService, ServiceID: id} }

// RProxyRemote builds a Remote with the RProxy variant.
func RProxyRemote(t Target, id uint32) Remote {
	return Remote{Kind: RemoteKindRProxy, Target: t, ServiceID: id}
}

// IsReverseProvider reports whether this Remote designates a reverse-proxy
// provider -- the invariant that drives ClientConfig.Reverse.
func (r Remote) IsReverseProvider() bool { return r.Kind == RemoteKindRProxy }

func (r Remote) String() string {
	switch r.Kind {
	case RemoteKindProxy:
		return fmt.Sprintf("proxy(%s)", r.Target)
	case RemoteKindService:
		return fmt.Sprintf("service(%d)", r.ServiceID)
	case RemoteKindRProxy:
		return fmt.Sprintf("rproxy(%s, %d)", r.Target, r.ServiceID)
	default:
		return "remote(unknown)"
	}
}

// ClientConfig is embedded, bounded to ConfBufLen bytes, inside every
// client executable by the binary patcher.
type ClientConfig struct {
	ServerAddr string // host:port of the portguard server
	Target     Target // forward target, or the address this reverse client exposes
	Reverse    bool   // true iff this client is a reverse-proxy provider

	ServerPub [32]byte // server's static Noise public key
	ClientKey ClientKey
}

// ClientKey is the client's static Noise keypair material as carried in a
// ClientConfig: the private key, optionally encrypted at rest.
type ClientKey struct {
	HasKeypass bool
	// Private holds the raw 32-byte private key when HasKeypass is false,
	// or the ChaCha20-Poly1305 ciphertext+tag (48 bytes) when true.
	Private []byte
}

// ClientEntry is one authorized client recorded in a ServerConfig. Its
// identity is its public key.
type ClientEntry struct {
	Name      string
	PublicKey [32]byte

	// FileHash is the BLAKE2s-256 digest of the client's on-disk
	// executable. Required when Remote is set to RemoteKindRProxy.
	FileHash *[32]byte

	// Remote overrides ServerConfig.Default for this client when set.
	Remote *Remote
}

// EffectiveRemote resolves the policy that applies to this entry: its own
// override if present, otherwise the server-wide default.
func (e *ClientEntry) EffectiveRemote(serverDefault Remote) Remote {
	if e.Remote != nil {
		return *e.Remote
	}
	return serverDefault
}

// ServerConfig is the human-readable, persistent server configuration.
type ServerConfig struct {
	Host    string
	Port    uint16
	Default Remote

	PublicKey  [32]byte
	PrivateKey [32]byte

	Clients []ClientEntry
}

// FindClient returns the ClientEntry whose public key matches pub, or nil.
func (s *ServerConfig) FindClient(pub [32]byte) *ClientEntry {
	for i := range s.Clients {
		if s.Clients[i].PublicKey == pub {
			return &s.Clients[i]
		}
	}
	return nil
}

// HasClient reports whether a client with the given public key is already
// registered -- the uniqueness invariant callers must check before insert.
func (s *ServerConfig) HasClient(pub [32]byte) bool {
	return s.FindClient(pub) != nil
}

// Validate checks the ServerConfig invariants: unique client public keys,
// and a file hash present on every reverse-proxy provider entry.
func (s *ServerConfig) Validate() error {
	seen := make(map[[32]byte]struct{}, len(s.Clients))
	for _, c := range s.Clients {
		if _, dup := seen[c.PublicKey]; dup {
			return fmt.Errorf("duplicate client public key for %q", c.Name)
		}
		seen[c.PublicKey] = struct{}{}
		remote := c.EffectiveRemote(s.Default)
		if remote.Kind == RemoteKindRProxy && c.FileHash == nil {
			return fmt.Errorf("client %q: remote=rproxy requires a recorded file hash", c.Name)
		}
	}
	return nil
}

// Addr returns the host:port the server advertises to generated clients.
// The server itself listens on 0.0.0.0 at Port.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(int(s.Port)))
}

func splitTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
