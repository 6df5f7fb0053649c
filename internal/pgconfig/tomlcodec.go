package pgconfig

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// MarshalText renders a Remote as the compact token the server's table
// format config stores it as: the bare target for a forward proxy, or a
// "kind|..." form for the variants that carry extra fields. Kept as a
// single string (rather than a TOML sub-table) so a Remote can sit directly
// in a client's "remote" key without its own [clients.remote] table.
func (r Remote) MarshalText() ([]byte, error) {
	switch r.Kind {
	case RemoteKindProxy:
		return []byte(r.Target.String()), nil
	case RemoteKindService:
		return []byte(fmt.Sprintf("service|%d", r.ServiceID)), nil
	case RemoteKindRProxy:
		return []byte(fmt.Sprintf("rproxy|%s|%d", r.Target, r.ServiceID)), nil
	default:
		return nil, fmt.Errorf("remote: unknown kind %d", r.Kind)
	}
}

// UnmarshalText parses the form MarshalText produces.
func (r *Remote) UnmarshalText(b []byte) error {
	s := string(b)
	if !strings.Contains(s, "|") {
		t, err := ParseTarget(s)
		if err != nil {
			return fmt.Errorf("remote: %w", err)
		}
		*r = ProxyRemote(t)
		return nil
	}

	parts := splitTrim(s, "|")
	switch parts[0] {
	case "service":
		if len(parts) != 2 {
			return fmt.Errorf("remote: malformed service entry %q", s)
		}
		id, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return fmt.Errorf("remote: bad service id in %q: %w", s, err)
		}
		*r = ServiceRemote(uint32(id))
		return nil
	case "rproxy":
		if len(parts) != 3 {
			return fmt.Errorf("remote: malformed rproxy entry %q", s)
		}
		t, err := ParseTarget(parts[1])
		if err != nil {
			return fmt.Errorf("remote: %w", err)
		}
		id, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return fmt.Errorf("remote: bad service id in %q: %w", s, err)
		}
		*r = RProxyRemote(t, uint32(id))
		return nil
	default:
		return fmt.Errorf("remote: unknown kind tag %q in %q", parts[0], s)
	}
}

// tomlClientEntry mirrors ClientEntry with the base64/text encodings the
// table format uses for binary fields.
type tomlClientEntry struct {
	Name      string  `toml:"name"`
	PublicKey string  `toml:"pubkey"`
	FileHash  string  `toml:"hash,omitempty"`
	Remote    *Remote `toml:"remote,omitempty"`
}

// tomlServerConfig mirrors ServerConfig for go-toml/v2 marshaling. Keys and
// private keys are base64 strings; ServerConfig's fixed-size arrays would
// otherwise round-trip as TOML integer arrays, which nobody wants to edit
// by hand.
type tomlServerConfig struct {
	Host    string `toml:"host"`
	Port    uint16 `toml:"port"`
	Default Remote `toml:"remote"`

	PublicKey  string `toml:"pubkey"`
	PrivateKey string `toml:"prikey"`

	Clients []tomlClientEntry `toml:"clients"`
}

// EncodeServerConfig renders cfg in the human-readable table format.
func EncodeServerConfig(cfg ServerConfig) ([]byte, error) {
	t := tomlServerConfig{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Default:    cfg.Default,
		PublicKey:  base64.StdEncoding.EncodeToString(cfg.PublicKey[:]),
		PrivateKey: base64.StdEncoding.EncodeToString(cfg.PrivateKey[:]),
	}
	for _, c := range cfg.Clients {
		tc := tomlClientEntry{
			Name:      c.Name,
			PublicKey: base64.StdEncoding.EncodeToString(c.PublicKey[:]),
			Remote:    c.Remote,
		}
		if c.FileHash != nil {
			tc.FileHash = base64.StdEncoding.EncodeToString(c.FileHash[:])
		}
		t.Clients = append(t.Clients, tc)
	}
	return toml.Marshal(t)
}

// DecodeServerConfig parses the table-format server config and validates it.
// A missing port defaults to 8022 and a missing remote to the SOCKS5 proxy.
func DecodeServerConfig(data []byte) (ServerConfig, error) {
	t := tomlServerConfig{Port: 8022, Default: ProxyRemote(Target{Socks5: true})}
	if err := toml.Unmarshal(data, &t); err != nil {
		return ServerConfig{}, fmt.Errorf("parsing server config: %w", err)
	}

	cfg := ServerConfig{
		Host:    t.Host,
		Port:    t.Port,
		Default: t.Default,
	}
	if err := decodeKey32(t.PublicKey, &cfg.PublicKey); err != nil {
		return ServerConfig{}, fmt.Errorf("pubkey: %w", err)
	}
	if err := decodeKey32(t.PrivateKey, &cfg.PrivateKey); err != nil {
		return ServerConfig{}, fmt.Errorf("prikey: %w", err)
	}

	for _, tc := range t.Clients {
		c := ClientEntry{Name: tc.Name, Remote: tc.Remote}
		if err := decodeKey32(tc.PublicKey, &c.PublicKey); err != nil {
			return ServerConfig{}, fmt.Errorf("client %q: pubkey: %w", tc.Name, err)
		}
		if tc.FileHash != "" {
			var h [32]byte
			if err := decodeKey32(tc.FileHash, &h); err != nil {
				return ServerConfig{}, fmt.Errorf("client %q: hash: %w", tc.Name, err)
			}
			c.FileHash = &h
		}
		cfg.Clients = append(cfg.Clients, c)
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// decodeKey32 base64-decodes s into out. An empty s leaves out untouched
// (the zero key), tolerating a freshly-created server config that has no
// keypair yet -- gen-key's whole job is to fill that in.
func decodeKey32(s string, out *[32]byte) error {
	if s == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid base64: %w", err)
	}
	if len(b) != 32 {
		return fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return nil
}
