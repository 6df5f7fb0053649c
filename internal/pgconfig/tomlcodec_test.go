package pgconfig

import "testing"

func TestRemoteTextRoundTrip(t *testing.T) {
	cases := []Remote{
		ProxyRemote(Target{Addr: "127.0.0.1:8080"}),
		ProxyRemote(Target{Socks5: true}),
		ServiceRemote(7),
		RProxyRemote(Target{Addr: "localhost:3000"}, 7),
	}
	for i, r := range cases {
		text, err := r.MarshalText()
		if err != nil {
			t.Fatalf("case %d: marshal: %v", i, err)
		}
		var got Remote
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("case %d: unmarshal %q: %v", i, text, err)
		}
		if got != r {
			t.Errorf("case %d: round trip mismatch: got %+v, want %+v", i, got, r)
		}
	}
}

func TestServerConfigTomlRoundTrip(t *testing.T) {
	hash := [32]byte{1, 2, 3}
	cfg := ServerConfig{
		Host:    "0.0.0.0",
		Port:    9443,
		Default: ProxyRemote(Target{Socks5: true}),
		Clients: []ClientEntry{
			{Name: "alice", PublicKey: [32]byte{4, 5, 6}},
			{
				Name:      "bob-provider",
				PublicKey: [32]byte{7, 8, 9},
				FileHash:  &hash,
				Remote:    remotePtr(RProxyRemote(Target{Addr: "localhost:8080"}, 3)),
			},
		},
	}
	for i := range cfg.PublicKey {
		cfg.PublicKey[i] = byte(i)
	}
	for i := range cfg.PrivateKey {
		cfg.PrivateKey[i] = byte(255 - i)
	}

	data, err := EncodeServerConfig(cfg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeServerConfig(data)
	if err != nil {
		t.Fatalf("decode: %v\n--- data ---\n%s", err, data)
	}

	if got.Host != cfg.Host || got.Port != cfg.Port {
		t.Errorf("host/port mismatch: got %s:%d, want %s:%d", got.Host, got.Port, cfg.Host, cfg.Port)
	}
	if got.Default != cfg.Default {
		t.Errorf("default mismatch: got %+v, want %+v", got.Default, cfg.Default)
	}
	if got.PublicKey != cfg.PublicKey || got.PrivateKey != cfg.PrivateKey {
		t.Errorf("key mismatch")
	}
	if len(got.Clients) != len(cfg.Clients) {
		t.Fatalf("client count: got %d, want %d", len(got.Clients), len(cfg.Clients))
	}
	for i := range cfg.Clients {
		if got.Clients[i].Name != cfg.Clients[i].Name {
			t.Errorf("client %d name mismatch", i)
		}
		if got.Clients[i].PublicKey != cfg.Clients[i].PublicKey {
			t.Errorf("client %d public key mismatch", i)
		}
	}
	if got.Clients[1].FileHash == nil || *got.Clients[1].FileHash != hash {
		t.Errorf("client 1 file hash mismatch")
	}
	if got.Clients[1].Remote == nil || *got.Clients[1].Remote != *cfg.Clients[1].Remote {
		t.Errorf("client 1 remote override mismatch")
	}
}

func TestDecodeServerConfigToleratesMissingKeys(t *testing.T) {
	// A freshly created config file has no keypair yet -- gen-key's job is
	// to fill one in. DecodeServerConfig must accept it rather than reject
	// the bootstrap file outright.
	data := []byte("host = \"0.0.0.0\"\nport = 8022\nremote = \"socks5\"\n")
	cfg, err := DecodeServerConfig(data)
	if err != nil {
		t.Fatalf("decode bootstrap config: %v", err)
	}
	if cfg.PublicKey != ([32]byte{}) || cfg.PrivateKey != ([32]byte{}) {
		t.Errorf("expected zero keys on a bootstrap config, got pub=%x priv=%x", cfg.PublicKey, cfg.PrivateKey)
	}
}

func TestServerConfigValidateRequiresFileHashForRProxy(t *testing.T) {
	cfg := ServerConfig{
		Default: ProxyRemote(Target{Socks5: true}),
		Clients: []ClientEntry{
			{
				Name:      "noprovider",
				PublicKey: [32]byte{1},
				Remote:    remotePtr(RProxyRemote(Target{Addr: "x:1"}, 1)),
			},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for rproxy client without file hash")
	}
}

func remotePtr(r Remote) *Remote { return &r }
