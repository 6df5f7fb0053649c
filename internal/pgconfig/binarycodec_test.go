package pgconfig

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeClientConfigRoundTrip(t *testing.T) {
	cases := []ClientConfig{
		{
			ServerAddr: "tunnel.example.com:9443",
			Target:     Target{Addr: "127.0.0.1:22"},
			Reverse:    false,
			ClientKey:  ClientKey{HasKeypass: false, Private: bytes.Repeat([]byte{0x11}, 32)},
		},
		{
			ServerAddr: "10.0.0.1:9443",
			Target:     Target{Socks5: true},
			Reverse:    true,
			ClientKey:  ClientKey{HasKeypass: true, Private: bytes.Repeat([]byte{0x22}, 48)},
		},
	}
	for i := range cases {
		cases[i].ServerPub = [32]byte{}
		for j := range cases[i].ServerPub {
			cases[i].ServerPub[j] = byte(i*7 + j)
		}
	}

	for i, c := range cases {
		enc, err := EncodeClientConfig(c)
		if err != nil {
			t.Fatalf("case %d: encode: %v", i, err)
		}
		if len(enc) > ConfBufLen {
			t.Fatalf("case %d: encoded length %d exceeds ConfBufLen", i, len(enc))
		}

		padded := make([]byte, ConfBufLen)
		copy(padded, enc)

		got, err := DecodeClientConfig(padded)
		if err != nil {
			t.Fatalf("case %d: decode: %v", i, err)
		}
		if got.ServerAddr != c.ServerAddr {
			t.Errorf("case %d: ServerAddr = %q, want %q", i, got.ServerAddr, c.ServerAddr)
		}
		if got.Target != c.Target {
			t.Errorf("case %d: Target = %+v, want %+v", i, got.Target, c.Target)
		}
		if got.Reverse != c.Reverse {
			t.Errorf("case %d: Reverse = %v, want %v", i, got.Reverse, c.Reverse)
		}
		if got.ServerPub != c.ServerPub {
			t.Errorf("case %d: ServerPub mismatch", i)
		}
		if got.ClientKey.HasKeypass != c.ClientKey.HasKeypass {
			t.Errorf("case %d: HasKeypass = %v, want %v", i, got.ClientKey.HasKeypass, c.ClientKey.HasKeypass)
		}
		if !bytes.Equal(got.ClientKey.Private, c.ClientKey.Private) {
			t.Errorf("case %d: Private mismatch", i)
		}
	}
}

func TestEncodeClientConfigRejectsOversizeKey(t *testing.T) {
	c := ClientConfig{
		ServerAddr: "s:1",
		ClientKey:  ClientKey{Private: make([]byte, 70000)},
	}
	if _, err := EncodeClientConfig(c); err == nil {
		t.Fatal("expected error for oversize client key, got nil")
	}
}

func TestDecodeClientConfigRejectsBadVersion(t *testing.T) {
	data := make([]byte, ConfBufLen)
	data[0] = 0xFF
	if _, err := DecodeClientConfig(data); err == nil {
		t.Fatal("expected error for unsupported version, got nil")
	}
}
