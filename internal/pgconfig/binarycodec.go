package pgconfig

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ConfBufLen is the fixed size of the reserved section the binary patcher
// stamps a ClientConfig into. The encoded form must never exceed it.
const ConfBufLen = 1024

const clientConfigVersion = 1

// maxShortString bounds the length-prefixed strings used in the binary
// codec; both fields in practice are well under this.
const maxShortString = 255

// EncodeClientConfig serializes c into the compact, fixed-budget binary
// codec used for the client-embedded configuration. The result is never
// longer than ConfBufLen; callers that need exactly ConfBufLen bytes
// (the binary patcher) zero-pad the remainder themselves.
func EncodeClientConfig(c ClientConfig) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(clientConfigVersion)

	if err := writeShortString(&buf, c.ServerAddr); err != nil {
		return nil, fmt.Errorf("server_addr: %w", err)
	}

	if c.Target.Socks5 {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
		if err := writeShortString(&buf, c.Target.Addr); err != nil {
			return nil, fmt.Errorf("target: %w", err)
		}
	}

	writeBool(&buf, c.Reverse)
	buf.Write(c.ServerPub[:])

	writeBool(&buf, c.ClientKey.HasKeypass)
	if len(c.ClientKey.Private) > 0xFFFF {
		return nil, fmt.Errorf("client private key material too long: %d bytes", len(c.ClientKey.Private))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(c.ClientKey.Private)))
	buf.Write(lenBuf[:])
	buf.Write(c.ClientKey.Private)

	if buf.Len() > ConfBufLen {
		return nil, fmt.Errorf("encoded ClientConfig is %d bytes, exceeds reserved length %d", buf.Len(), ConfBufLen)
	}
	return buf.Bytes(), nil
}

// DecodeClientConfig deserializes a ClientConfig from data, which may carry
// zero-padding trailing the logical encoding (as it always does when read
// straight out of a patched executable's reserved section).
func DecodeClientConfig(data []byte) (ClientConfig, error) {
	r := bytes.NewReader(data)
	var c ClientConfig

	version, err := r.ReadByte()
	if err != nil {
		return c, fmt.Errorf("truncated ClientConfig: %w", err)
	}
	if version != clientConfigVersion {
		return c, fmt.Errorf("unsupported ClientConfig version %d", version)
	}

	c.ServerAddr, err = readShortString(r)
	if err != nil {
		return c, fmt.Errorf("server_addr: %w", err)
	}

	targetTag, err := r.ReadByte()
	if err != nil {
		return c, fmt.Errorf("truncated target tag: %w", err)
	}
	switch targetTag {
	case 1:
		c.Target = Target{Socks5: true}
	case 0:
		addr, err := readShortString(r)
		if err != nil {
			return c, fmt.Errorf("target: %w", err)
		}
		c.Target = Target{Addr: addr}
	default:
		return c, fmt.Errorf("unknown target tag %d", targetTag)
	}

	c.Reverse, err = readBool(r)
	if err != nil {
		return c, fmt.Errorf("reverse flag: %w", err)
	}

	if _, err := r.Read(c.ServerPub[:]); err != nil {
		return c, fmt.Errorf("server_pub: %w", err)
	}

	c.ClientKey.HasKeypass, err = readBool(r)
	if err != nil {
		return c, fmt.Errorf("has_keypass: %w", err)
	}

	var lenBuf [2]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return c, fmt.Errorf("client key length: %w", err)
	}
	keyLen := binary.BigEndian.Uint16(lenBuf[:])
	c.ClientKey.Private = make([]byte, keyLen)
	if _, err := r.Read(c.ClientKey.Private); err != nil {
		return c, fmt.Errorf("client key: %w", err)
	}

	return c, nil
}

func writeShortString(buf *bytes.Buffer, s string) error {
	if len(s) > maxShortString {
		return fmt.Errorf("string %q exceeds %d bytes", s, maxShortString)
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readShortString(r *bytes.Reader) (string, error) {
	l, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, l)
	if l > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}
