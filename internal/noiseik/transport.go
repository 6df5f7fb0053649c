package noiseik

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
)

// maxFramePayload bounds the plaintext handed to a single Encrypt call so
// the resulting ciphertext (plaintext + 16-byte AEAD tag) still fits the
// 2-byte length prefix used to frame both handshake and transport messages.
const maxFramePayload = 65535 - 16

// Stream is a net.Conn wrapping a raw connection with a completed Noise IK
// transport: every Write is sealed (fragmented if necessary) and framed,
// every Read unseals and reassembles frames transparently.
type Stream struct {
	conn net.Conn

	send   *noise.CipherState
	recv   *noise.CipherState
	peer   []byte
	readMu sync.Mutex
	pend   bytes.Buffer

	writeMu sync.Mutex
}

func newStream(conn net.Conn, send, recv *noise.CipherState, peer []byte) *Stream {
	return &Stream{conn: conn, send: send, recv: recv, peer: append([]byte(nil), peer...)}
}

// PeerStatic returns the authenticated peer's static public key.
func (s *Stream) PeerStatic() []byte {
	return s.peer
}

// Write encrypts p, fragmenting into maxFramePayload-sized chunks if
// necessary, and writes each resulting ciphertext as a length-prefixed
// frame on the underlying connection.
func (s *Stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxFramePayload {
			chunk = chunk[:maxFramePayload]
		}
		ciphertext, err := s.send.Encrypt(nil, nil, chunk)
		if err != nil {
			return total, fmt.Errorf("noiseik: encrypt: %w", err)
		}
		if err := writeFrame(s.conn, ciphertext); err != nil {
			return total, fmt.Errorf("noiseik: write frame: %w", err)
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// Read returns decrypted application bytes, filling p from any buffered
// remainder of a previously decrypted frame before reading a new one.
func (s *Stream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.pend.Len() == 0 {
		ciphertext, err := readFrame(s.conn)
		if err != nil {
			return 0, err
		}
		plaintext, err := s.recv.Decrypt(nil, nil, ciphertext)
		if err != nil {
			return 0, fmt.Errorf("noiseik: decrypt: %w", err)
		}
		s.pend.Write(plaintext)
	}
	return s.pend.Read(p)
}

// Close closes the underlying connection.
func (s *Stream) Close() error { return s.conn.Close() }

// CloseWrite half-closes the underlying connection's write side when it
// supports doing so, signaling end-of-stream to the peer without tearing
// down the read side. Otherwise it closes the connection entirely.
func (s *Stream) CloseWrite() error {
	if hc, ok := s.conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return s.conn.Close()
}

func (s *Stream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Deadlines are delegated to the underlying connection. Because a single
// Read can need several underlying reads (length prefix, then ciphertext),
// a deadline bounds the whole operation rather than any individual syscall.
func (s *Stream) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *Stream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *Stream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

// writeFrame writes a 2-byte big-endian length prefix followed by data.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > 0xFFFF {
		return fmt.Errorf("noiseik: frame of %d bytes exceeds 65535-byte limit", len(data))
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
