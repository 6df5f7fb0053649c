// Package noiseik performs the Noise_IK_25519_ChaChaPoly_BLAKE2s handshake
// over a raw net.Conn and wraps the result in a net.Conn that transparently
// encrypts and fragments application traffic.
//
// IK means the initiator already knows the responder's static public key
// and transmits its own static key as part of the first handshake message,
// authenticating both sides in a single round trip.
package noiseik

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"

	"github.com/flynn/noise"
)

// CipherSuite fixes the three primitives portguard's handshake is built on:
// X25519 for the DH, ChaCha20-Poly1305 for the AEAD, BLAKE2s for the hash
// and HKDF. Both peers must agree on exactly this suite; there is no
// negotiation.
var CipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// ErrUnauthorizedPeer is returned by Accept when the initiator's static key
// is rejected by the caller-supplied authorization callback.
var ErrUnauthorizedPeer = errors.New("noiseik: peer static key not authorized")

// GenerateKeypair produces a fresh X25519 static keypair suitable for use as
// either a client's or a server's long-term identity.
func GenerateKeypair() (noise.DHKey, error) {
	return CipherSuite.GenerateKeypair(rand.Reader)
}

// Initiate performs the IK handshake as initiator over conn, authenticating
// to the peer identified by remotePub with the given local static keypair.
// It fails if the responder does not control remotePub's private key.
func Initiate(conn net.Conn, local noise.DHKey, remotePub [32]byte) (*Stream, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   CipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		StaticKeypair: local,
		PeerStatic:    remotePub[:],
	})
	if err != nil {
		return nil, fmt.Errorf("noiseik: build initiator state: %w", err)
	}

	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("noiseik: write message 1: %w", err)
	}
	if err := writeFrame(conn, msg1); err != nil {
		return nil, fmt.Errorf("noiseik: send message 1: %w", err)
	}

	msg2, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("noiseik: read message 2: %w", err)
	}
	_, csSend, csRecv, err := hs.ReadMessage(nil, msg2)
	if err != nil {
		return nil, fmt.Errorf("noiseik: process message 2: %w", err)
	}
	if csSend == nil || csRecv == nil {
		return nil, fmt.Errorf("noiseik: handshake did not complete after message 2")
	}

	return newStream(conn, csSend, csRecv, hs.PeerStatic()), nil
}

// Accept performs the IK handshake as responder over conn, using local as
// the server's static keypair. authorize is invoked with the initiator's
// claimed static public key as soon as it is known (after message 1, before
// message 2 is sent) and must return true for the handshake to proceed.
func Accept(conn net.Conn, local noise.DHKey, authorize func(peerPub [32]byte) bool) (*Stream, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   CipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     false,
		StaticKeypair: local,
	})
	if err != nil {
		return nil, fmt.Errorf("noiseik: build responder state: %w", err)
	}

	msg1, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("noiseik: read message 1: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		return nil, fmt.Errorf("noiseik: process message 1: %w", err)
	}

	var peerPub [32]byte
	copy(peerPub[:], hs.PeerStatic())
	if authorize != nil && !authorize(peerPub) {
		return nil, ErrUnauthorizedPeer
	}

	msg2, csRecv, csSend, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("noiseik: write message 2: %w", err)
	}
	if csSend == nil || csRecv == nil {
		return nil, fmt.Errorf("noiseik: handshake did not complete after message 2")
	}
	if err := writeFrame(conn, msg2); err != nil {
		return nil, fmt.Errorf("noiseik: send message 2: %w", err)
	}

	return newStream(conn, csSend, csRecv, hs.PeerStatic()), nil
}
