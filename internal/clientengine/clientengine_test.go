package clientengine

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/portguard/portguard/internal/keys"
	"github.com/portguard/portguard/internal/muxsession"
	"github.com/portguard/portguard/internal/noiseik"
	"github.com/portguard/portguard/internal/pgconfig"
	"github.com/portguard/portguard/internal/pgshare"
)

func TestForwardModeSplicesLocalConnToServer(t *testing.T) {
	serverKey, err := keys.Generate()
	if err != nil {
		t.Fatalf("server keypair: %v", err)
	}
	clientKey, err := keys.Generate()
	if err != nil {
		t.Fatalf("client keypair: %v", err)
	}

	serverLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer serverLn.Close()

	echoed := make(chan []byte, 1)
	go func() {
		conn, err := serverLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		stream, err := noiseik.Accept(conn, serverKey, func([32]byte) bool { return true })
		if err != nil {
			return
		}
		buf := make([]byte, 64)
		n, _ := stream.Read(buf)
		echoed <- append([]byte(nil), buf[:n]...)
		stream.Write(buf[:n])
	}()

	var serverPub, clientPub [32]byte
	copy(serverPub[:], serverKey.Public)
	copy(clientPub[:], clientKey.Public)

	cfg := pgconfig.ClientConfig{
		ServerAddr: serverLn.Addr().String(),
		Target:     pgconfig.Target{Addr: "127.0.0.1:1"},
		Reverse:    false,
		ServerPub:  serverPub,
		ClientKey:  pgconfig.ClientKey{Private: clientKey.Private},
	}

	logger := pgshare.NewLogger("test", pgshare.LogLevelError)
	eng, err := New(cfg, "", nil, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenPort := 18812
	go eng.Run(ctx, listenPort)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:18812")
	if err != nil {
		t.Fatalf("dial forward listener: %v", err)
	}
	defer conn.Close()

	msg := []byte("ping\n")
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-echoed:
		if !bytes.Equal(got, msg) {
			t.Errorf("server saw %q, want %q", got, msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received spliced bytes")
	}

	buf := make([]byte, len(msg))
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read echo back: %v", err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Errorf("client read back %q, want %q", buf[:n], msg)
	}
}

func TestReverseSessionRejectsDuplicateSignal(t *testing.T) {
	serverKey, err := keys.Generate()
	if err != nil {
		t.Fatalf("server keypair: %v", err)
	}
	clientKey, err := keys.Generate()
	if err != nil {
		t.Fatalf("client keypair: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		stream, err := noiseik.Accept(conn, serverKey, func([32]byte) bool { return true })
		if err != nil {
			return
		}
		digest := make([]byte, 32)
		stream.Read(digest)
		stream.Write([]byte{replyDuplicate})
	}()

	var serverPub [32]byte
	copy(serverPub[:], serverKey.Public)

	cfg := pgconfig.ClientConfig{
		ServerAddr: ln.Addr().String(),
		Target:     pgconfig.Target{Addr: "127.0.0.1:1"},
		Reverse:    true,
		ServerPub:  serverPub,
		ClientKey:  pgconfig.ClientKey{Private: clientKey.Private},
	}

	logger := pgshare.NewLogger("test", pgshare.LogLevelError)
	eng, err := New(cfg, "", nil, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	err = eng.reverseSession(context.Background())
	if err != errDuplicateProvider {
		t.Fatalf("got %v, want errDuplicateProvider", err)
	}
}

func TestReverseSessionServesProviderSubStreams(t *testing.T) {
	serverKey, err := keys.Generate()
	if err != nil {
		t.Fatalf("server keypair: %v", err)
	}
	clientKey, err := keys.Generate()
	if err != nil {
		t.Fatalf("client keypair: %v", err)
	}

	targetLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen target: %v", err)
	}
	defer targetLn.Close()
	go func() {
		conn, err := targetLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n])
	}()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen server: %v", err)
	}
	defer ln.Close()

	result := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		stream, err := noiseik.Accept(conn, serverKey, func([32]byte) bool { return true })
		if err != nil {
			return
		}
		digest := make([]byte, 32)
		stream.Read(digest)
		stream.Write([]byte{replyAccepted})

		sess, err := muxsession.NewServerSide(stream)
		if err != nil {
			return
		}
		defer sess.Close()
		sub, err := sess.OpenStream()
		if err != nil {
			return
		}
		defer sub.Close()
		msg := []byte("ping\n")
		sub.Write(msg)
		buf := make([]byte, len(msg))
		n, _ := sub.Read(buf)
		result <- append([]byte(nil), buf[:n]...)
	}()

	var serverPub [32]byte
	copy(serverPub[:], serverKey.Public)

	cfg := pgconfig.ClientConfig{
		ServerAddr: ln.Addr().String(),
		Target:     pgconfig.Target{Addr: targetLn.Addr().String()},
		Reverse:    true,
		ServerPub:  serverPub,
		ClientKey:  pgconfig.ClientKey{Private: clientKey.Private},
	}

	logger := pgshare.NewLogger("test", pgshare.LogLevelError)
	eng, err := New(cfg, "", nil, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go eng.reverseSession(ctx)

	select {
	case got := <-result:
		if string(got) != "ping\n" {
			t.Errorf("got %q, want %q", got, "ping\n")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reverse sub-stream was never serviced")
	}
}
