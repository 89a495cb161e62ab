package dbgpshare

import (
	"bufio"
	"bytes"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestEngineServer(t *testing.T, registry *Registry) *EngineServer {
	t.Helper()
	logger := NewLogger("test", LogLevelFatal)
	s := NewEngineServer(logger, registry, "proxyhost", 9000)
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %s", err)
	}
	go s.Serve()
	t.Cleanup(func() {
		s.StartShutdown(nil)
		s.WaitShutdown()
	})
	return s
}

// fakeIDE listens on loopback and accepts exactly one connection, handing it
// back on the returned channel.
func fakeIDE(t *testing.T) (addr string, conns <-chan net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			ch <- conn
		}
	}()
	t.Cleanup(func() { l.Close() })
	return l.Addr().String(), ch
}

func TestSessionForwardsAndMutatesInitPacket(t *testing.T) {
	registry := NewRegistry()
	ideAddr, ideConns := fakeIDE(t)
	ideHost, ideAddrPort, err := net.SplitHostPort(ideAddr)
	if err != nil {
		t.Fatalf("split ide addr: %s", err)
	}
	idePort, err := strconv.Atoi(ideAddrPort)
	if err != nil {
		t.Fatalf("parse ide port: %s", err)
	}
	registry.InsertIfAbsent("sesskey", RegistryEntry{Endpoint: Endpoint{Host: ideHost, Port: idePort}})

	s := newTestEngineServer(t, registry)

	engineConn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial engine server: %s", err)
	}
	defer engineConn.Close()

	initBody := `<?xml version="1.0" encoding="UTF-8"?><init idekey="sesskey" appid="1" language="PHP"/>`
	if err := WriteFrame(engineConn, initBody); err != nil {
		t.Fatalf("write init frame: %s", err)
	}

	var ideConn net.Conn
	select {
	case ideConn = <-ideConns:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for proxy to dial the fake IDE")
	}
	defer ideConn.Close()

	ideConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(ideConn)
	forwarded, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame on IDE side: %s", err)
	}
	if !strings.Contains(forwarded, `idekey="sesskey"`) {
		t.Errorf("expected idekey preserved, got %q", forwarded)
	}
	if !strings.Contains(forwarded, `proxied="127.0.0.1"`) {
		t.Errorf("expected proxied attribute naming the engine's address, got %q", forwarded)
	}
	if !strings.Contains(forwarded, `hostname="proxyhost"`) {
		t.Errorf("expected hostname attribute defaulted to the proxy's configured host, got %q", forwarded)
	}

	payload := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(payload)

	done := make(chan struct{})
	var got []byte
	go func() {
		buf := make([]byte, len(payload))
		ideConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n := 0
		for n < len(buf) {
			m, err := ideConn.Read(buf[n:])
			if err != nil {
				break
			}
			n += m
		}
		got = buf[:n]
		close(done)
	}()

	if _, err := engineConn.Write(payload); err != nil {
		t.Fatalf("write payload: %s", err)
	}

	<-done
	if !bytes.Equal(got, payload) {
		t.Errorf("forwarded payload mismatch: got %d bytes, want %d bytes", len(got), len(payload))
	}
}

func TestSessionUnregisteredKeyIsRejected(t *testing.T) {
	registry := NewRegistry()
	s := newTestEngineServer(t, registry)

	engineConn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer engineConn.Close()

	initBody := `<?xml version="1.0"?><init idekey="nosuchkey"/>`
	if err := WriteFrame(engineConn, initBody); err != nil {
		t.Fatalf("write init frame: %s", err)
	}

	engineConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := engineConn.Read(buf)
	if err == nil && n > 0 {
		t.Errorf("expected the connection to be closed with no reply, got %d bytes", n)
	}
}

func TestSessionSelfHealsWhenIDEUnreachable(t *testing.T) {
	registry := NewRegistry()

	unreachable, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	addr := unreachable.Addr().String()
	unreachable.Close()

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %s", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %s", err)
	}
	registry.InsertIfAbsent("deadkey", RegistryEntry{Endpoint: Endpoint{Host: host, Port: port}})

	s := newTestEngineServer(t, registry)

	engineConn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer engineConn.Close()

	initBody := `<?xml version="1.0"?><init idekey="deadkey"/>`
	if err := WriteFrame(engineConn, initBody); err != nil {
		t.Fatalf("write init frame: %s", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := registry.Lookup("deadkey"); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("expected deadkey to be removed from the registry after a failed IDE dial")
}
