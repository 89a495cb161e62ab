package dbgpshare

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

func newTestRegistrationServer(t *testing.T) (*RegistrationServer, *Registry) {
	t.Helper()
	registry := NewRegistry()
	logger := NewLogger("test", LogLevelFatal)
	s := NewRegistrationServer(logger, registry, "proxy-engine-host", 9000)
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %s", err)
	}
	go s.Serve()
	t.Cleanup(func() {
		s.StartShutdown(nil)
		s.WaitShutdown()
	})
	return s, registry
}

func sendRegistrationCommand(t *testing.T, addr string, line string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(line)); err != nil {
		t.Fatalf("write: %s", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	body, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %s", err)
	}
	return body
}

func TestRegistrationProxyInitSuccess(t *testing.T) {
	s, registry := newTestRegistrationServer(t)

	reply := sendRegistrationCommand(t, s.Addr().String(), "proxyinit -k mykey -p 9001")
	if !strings.Contains(reply, `success="1"`) {
		t.Errorf("expected success reply, got %q", reply)
	}
	if !strings.Contains(reply, `idekey="mykey"`) {
		t.Errorf("expected idekey echoed back, got %q", reply)
	}
	if !strings.Contains(reply, `address="proxy-engine-host"`) {
		t.Errorf("expected engine host echoed back, got %q", reply)
	}
	if !strings.Contains(reply, `port="9000"`) {
		t.Errorf("expected engine port echoed back, got %q", reply)
	}

	entry, ok := registry.Lookup("mykey")
	if !ok {
		t.Fatalf("expected mykey to be registered")
	}
	if entry.Endpoint.Port != 9001 {
		t.Errorf("registered port = %d, want 9001", entry.Endpoint.Port)
	}
}

func TestRegistrationProxyInitDuplicateKey(t *testing.T) {
	s, _ := newTestRegistrationServer(t)

	sendRegistrationCommand(t, s.Addr().String(), "proxyinit -k dupkey -p 9001")
	reply := sendRegistrationCommand(t, s.Addr().String(), "proxyinit -k dupkey -p 9002")

	if !strings.Contains(reply, `success="0"`) {
		t.Errorf("expected failure reply for duplicate key, got %q", reply)
	}
	if !strings.Contains(reply, `id="3"`) {
		t.Errorf("expected EInvalidOptions error code, got %q", reply)
	}
}

func TestRegistrationProxyInitMissingKey(t *testing.T) {
	s, _ := newTestRegistrationServer(t)
	reply := sendRegistrationCommand(t, s.Addr().String(), "proxyinit -p 9001")
	if !strings.Contains(reply, `success="0"`) {
		t.Errorf("expected failure reply for missing idekey, got %q", reply)
	}
}

func TestRegistrationProxyInitMissingPort(t *testing.T) {
	s, _ := newTestRegistrationServer(t)
	reply := sendRegistrationCommand(t, s.Addr().String(), "proxyinit -k onlykey")
	if !strings.Contains(reply, `success="0"`) {
		t.Errorf("expected failure reply for missing port, got %q", reply)
	}
}

func TestRegistrationUnknownCommand(t *testing.T) {
	s, _ := newTestRegistrationServer(t)
	reply := sendRegistrationCommand(t, s.Addr().String(), "bogus -k x")
	if !strings.Contains(reply, `id="4"`) {
		t.Errorf("expected EUnimplementedCommand error code, got %q", reply)
	}
}

func TestRegistrationProxyStopIdempotent(t *testing.T) {
	s, registry := newTestRegistrationServer(t)

	sendRegistrationCommand(t, s.Addr().String(), "proxyinit -k stopkey -p 9001")
	if _, ok := registry.Lookup("stopkey"); !ok {
		t.Fatalf("expected stopkey registered before proxystop")
	}

	reply1 := sendRegistrationCommand(t, s.Addr().String(), "proxystop -k stopkey")
	if !strings.Contains(reply1, `success="1"`) {
		t.Errorf("expected first proxystop to succeed, got %q", reply1)
	}
	if _, ok := registry.Lookup("stopkey"); ok {
		t.Errorf("expected stopkey removed after proxystop")
	}

	reply2 := sendRegistrationCommand(t, s.Addr().String(), "proxystop -k stopkey")
	if !strings.Contains(reply2, `success="1"`) {
		t.Errorf("expected repeated proxystop on an already-removed key to still succeed, got %q", reply2)
	}
}
