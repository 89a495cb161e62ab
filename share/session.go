package dbgpshare

import (
	"bufio"
	"net"
	"strconv"

	"github.com/jpillora/sizestr"
)

// EngineServer accepts debugger engine connections on the engine listen
// endpoint and dispatches a session handler for each (spec.md §4.3, §4.4).
type EngineServer struct {
	ShutdownHelper
	listener net.Listener
	registry *Registry
	host     string
	port     int
	Stats    ConnStats
}

// NewEngineServer creates an EngineServer. host is reported to the IDE as
// the init packet's "hostname" attribute when the engine does not supply
// one (spec.md §4.3 step 6).
func NewEngineServer(logger Logger, registry *Registry, host string, port int) *EngineServer {
	s := &EngineServer{registry: registry, host: host, port: port}
	s.InitShutdownHelper(logger.Fork("engine"), s)
	return s
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (s *EngineServer) HandleOnceShutdown(completionErr error) error {
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && completionErr == nil {
			completionErr = err
		}
	}
	return completionErr
}

// Listen binds addr, activating the server. It returns once the listen
// socket is open, before any connections are accepted; Addr() is valid
// immediately afterward.
func (s *EngineServer) Listen(addr string) error {
	return s.DoOnceActivate(
		func() error {
			l, err := net.Listen("tcp", addr)
			if err != nil {
				return s.Errorf("listen failed: %s", err)
			}
			s.listener = l
			s.ILogf("listening for debugger connections on %s...", addr)
			return nil
		},
		true,
	)
}

// Serve accepts debugger engine connections until shut down.
func (s *EngineServer) Serve() error {
	go s.acceptLoop()
	return s.WaitShutdown()
}

// ListenAndServe binds addr and accepts debugger engine connections until
// shut down.
func (s *EngineServer) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Addr returns the listener's bound address. Valid only after Listen
// returns successfully.
func (s *EngineServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *EngineServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.DLogf("engine accept loop exiting: %s", err)
			return
		}
		s.Stats.New()
		s.Stats.Open()
		s.DLogf("incoming debugger connection from %s", conn.RemoteAddr())
		go func() {
			defer s.Stats.Close()
			s.handleSession(conn)
		}()
	}
}

// handleSession runs the AWAITING_INIT -> FORWARDING state machine of
// spec.md §4.3 for a single accepted engine connection.
func (s *EngineServer) handleSession(conn net.Conn) {
	engineHost := hostOf(conn.RemoteAddr())
	r := bufio.NewReader(conn)

	body, err := ReadFrame(r)
	if err != nil {
		s.ELogf("protocol error reading init packet from %s: %s", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	doc, root, err := ParseInitPacket(body)
	if err != nil {
		s.ELogf("%s: %s", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	idekey := root.SelectAttrValue("idekey", "")
	entry, ok := s.registry.Lookup(idekey)
	if !ok {
		s.WLogf("no server with IDE key [%s], aborting request", idekey)
		conn.Close()
		return
	}

	root.CreateAttr("proxied", engineHost)

	ideAddr := net.JoinHostPort(entry.Endpoint.Host, strconv.Itoa(entry.Endpoint.Port))
	ideConn, err := net.Dial("tcp", ideAddr)
	if err != nil {
		s.WLogf("unable to connect to server with IDE key [%s], aborting and removing server: %s", idekey, err)
		s.registry.Remove(idekey)
		conn.Close()
		return
	}

	if root.SelectAttrValue("hostname", "") == "" {
		root.CreateAttr("hostname", s.host)
	}

	out, err := SerializeInitPacket(doc)
	if err != nil {
		s.ELogf("failed to serialize init packet: %s", err)
		conn.Close()
		ideConn.Close()
		return
	}

	if err := WriteFrame(ideConn, out); err != nil {
		s.ELogf("failed to forward init packet to IDE: %s", err)
		conn.Close()
		ideConn.Close()
		return
	}

	s.ILogf("session established idekey=%s engine=%s ide=%s", idekey, conn.RemoteAddr(), ideAddr)

	// FORWARDING: splice the two sockets until either side closes. Any
	// bytes already buffered ahead of the frame boundary by r must still
	// reach the IDE, so reads go through r rather than conn directly.
	ideSock, _ := NewSocketConn(s.Logger, ideConn)
	sent, received := Pipe(&bufferedConn{Conn: conn, r: r}, ideSock)

	s.DLogf("session idekey=%s closed: sent=%s received=%s", idekey,
		sizestr.ToString(sent), sizestr.ToString(received))
}

// bufferedConn adapts a net.Conn whose initial bytes have already been
// consumed into a bufio.Reader back into a plain io.ReadWriteCloser, so
// the forwarder sees exactly the bytes that follow the init frame.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
