package dbgpshare

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Error codes for the registration control channel (spec.md §4.2).
const (
	ENoError              = 0
	EParseError           = 1
	EInvalidOptions       = 3
	EUnimplementedCommand = 4
)

// RegistrationServer accepts IDE registration connections on the IDE
// listen endpoint and dispatches a short-lived handler for each (spec.md
// §4.2, §4.4).
type RegistrationServer struct {
	ShutdownHelper
	listener   net.Listener
	registry   *Registry
	engineHost string
	enginePort int
	Stats      ConnStats
}

// NewRegistrationServer creates a RegistrationServer. engineHost/enginePort
// are echoed back in a successful proxyinit reply as the proxy's
// engine-side address (spec.md §4.2).
func NewRegistrationServer(logger Logger, registry *Registry, engineHost string, enginePort int) *RegistrationServer {
	s := &RegistrationServer{
		registry:   registry,
		engineHost: engineHost,
		enginePort: enginePort,
	}
	s.InitShutdownHelper(logger.Fork("ide"), s)
	return s
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (s *RegistrationServer) HandleOnceShutdown(completionErr error) error {
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
func (s *RegistrationServer) Listen(addr string) error {
	return s.DoOnceActivate(
		func() error {
			l, err := net.Listen("tcp", addr)
			if err != nil {
				return s.Errorf("listen failed: %s", err)
			}
			s.listener = l
			s.ILogf("listening for registration requests on %s...", addr)
			return nil
		},
		true,
	)
}

// Serve accepts IDE registration connections until shut down.
func (s *RegistrationServer) Serve() error {
	go s.acceptLoop()
	return s.WaitShutdown()
}

// ListenAndServe binds addr and accepts IDE registration connections until
// shut down.
func (s *RegistrationServer) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Addr returns the listener's bound address. Valid only after Listen
// returns successfully.
func (s *RegistrationServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *RegistrationServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.DLogf("registration accept loop exiting: %s", err)
			return
		}
		s.Stats.New()
		s.Stats.Open()
		s.DLogf("incoming registration connection from %s", conn.RemoteAddr())
		go s.handleConnection(conn)
	}
}

// handleConnection reads up to one command from conn, applies it, replies,
// then always closes the connection (spec.md §4.2: registration
// connections are short-lived).
func (s *RegistrationServer) handleConnection(conn net.Conn) {
	defer s.Stats.Close()
	defer conn.Close()

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return
	}

	command, args, ok := parseCommandLine(string(buf[:n]))
	if !ok {
		s.sendError(conn, "proxyerror", "Failed to parse command.", EParseError)
		return
	}

	s.DLogf("command = %s, args = %v", command, args)

	switch command {
	case "proxyinit":
		s.handleProxyInit(conn, args)
	case "proxystop":
		s.handleProxyStop(conn, args)
	default:
		s.sendError(conn, "proxyerror", fmt.Sprintf("Unknown command [%s]", command), EUnimplementedCommand)
	}
}

// parseCommandLine strips surrounding whitespace and trailing NULs, then
// splits on the first space: the first token is the command, the rest is
// a space-separated argument list (spec.md §4.2).
func parseCommandLine(line string) (command string, args []string, ok bool) {
	line = strings.TrimRight(strings.TrimSpace(line), "\x00")
	if line == "" {
		return "", nil, false
	}
	fields := strings.SplitN(line, " ", 2)
	command = fields[0]
	if len(fields) == 2 {
		args = strings.Fields(fields[1])
	}
	return command, args, true
}

// parseShortOpts recognizes "-x value" pairs for the single-letter options
// in allowed; anything else is ignored, mirroring getopt.getopt's
// permissive behavior on the original implementation.
func parseShortOpts(args []string, allowed string) map[byte]string {
	result := make(map[byte]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) == 2 && arg[0] == '-' && strings.IndexByte(allowed, arg[1]) >= 0 {
			if i+1 < len(args) {
				result[arg[1]] = args[i+1]
				i++
			}
		}
	}
	return result
}

func (s *RegistrationServer) handleProxyInit(conn net.Conn, args []string) {
	opts := parseShortOpts(args, "pkm")
	idekey := opts['k']
	multi := opts['m']

	if idekey == "" {
		s.sendError(conn, "proxyinit", "No IDE key defined for proxy.", EInvalidOptions)
		return
	}

	portStr, hasPort := opts['p']
	if !hasPort || portStr == "" {
		s.sendError(conn, "proxyinit", "No port defined for proxy.", EInvalidOptions)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.sendError(conn, "proxyinit", "No port defined for proxy.", EInvalidOptions)
		return
	}

	peerHost := hostOf(conn.RemoteAddr())

	entry := RegistryEntry{Endpoint: Endpoint{Host: peerHost, Port: port}, Multi: multi}
	if !s.registry.InsertIfAbsent(idekey, entry) {
		s.sendError(conn, "proxyinit", "IDE Key already exists.", EInvalidOptions)
		return
	}

	s.ILogf("registered idekey=%s ide=%s:%d", idekey, peerHost, port)

	body := fmt.Sprintf(
		xmlDeclaration+`<proxyinit success="1" idekey="%s" address="%s" port="%d"/>`,
		idekey, s.engineHost, s.enginePort,
	)
	s.send(conn, body)
}

func (s *RegistrationServer) handleProxyStop(conn net.Conn, args []string) {
	opts := parseShortOpts(args, "k")
	idekey := opts['k']
	if idekey == "" {
		s.sendError(conn, "proxystop", "No IDE key.", EInvalidOptions)
		return
	}

	s.registry.Remove(idekey)
	s.ILogf("unregistered idekey=%s", idekey)

	body := fmt.Sprintf(xmlDeclaration+`<proxystop success="1" idekey="%s"/>`, idekey)
	s.send(conn, body)
}

func (s *RegistrationServer) send(conn net.Conn, body string) {
	if err := WriteFrame(conn, body); err != nil {
		s.DLogf("write failed: %s", err)
	}
}

// sendError sends a command-scoped error frame. Per spec.md §4.2, after
// any error reply the proxy closes the connection; handleConnection's
// deferred Close() takes care of that.
func (s *RegistrationServer) sendError(conn net.Conn, command, message string, code int) {
	body := fmt.Sprintf(
		xmlDeclaration+`<%s success="0"><error id="%d"><message>%s</message></error></%s>`,
		command, code, message, command,
	)
	s.ELogf("%s", message)
	s.send(conn, body)
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
