package dbgpshare

import (
	"context"
	"net"
	"strconv"
)

// Config holds the runtime configuration for a Proxy (spec.md §6). It is
// the only surface the CLI entry point (an external collaborator per
// spec.md §1) needs to populate.
type Config struct {
	// IDEAddr is the IDE registration listen address, "host:port".
	IDEAddr string
	// EngineAddr is the debugger engine listen address, "host:port".
	EngineAddr string
	// StatusAddr, if non-empty, enables the read-only status endpoint
	// (SPEC_FULL.md §3.1) on this "host:port".
	StatusAddr string
	// LogLevel is the verbosity applied to every component's logger.
	LogLevel LogLevel
}

// Proxy is the top-level reactor (spec.md §2, §4.4): it owns the Registry
// and couples the lifetimes of both listeners (and the optional status
// server) to its own shutdown.
type Proxy struct {
	ShutdownHelper
	config   Config
	registry *Registry
	ide      *RegistrationServer
	engine   *EngineServer
	status   *StatusServer
}

// NewProxy constructs a Proxy from config. It returns an error if either
// listen address is malformed.
func NewProxy(config Config) (*Proxy, error) {
	logger := NewLogger("dbgpproxy", config.LogLevel)

	engineHost, enginePort, err := splitHostPortInt(config.EngineAddr)
	if err != nil {
		return nil, logger.Errorf("invalid engine address %q: %s", config.EngineAddr, err)
	}
	if _, _, err := net.SplitHostPort(config.IDEAddr); err != nil {
		return nil, logger.Errorf("invalid IDE address %q: %s", config.IDEAddr, err)
	}

	p := &Proxy{config: config, registry: NewRegistry()}
	p.InitShutdownHelper(logger, p)

	p.ide = NewRegistrationServer(logger, p.registry, engineHost, enginePort)
	p.engine = NewEngineServer(logger, p.registry, engineHost, enginePort)
	if config.StatusAddr != "" {
		p.status = NewStatusServer(logger, p.registry, &p.ide.Stats, &p.engine.Stats)
	}

	return p, nil
}

// Run starts both listeners (and the status server, if configured) and
// blocks until ctx is cancelled or Close/Shutdown is called, then tears
// the whole tree down and returns the final completion status.
func (p *Proxy) Run(ctx context.Context) error {
	err := p.DoOnceActivate(
		func() error {
			p.ShutdownOnContext(ctx)

			p.AddShutdownChild(p.ide)
			p.AddShutdownChild(p.engine)
			if p.status != nil {
				p.AddShutdownChild(p.status)
			}

			p.ILogf("dbgpproxy %s starting", BuildVersion)

			go func() {
				if err := p.ide.ListenAndServe(p.config.IDEAddr); err != nil {
					p.ide.WLogf("registration listener stopped: %s", err)
				}
			}()
			go func() {
				if err := p.engine.ListenAndServe(p.config.EngineAddr); err != nil {
					p.engine.WLogf("engine listener stopped: %s", err)
				}
			}()
			if p.status != nil {
				go func() {
					if err := p.status.ListenAndServe(ctx, p.config.StatusAddr); err != nil {
						p.status.WLogf("status listener stopped: %s", err)
					}
				}()
			}

			return nil
		},
		true,
	)
	if err != nil {
		return err
	}
	return p.WaitShutdown()
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (p *Proxy) HandleOnceShutdown(completionErr error) error {
	p.DLogf("HandleOnceShutdown")
	return completionErr
}

func splitHostPortInt(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
