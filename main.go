package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	dbgp "github.com/sammck-go/dbgpproxy/share"
)

var help = `
  Usage: dbgpproxy [options]

  Options:

    -ide, IDE registration listen address (host:port). Defaults to
    127.0.0.1:9001.

    -dbg, Debugger engine listen address (host:port). Defaults to
    127.0.0.1:9000.

    -l, Log verbosity. Accepted values are CRITICAL, ERROR, WARN, INFO
    (default), DEBUG.

    -status, Optional host:port to serve a read-only /healthz and /varz
    HTTP status endpoint on. Disabled by default.

    -pid, Generate a pid file (dbgpproxy.pid) in the current working
    directory.

  Version: ` + dbgp.BuildVersion + `

  Read more:
    https://github.com/sammck-go/dbgpproxy

`

// cliLogLevels mirrors the original implementation's log-level dictionary
// (bin/dbgpproxy.py's log_levels), which is the surface the CLI promises
// in spec.md §6 even though this module's own Logger uses a finer-grained
// level set internally.
var cliLogLevels = map[string]dbgp.LogLevel{
	"CRITICAL": dbgp.LogLevelFatal,
	"ERROR":    dbgp.LogLevelError,
	"WARN":     dbgp.LogLevelWarning,
	"INFO":     dbgp.LogLevelInfo,
	"DEBUG":    dbgp.LogLevelDebug,
}

func sigHandler(ctx context.Context, cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		fmt.Fprintln(os.Stderr, "caught signal, shutting down...")
	case <-ctx.Done():
	}
	signal.Stop(sig)
	cancel()
}

func generatePidFile() error {
	pid := []byte(strconv.Itoa(os.Getpid()))
	return os.WriteFile("dbgpproxy.pid", pid, 0644)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run implements the CLI entry point. Exit codes follow spec.md §6: 0
// normal, 1 configuration error, 2 runtime exception, 3 dependency
// failure.
func run(args []string) int {
	flags := flag.NewFlagSet("dbgpproxy", flag.ContinueOnError)
	ide := flags.String("ide", "127.0.0.1:9001", "")
	dbgAddr := flags.String("dbg", "127.0.0.1:9000", "")
	loglevel := flags.String("l", "INFO", "")
	status := flags.String("status", "", "")
	pid := flags.Bool("pid", false, "")

	flags.Usage = func() {
		fmt.Print(help)
	}
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if _, _, err := net.SplitHostPort(*ide); err != nil {
		fmt.Fprintln(os.Stderr, "Invalid IDE parameter.")
		return 1
	}
	if _, _, err := net.SplitHostPort(*dbgAddr); err != nil {
		fmt.Fprintln(os.Stderr, "Invalid debug parameter.")
		return 1
	}

	level, ok := cliLogLevels[strings.ToUpper(*loglevel)]
	if !ok {
		fmt.Fprintln(os.Stderr, "Invalid log level.")
		return 1
	}

	if *pid {
		if err := generatePidFile(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write pid file: %s\n", err)
			return 3
		}
	}

	proxy, err := dbgp.NewProxy(dbgp.Config{
		IDEAddr:    *ide,
		EngineAddr: *dbgAddr,
		StatusAddr: *status,
		LogLevel:   level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sigHandler(ctx, cancel)

	if err := proxy.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Exception: %s\n", err)
		return 2
	}
	return 0
}
