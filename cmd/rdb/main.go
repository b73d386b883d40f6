// Program rdb serves and inspects remote debugging sessions.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/rdb"
	"github.com/creachadair/rdb/client"
	"github.com/creachadair/rdb/config"
	"golang.org/x/term"
)

var flags struct {
	Config   string        `flag:"config,Configuration file path (default is the user config directory)"`
	Host     string        `flag:"host,Server host address"`
	Port     int           `flag:"port,Server port (default 1235)"`
	Passcode string        `flag:"passcode,Session passcode (- to prompt)"`
	Verbose  bool          `flag:"v,Enable verbose logging"`
	TLS      bool          `flag:"tls,Connect to the server using TLS"`
	CAFile   string        `flag:"ca,PEM file of CA certificates to trust for TLS"`
	Timeout  time.Duration `flag:"timeout,default=30s,Timeout for each client request"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Usage:    "<command> [arguments]",
		Help:     "Serve and inspect remote debugging sessions.",
		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			serveCommand(),
			{
				Name: "threads",
				Help: "List the running threads of the server.",
				Run:  runThreads,
			},
			{
				Name:  "stack",
				Usage: "<thread-id>",
				Help:  "Print the stack trace of a thread, outermost call first.",
				Run:   runStack,
			},
			{
				Name:  "locals",
				Usage: "<thread-id>",
				Help:  "Print the local bindings of a thread.",
				Run:   runBindings(false),
			},
			{
				Name:  "globals",
				Usage: "<thread-id>",
				Help:  "Print the global bindings visible to a thread.",
				Run:   runBindings(true),
			},
			{
				Name:  "eval",
				Usage: "<thread-id> <code>...",
				Help: `Run code in the context of a thread.

The code is queued to the thread and runs the next time the thread yields to
its evaluator. The command returns as soon as the server accepts the request.
Multiple code arguments are joined with newlines.`,
				Run: runEval,
			},
			dashboardCommand(),
			frameCommand(),
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// loadConfig loads the configuration file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	path := flags.Config
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flags.Host != "" {
		cfg.Host = flags.Host
	}
	if flags.Port != 0 {
		cfg.Port = flags.Port
	}
	if flags.Verbose {
		cfg.Verbose = true
	}
	switch flags.Passcode {
	case "":
	case "-":
		pass, err := readPasscode()
		if err != nil {
			return nil, err
		}
		cfg.Passcode = pass
	default:
		cfg.Passcode = flags.Passcode
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	setupLogging(cfg.Verbose)
	return cfg, nil
}

func readPasscode() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("cannot prompt for passcode: stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Passcode: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passcode: %w", err)
	}
	return string(pass), nil
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// clientOptions returns client options for the given configuration.
func clientOptions(cfg *config.Config) (client.Options, error) {
	opts := client.Options{Passcode: cfg.Passcode, Timeout: flags.Timeout}
	if !flags.TLS && flags.CAFile == "" {
		return opts, nil
	}
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if flags.CAFile != "" {
		pem, err := os.ReadFile(flags.CAFile)
		if err != nil {
			return opts, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return opts, fmt.Errorf("no certificates found in %q", flags.CAFile)
		}
		tc.RootCAs = pool
	}
	opts.TLS = tc
	return opts, nil
}

// dialAddr returns the address a client should dial to reach the server
// configured by cfg.
func dialAddr(cfg *config.Config) string {
	if cfg.Host == "" {
		c := *cfg
		c.Host = "localhost"
		return c.Addr()
	}
	return cfg.Addr()
}

// dial loads the configuration and connects to the server.
func dial(ctx context.Context) (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	c, err := client.Dial(ctx, dialAddr(cfg), opts)
	if err != nil {
		return nil, err
	}
	if cfg.Verbose {
		c.LogFrames(func(fi rdb.FrameInfo) { slog.Debug("frame", "info", fi) })
	}
	return c, nil
}
