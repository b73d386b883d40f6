package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/rdb"
	"github.com/creachadair/rdb/client"
	"github.com/creachadair/rdb/config"
	"github.com/creachadair/rdb/dashboard"
	"github.com/creachadair/rdb/inspect"
	"github.com/creachadair/rdb/lisp"
	"github.com/creachadair/rdb/listener"
	"github.com/creachadair/taskgroup"
)

var serveFlags struct {
	Demo      bool   `flag:"demo,Run a sample thread to inspect"`
	Dashboard string `flag:"dashboard,Also serve the HTML dashboard at this address"`
	Cert      string `flag:"cert,TLS certificate file (PEM)"`
	Key       string `flag:"key,TLS private key file (PEM)"`
	Evaluator string `flag:"evaluator,Evaluator for eval requests (assign or lisp)"`
}

func serveCommand() *command.C {
	return &command.C{
		Name: "serve",
		Help: `Serve the remote debugging protocol.

The server accepts one session at a time. Without --demo, the only thread is
the server's own listener, so this is mostly useful for trying out clients.
Programs that want to be inspected embed the listener and inspect packages
directly.`,
		SetFlags: command.Flags(flax.MustBind, &serveFlags),
		Run:      runServe,
	}
}

func dashboardCommand() *command.C {
	var dflags struct {
		Addr string `flag:"addr,default=localhost:8080,Dashboard listen address"`
	}
	return &command.C{
		Name:     "dashboard",
		Help:     "Serve an HTML dashboard for a remote server.",
		SetFlags: command.Flags(flax.MustBind, &dflags),
		Run: func(env *command.Env) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			copts, err := clientOptions(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(env.Context(), os.Interrupt)
			defer stop()
			return serveDashboard(ctx, dflags.Addr, dialAddr(cfg), copts)
		},
	}
}

func runServe(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments: %q", env.Args)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.Cert != "" || serveFlags.Key != "" {
		cfg.Cert, cfg.Key = serveFlags.Cert, serveFlags.Key
	}
	if serveFlags.Evaluator != "" {
		cfg.Evaluator = serveFlags.Evaluator
	}
	if serveFlags.Dashboard != "" {
		cfg.Dashboard = serveFlags.Dashboard
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(env.Context(), os.Interrupt)
	defer stop()

	log := slog.Default()
	reg := inspect.NewRegistry(&inspect.Options{
		NewEvaluator: newEvaluator(cfg.Evaluator),
		Logger:       log,
	})
	setGlobals(reg.Globals(), cfg)
	if serveFlags.Demo {
		t := reg.Go("demo", demoThread(ctx))
		log.Info("started demo thread", "id", t.ID())
	}

	lst, err := listen(cfg)
	if err != nil {
		return err
	}
	log.Info("listening", "addr", lst.Addr().String(), "tls", cfg.UseTLS())
	if cfg.InsecurePasscode() && !isLoopback(cfg.Host) {
		log.Warn("the default passcode is exposed beyond this host", "host", cfg.Host)
	}
	pass := rdb.NewPasscode(cfg.Passcode)
	defer pass.Destroy()

	return serve(ctx, reg, lst, pass, cfg, log)
}

// serve runs the protocol listener as a tracked thread, and the dashboard
// if one is configured, until ctx ends.
func serve(ctx context.Context, reg *inspect.Registry, lst net.Listener, pass *rdb.Passcode, cfg *config.Config, log *slog.Logger) error {
	g := taskgroup.New(nil)

	var loopErr error
	t := reg.Go("rdb-listener", func(*inspect.Thread) {
		loopErr = listener.Loop(ctx, listener.NetAccepter(lst), listener.Options{
			Provider:         reg,
			Passcode:         pass,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadTimeout:      cfg.ReadTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			Logger:           log,
		})
	})
	log.Debug("started listener thread", "id", t.ID())

	if cfg.Dashboard != "" {
		copts, err := clientOptions(cfg)
		if err == nil && cfg.UseTLS() && copts.TLS == nil {
			copts.TLS, err = selfTLS(cfg.Cert)
		}
		if err != nil {
			lst.Close()
			<-t.Done()
			return err
		}
		g.Go(func() error {
			return serveDashboard(ctx, cfg.Dashboard, dialAddr(cfg), copts)
		})
	}

	<-t.Done()
	derr := g.Wait()
	if errors.Is(loopErr, context.Canceled) {
		loopErr = nil
	}
	return errors.Join(loopErr, derr)
}

// selfTLS returns a client TLS configuration that trusts the server's own
// certificate, for the dashboard to reach the server in the same process.
func selfTLS(certFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %q", certFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func listen(cfg *config.Config) (net.Listener, error) {
	if !cfg.UseTLS() {
		return listener.Listen(cfg.Addr(), nil)
	}
	tc, err := listener.TLSConfig(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, err
	}
	return listener.Listen(cfg.Addr(), tc)
}

// serveDashboard serves the dashboard at addr for the protocol server at
// target, until ctx ends.
func serveDashboard(ctx context.Context, addr, target string, copts client.Options) error {
	srv := &http.Server{
		Addr: addr,
		Handler: dashboard.New(func(ctx context.Context) (dashboard.Source, error) {
			return client.Dial(ctx, target, copts)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	})
	defer stop()

	slog.Info("serving dashboard", "addr", addr, "target", target)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// isLoopback reports whether host names only the local machine. An empty
// host listens on all interfaces.
func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func newEvaluator(name string) func() inspect.Evaluator {
	if name == "lisp" {
		return func() inspect.Evaluator { return lisp.New() }
	}
	return nil // default
}

func setGlobals(g *inspect.Bindings, cfg *config.Config) {
	host, _ := os.Hostname()
	g.Set("hostname", host)
	g.Set("pid", os.Getpid())
	g.Set("args", os.Args)
	g.Set("evaluator", cfg.Evaluator)
	g.Set("started", time.Now().Round(time.Second))
}

// demoThread returns the function for a sample thread that counts once per
// second and publishes its state as local bindings.
func demoThread(ctx context.Context) func(*inspect.Thread) {
	return func(t *inspect.Thread) {
		start := time.Now()
		for n := 0; ; n++ {
			t.Locals().Set("n", n)
			t.Locals().Set("uptime", time.Since(start).Round(time.Second))
			if err := t.Sleep(ctx, time.Second); err != nil {
				return
			}
		}
	}
}
