package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"airdeck/internal/backend"
	"airdeck/internal/capture"
	"airdeck/internal/config"
	"airdeck/internal/dashboard"
	"airdeck/internal/ics"
	appLog "airdeck/internal/log"
	"airdeck/internal/model"
	"airdeck/internal/refresh"
	"airdeck/internal/request"
	"airdeck/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath  string
	listen      string
	logLevel    string
	once        bool
	snapshot    string
	snapshotOut string
}

func main() {
	if err := run(); err != nil {
		appLog.Error("airdeck failed", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}

	// CLI flags override the file.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if flags.snapshot != "" && !model.Kind(flags.snapshot).Valid() {
		return fmt.Errorf("--snapshot: unknown kind %q", flags.snapshot)
	}

	appLog.Info("airdeck starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"backend", backend.RedactURL(conf.Backend.BaseURL),
		"max_retries", conf.Requests.MaxRetries,
		"window_days", conf.Calendar.WindowDays,
		"direction", conf.Calendar.Direction,
		"refresh", conf.RefreshCron,
		"schedule_count", len(conf.Schedules),
		"once", flags.once,
		"snapshot", flags.snapshot,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rlm := request.New(conf.RequestConfig())
	svc := dashboard.New(dashboard.Options{
		Backend: backend.NewClient(backend.Options{
			BaseURL:     conf.Backend.BaseURL,
			BearerToken: conf.Backend.BearerToken,
			Timeout:     conf.BackendTimeout(),
		}, rlm),
		Feeds:        ics.NewFetcher(nil, rlm),
		Sources:      feedSources(conf.Schedules),
		Requests:     rlm,
		WindowDays:   conf.Calendar.WindowDays,
		LoadMoreDays: conf.Calendar.LoadMoreDays,
		Direction:    conf.Direction(),
	})
	defer svc.Close()

	previewPath := ""
	if flags.snapshot != "" {
		previewPath = flags.snapshotOut
	}
	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, svc, previewPath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	p := &pipeline{svc: svc, listen: conf.Listen, kind: model.Kind(flags.snapshot), out: flags.snapshotOut}

	if flags.once {
		return runOnce(ctx, srv, p)
	}
	return serve(ctx, srv, conf.RefreshCron, p)
}

func parseFlags(args []string) (flagConfig, error) {
	var cfg flagConfig

	fs := pflag.NewFlagSet("airdeck", pflag.ContinueOnError)
	fs.StringVarP(&cfg.configPath, "config", "c", "/etc/airdeck/config.yaml", "path to config file (created with defaults if missing)")
	fs.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	fs.StringVar(&cfg.logLevel, "log-level", "", "debug, info, warn or error (overrides config if set)")
	fs.BoolVar(&cfg.once, "once", false, "refresh once (and snapshot, if requested) then exit")
	fs.StringVar(&cfg.snapshot, "snapshot", "", "carousel kind to capture as PNG after each refresh (flights or tickets)")
	fs.StringVar(&cfg.snapshotOut, "snapshot-out", "/var/lib/airdeck/preview.png", "where the snapshot PNG is written")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return cfg, nil
}

func feedSources(feeds []config.FeedConfig) []ics.Source {
	sources := make([]ics.Source, 0, len(feeds))
	for _, f := range feeds {
		if f.URL == "" {
			continue
		}
		id := f.ID
		if id == "" {
			if f.Name != "" {
				id = f.Name
			} else {
				id = f.URL
			}
		}
		sources = append(sources, ics.Source{ID: id, URL: f.URL})
	}
	return sources
}

// pipeline is the refresh target: reload every carousel, then capture the
// requested one. It needs the HTTP server up for the capture.
type pipeline struct {
	svc    *dashboard.Service
	listen string
	kind   model.Kind
	out    string
}

func (p *pipeline) RefreshAll(ctx context.Context) error {
	err := p.svc.RefreshAll(ctx)
	if p.kind == "" {
		return err
	}

	u, uerr := capture.CarouselURL(p.listen, p.kind)
	if uerr != nil {
		return errors.Join(err, uerr)
	}
	// A failed refresh still leaves a page worth capturing.
	return errors.Join(err, capture.Snapshot(ctx, capture.Options{URL: u, OutputPath: p.out}))
}

// startServer binds srv.Addr before returning, so the pages are reachable
// as soon as it does. Errors from Serve arrive on the channel.
func startServer(srv *http.Server) (<-chan error, error) {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
}

func runOnce(ctx context.Context, srv *http.Server, p *pipeline) error {
	if p.kind == "" {
		return p.RefreshAll(ctx)
	}
	if _, err := startServer(srv); err != nil {
		return err
	}
	defer shutdown(srv)

	return p.RefreshAll(ctx)
}

func serve(ctx context.Context, srv *http.Server, spec string, p *pipeline) error {
	sched, err := refresh.New(spec, p)
	if err != nil {
		return err
	}

	errCh, err := startServer(srv)
	if err != nil {
		return err
	}

	// First load before the first tick; failures are already logged.
	_ = sched.RunNow(ctx)
	sched.Start(ctx)

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err = <-errCh:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sched.Stop(stopCtx)
	shutdown(srv)

	appLog.Info("airdeck exiting")
	return err
}
