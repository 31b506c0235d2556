package cli

import (
	"context"
	"errors"
	"flag"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hubcap/pkg/api"
	"github.com/platinummonkey/hubcap/pkg/async"
	"github.com/platinummonkey/hubcap/pkg/config"
	"github.com/platinummonkey/hubcap/pkg/observability"
	"github.com/platinummonkey/hubcap/pkg/plugins"
)

// Version is reported to OpenTelemetry as the service version.
var Version = "dev"

func newServeCommand() *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Serve a registry over HTTP",
		Flags:       flag.NewFlagSet("serve", flag.ContinueOnError),
		Run:         runServe,
	}

	cmd.Flags.String("config", "", "Configuration file (HUBCAP_* variables apply on top)")
	cmd.Flags.String("addr", "", "Listen address (overrides the configuration)")
	cmd.Flags.Bool("watch", false, "Re-inspect directory repositories when they change")

	return cmd
}

func runServe(args []string) error {
	cmd := newServeCommand()
	cmd.Flags.SetOutput(stderr)
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(cmd.Flags.Lookup("config").Value.String())
	if err != nil {
		return err
	}
	if addr := cmd.Flags.Lookup("addr").Value.String(); addr != "" {
		cfg.Server.Addr = addr
	}
	if cmd.Flags.Lookup("watch").Value.String() == "true" {
		cfg.Watch.Enabled = true
	}

	return serve(context.Background(), cfg)
}

// serve runs the server until ctx is done or the process receives SIGINT or SIGTERM.
func serve(ctx context.Context, cfg *config.Config) error {
	log := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Insecure:       cfg.Tracing.Insecure,
	}, log)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(promReg)

	in, err := openIntegrations(ctx, cfg, log)
	if err != nil {
		return errors.Join(err, observability.ShutdownOTel(context.Background(), providers))
	}

	reg, err := newRegistry(ctx, cfg, log, metrics, in.observers()...)
	if err != nil {
		log.WithError(err).Warn("Some repositories could not be added")
	}

	var apiOpts []api.Option
	if in.history != nil {
		apiOpts = append(apiOpts, api.WithHistory(in.history))
	}
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewServer(reg, promReg, log, apiOpts...).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdown := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers)
	})

	scheduler, err := newScheduler(cfg, reg, in, log)
	if err != nil {
		return errors.Join(err, in.Close(), shutdown.Shutdown())
	}
	scheduler.Start(ctx)
	// Jobs and subscriptions stop before the integrations they use are closed.
	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()
	var subDone <-chan struct{}
	if in.publisher != nil {
		subDone, err = in.publisher.SubscribeRefresh(subCtx, func(ctx context.Context) {
			if err := reg.RefreshAll(ctx); err != nil {
				log.WithError(err).Warn("Requested refresh failed")
			}
		})
		if err != nil {
			return errors.Join(err, scheduler.Stop(context.Background()), in.Close(), shutdown.Shutdown())
		}
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		err := scheduler.Stop(ctx)
		cancelSub()
		if subDone != nil {
			<-subDone
		}
		return errors.Join(err, in.Close())
	})

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if cfg.Watch.Enabled {
		watcher, err := plugins.NewWatcher(reg, cfg.Watch.Debounce, nil)
		if err != nil {
			return errors.Join(err, shutdown.Shutdown())
		}
		log.WithField("directories", watcher.Watched()).Info("Watching repositories")
		done := async.SafeGoNoError(watchCtx, log, 0, "watch repositories", func(ctx context.Context) {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Watcher stopped")
			}
		})
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			cancelWatch()
			<-done
			return nil
		})
	}

	runCtx, stopRun := context.WithCancelCause(ctx)
	defer stopRun(nil)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("Serving registry")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stopRun(err)
		}
	}()

	err = shutdown.WaitForShutdown(runCtx)
	if cause := context.Cause(runCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return errors.Join(cause, err)
	}
	return err
}

// newScheduler schedules the configured refresh and history cleanup.
func newScheduler(cfg *config.Config, reg *plugins.Registry, in *integrations, log logrus.FieldLogger) (*plugins.Scheduler, error) {
	scheduler := plugins.NewScheduler(log)
	if cfg.Refresh.Schedule != "" {
		if err := scheduler.AddRefresh(cfg.Refresh.Schedule, reg); err != nil {
			return nil, err
		}
	}
	if in.history != nil && cfg.History.Retention > 0 {
		retention := cfg.History.Retention
		err := scheduler.Add(cfg.History.CleanupSchedule, "history cleanup", func(ctx context.Context) error {
			_, err := in.history.Cleanup(ctx, retention)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return scheduler, nil
}
