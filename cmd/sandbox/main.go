package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jamox/tmc-sandbox/internal/environment"
	"github.com/jamox/tmc-sandbox/internal/gate"
	"github.com/jamox/tmc-sandbox/internal/metrics"
	"github.com/jamox/tmc-sandbox/internal/notify"
	"github.com/jamox/tmc-sandbox/internal/notify/natsnotif"
	"github.com/jamox/tmc-sandbox/internal/notify/sqsnotif"
	"github.com/jamox/tmc-sandbox/internal/paths"
	"github.com/jamox/tmc-sandbox/internal/runner"
)

func main() {
	cmd := &cli.Command{
		Name:  "sandbox",
		Usage: "single-tenant UML sandbox supervisor",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "sandbox.toml",
				Usage: "path to the TOML config file",
			},
		},
		Action: serve,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := environment.ReadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	installDir, err := os.Getwd()
	if err != nil {
		return err
	}

	p, err := paths.New(cfg.SandboxFilesRoot, installDir)
	if err != nil {
		return err
	}
	if err := p.CheckArtifacts(); err != nil {
		return err
	}

	met := metrics.New()

	extras, err := configuredNotifiers(ctx, cfg)
	if err != nil {
		return err
	}

	r, err := runner.New(cfg, p, log, met, extras...)
	if err != nil {
		return err
	}

	g := gate.New(r, p.AdmissionLock(), log, met)
	server := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: g.Router(),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info("listening", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)

		r.Kill()
		return nil
	})

	err = eg.Wait()
	met.LogSummary(log)
	return err
}

func newLogger(cfg *environment.Config) (*slog.Logger, error) {
	if cfg.DebugLogFile != "" {
		f, err := os.OpenFile(cfg.DebugLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open debug log file: %w", err)
		}
		return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})), nil
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo})), nil
}

func configuredNotifiers(ctx context.Context, cfg *environment.Config) ([]notify.Notifier, error) {
	var extras []notify.Notifier

	if cfg.Notify.Nats.Url != "" {
		n, err := natsnotif.New(cfg.Notify.Nats.Url, cfg.Notify.Nats.Subject)
		if err != nil {
			return nil, err
		}
		extras = append(extras, n)
	}
	if cfg.Notify.Sqs.QueueUrl != "" {
		n, err := sqsnotif.New(ctx, cfg.Notify.Sqs.QueueUrl, cfg.Notify.Sqs.Region)
		if err != nil {
			return nil, err
		}
		extras = append(extras, n)
	}

	return extras, nil
}
