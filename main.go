package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bitranox/check-zpools-sub001/internal/config"
	"github.com/bitranox/check-zpools-sub001/internal/daemon"
	"github.com/bitranox/check-zpools-sub001/internal/history"
	"github.com/bitranox/check-zpools-sub001/internal/server"
	"github.com/bitranox/check-zpools-sub001/pkg/alerts"
	"github.com/bitranox/check-zpools-sub001/pkg/monitor"
	"github.com/bitranox/check-zpools-sub001/pkg/zpool"
)

// Version can be overridden at build time via -ldflags.
var Version = "dev"

const defaultConfigPath = "/etc/check-zpools/config.yaml"

// exit code 3 means the check itself could not run: bad configuration,
// failed acquisition, unusable output. 0/1/2 are reserved for the
// overall severity.
const exitUnknown = 3

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	switch args[0] {
	case "check":
		return runCheck(args[1:])
	case "daemon":
		return runDaemon(args[1:])
	case "version":
		fmt.Println(Version)
		return 0
	case "help", "-h", "--help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: check-zpools <command> [flags]

Commands:
  check    run one check cycle and exit with the overall severity (0/1/2)
  daemon   run the monitoring loop until SIGINT/SIGTERM
  version  print the version

Flags (check, daemon):
  -config PATH   configuration file (default `+defaultConfigPath+`)
  -json          check only: print the cycle result as JSON
`)
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "configuration file")
	jsonOut := fs.Bool("json", false, "print the cycle result as JSON")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUnknown
	}
	logger := newLogger(cfg)

	runner := newRunner(logger, cfg, nil, nil)
	res, _, err := runner.RunCycle()
	if err != nil {
		return exitUnknown
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else {
		printResult(res)
	}
	return res.Overall.ExitCode()
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUnknown
	}
	logger := newLogger(cfg)
	logger.Info().Str("version", Version).Str("config", *configPath).Msg("check-zpools starting")

	var hist *history.Log
	if cfg.History.Path != "" {
		hist, err = history.Open(logger, cfg.History.Path, cfg.History.RetentionDays)
		if err != nil {
			// history is advisory, alerting still works without it
			logger.Error().Err(err).Msg("event history unavailable")
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	metrics := server.NewMetrics(Version)
	runner := newRunner(logger, cfg, hist, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if cfg.HTTP.Listen != "" {
		router := server.NewRouter(logger, server.Options{
			Version: Version,
			Source:  runner,
			History: hist,
			Metrics: metrics,
		})
		go func() {
			if err := server.Serve(ctx, logger, cfg.HTTP.Listen, router); err != nil {
				logger.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	if err := runner.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("monitoring loop failed")
		return 1
	}
	return 0
}

func newRunner(logger zerolog.Logger, cfg config.Config, hist *history.Log, metrics *server.Metrics) *daemon.Runner {
	store := alerts.NewStore(cfg.State.Path, logger)

	var notifier alerts.Notifier
	if d := alerts.NewDispatcher(logger, cfg.Notify.Email, cfg.Notify.Webhook, cfg.Notify.Ntfy); d.HasChannels() {
		notifier = d
	}
	engine := alerts.NewEngine(logger, store, notifier, alerts.Options{
		ResendInterval: cfg.ResendInterval(),
		Recovery:       cfg.Notify.Recovery,
	})
	engine.Load()

	source := zpool.NewAcquirer(cfg.Zpool.ListCommand, cfg.Zpool.StatusCommand, cfg.AcquireTimeout())
	return daemon.NewRunner(logger, cfg, source, engine, hist, metrics)
}

func newLogger(cfg config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return log.Logger.Level(cfg.LogLevel()).With().Timestamp().Logger()
}

func printResult(res monitor.CheckResult) {
	for _, p := range res.Pools {
		scrub := "never scrubbed"
		if p.ScrubInProgress {
			scrub = "scrub in progress"
		} else if p.LastScrub != nil {
			scrub = "last scrub " + p.LastScrub.Format("2006-01-02")
		}
		fmt.Printf("%-12s %-9s %5.1f%% of %s used, %s\n",
			p.Name, p.Health, p.PercentUsed, zpool.FormatBytes(p.SizeBytes), scrub)
	}
	for _, iss := range res.Issues {
		fmt.Printf("%s %s/%s: %s\n", iss.Severity, iss.Pool, iss.Category, iss.Message)
	}
	fmt.Println("overall:", res.Overall)
}
