package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relmatic/mergeflow/internal/automerge"
	"github.com/relmatic/mergeflow/internal/cfg"
	"github.com/relmatic/mergeflow/internal/commitdiff"
	"github.com/relmatic/mergeflow/internal/forge"
	"github.com/relmatic/mergeflow/internal/githubclt"
	"github.com/relmatic/mergeflow/internal/gitlabclt"
	"github.com/relmatic/mergeflow/internal/logfields"
	"github.com/relmatic/mergeflow/internal/notify"
	"github.com/relmatic/mergeflow/internal/progression"
	"github.com/relmatic/mergeflow/internal/retry"
	"github.com/relmatic/mergeflow/internal/statestore"
	"github.com/relmatic/mergeflow/internal/strategy"
)

const appName = "mergeflow"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught, terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func startHTTPServer(listenAddr string, mux *http.ServeMux) {
	httpServer := http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating http server",
			logfields.Event("http_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := httpServer.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down http server failed",
				logfields.Event("http_server_termination_failed"),
				zap.Error(err),
			)
		}
	})

	go func() {
		defer panicHandler()

		logger.Info(
			"http server started",
			logfields.Event("http_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool

	Mode       *string
	DryRun     *bool
	Inspect    *bool
	MergePairs *string
	NoResume   *bool
	ListenAddr *string
	LogLevel   *string
}

var args arguments

const defConfigFile = "/etc/mergeflow/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the mergeflow configuration file",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
		Mode: pflag.StringP(
			"mode",
			"m",
			string(progression.ModeFull),
			"repositories to process: full, lib-only or service-only",
		),
		DryRun: pflag.Bool(
			"dry-run",
			false,
			"log write operations instead of executing them, do not persist state",
		),
		Inspect: pflag.Bool(
			"inspect",
			false,
			"report the commits pending on every edge and exit without merging",
		),
		MergePairs: pflag.String(
			"merge",
			"",
			"merge the given merge requests directly and exit, format: <repository>:<iid>,<repository>:<iid>,...",
		),
		NoResume: pflag.Bool(
			"no-resume",
			false,
			"discard the state of an interrupted run and start fresh",
		),
		ListenAddr: pflag.String(
			"listen-addr",
			"",
			"address of the status and metrics http server, overrides the configuration file",
		),
		LogLevel: pflag.String(
			"log-level",
			"info",
			"log level: debug, info, warn or error",
		),
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nPropagate commits through branch flows by driving merge requests.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration file", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(*args.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s\n", *args.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func mustInitSentry(config *cfg.Config) {
	if config.Sentry.DSN == "" {
		return
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         config.Sentry.DSN,
		Environment: config.Sentry.Environment,
		Release:     appName + "-" + Version,
	})
	exitOnErr("could not initialize sentry", err)

	goodbye.Register(func(context.Context, os.Signal) {
		sentry.Flush(2 * time.Second)
	})
}

func mustInitForgeClient(config *cfg.Config) forge.Client {
	var clt forge.Client

	switch config.Forge {
	case "gitlab":
		gitlabClt, err := gitlabclt.New(config.GitLab.URL, config.GitLab.APIToken)
		exitOnErr("could not initialize gitlab client", err)

		clt = gitlabClt

	case "github":
		clt = githubclt.New(config.GitHub.APIToken)

	default:
		fmt.Fprintf(os.Stderr, "unsupported forge: %q, expected \"gitlab\" or \"github\"\n", config.Forge)
		os.Exit(2)
	}

	if *args.DryRun {
		return forge.NewDryClient(clt, logger)
	}

	return clt
}

// mustInitNotifier assembles the notification sinks. Events are always
// written to the log, webhooks are skipped under dry-run so that test runs
// do not page anybody.
func mustInitNotifier(config *cfg.Config, retryer *retry.Retryer) *notify.Multi {
	sinks := []notify.Sink{notify.NewLogSink()}

	for _, notifierCfg := range config.Notifiers {
		if *args.DryRun {
			logger.Info(
				"dry-run: webhook notifications disabled",
				zap.String("notify_url", notifierCfg.WebhookURL),
				logfields.Event("webhook_notifications_disabled"),
			)

			continue
		}

		webhook, err := notify.NewWebhook(notifierCfg.WebhookURL, notifierCfg.FilterQuery, retryer)
		exitOnErr(fmt.Sprintf("could not initialize webhook notifier: %s", notifierCfg.WebhookURL), err)

		sinks = append(sinks, webhook)
	}

	return notify.NewMulti(sinks...)
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)
	mustInitSentry(config)

	mode, err := progression.ParseMode(*args.Mode)
	exitOnErr("could not parse --mode argument", err)

	timing, err := config.Automation.Timing()
	exitOnErr(fmt.Sprintf("invalid automation settings in configuration file: %s", *args.ConfigFile), err)

	registry, err := strategy.RegistryFromCfg(config)
	exitOnErr(fmt.Sprintf("invalid flow configuration in configuration file: %s", *args.ConfigFile), err)

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("forge", config.Forge),
		zap.String("state_file", config.StateFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("gitlab_url", config.GitLab.URL),
		zap.String("gitlab_api_token", hide(config.GitLab.APIToken)),
		zap.String("github_api_token", hide(config.GitHub.APIToken)),
		zap.String("sentry_dsn", hide(config.Sentry.DSN)),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("mode", string(mode)),
		zap.Bool("dry_run", *args.DryRun),
		zap.Int("repository_count", len(config.Repositories)),
		zap.Int("notifier_count", len(config.Notifiers)),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	retryer := retry.NewRetryer()
	goodbye.Register(func(context.Context, os.Signal) {
		retryer.Stop()
	})

	clt := mustInitForgeClient(config)
	differ := commitdiff.New(clt, retryer)
	manager := automerge.NewManager(
		clt,
		retryer,
		config.Automation.RetryAttempts,
		timing.RetryBackoff,
		config.Automation.RunLabel,
		config.Automation.AutoMerge,
	)

	engine := progression.New(progression.Options{
		Registry: registry,
		Client:   clt,
		Differ:   differ,
		Manager:  manager,
		Store:    statestore.New(config.StateFile),
		Retryer:  retryer,
		Notifier: mustInitNotifier(config, retryer),

		RunLabel: config.Automation.RunLabel,
		Mode:     mode,

		Resume: !*args.NoResume,
		DryRun: *args.DryRun,

		Progressive:    config.Automation.Progressive,
		SkipEmptyEdges: config.Automation.SkipEmptyEdges,
		AutoMerge:      config.Automation.AutoMerge,

		Concurrency:       config.Automation.Concurrency,
		PollInterval:      timing.PollInterval,
		PipelineTimeout:   timing.PipelineTimeout,
		DeploymentTimeout: timing.DeploymentTimeout,
	})

	listenAddr := *args.ListenAddr
	if listenAddr == "" {
		listenAddr = config.HTTPListenAddr
	}

	if listenAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/status", engine.HTTPHandlerStatus)
		mux.Handle("/metrics", promhttp.Handler())

		startHTTPServer(listenAddr, mux)
	}

	ctx, cancel := context.WithCancel(context.Background())
	goodbye.Register(func(context.Context, os.Signal) {
		cancel()
	})

	if *args.Inspect {
		report := engine.Inspect(ctx)
		fmt.Print(report.String())

		goodbye.Exit(ctx, 0)
		return
	}

	var summary *progression.Summary

	if *args.MergePairs != "" {
		pairs, err := progression.ParseMergePairs(*args.MergePairs)
		exitOnErr("could not parse --merge argument", err)

		summary = engine.DirectMergeBypass(ctx, pairs)
	} else {
		summary = engine.Run(ctx)
	}

	fmt.Print(summary.String())

	if summary.ExitCode() != 0 && config.Sentry.DSN != "" {
		sentry.CaptureMessage(fmt.Sprintf(
			"%s run %s finished with failed repositories",
			appName, summary.RunID,
		))
	}

	goodbye.Exit(ctx, summary.ExitCode())
}
