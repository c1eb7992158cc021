package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"calwatch/internal/config"
	"calwatch/internal/dispatch"
	"calwatch/internal/dispatch/redishost"
	"calwatch/internal/engine"
	"calwatch/internal/ics"
	appLog "calwatch/internal/log"
	"calwatch/internal/web"
	"calwatch/internal/zoned"
)

// flagConfig holds CLI flag values before config loading.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	flags := parseFlags()
	if env := os.Getenv("CALWATCH_CONFIG"); env != "" {
		flags.configPath = env
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if tz := os.Getenv("CALWATCH_TIMEZONE"); tz != "" {
		conf.Timezone = tz
	}

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("calwatch starting", "version", "0.1.0")

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if _, err := zoned.LoadLocation(conf.Timezone); err != nil {
		appLog.Error("invalid timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	unit, err := ics.ParseUnit(conf.EventLimit.Type)
	if err != nil {
		appLog.Error("invalid event limit", err)
		os.Exit(1)
	}
	window := ics.Window{Value: conf.EventLimit.Value, Unit: unit}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"trigger_interval", conf.TriggerCron,
		"window", window.String(),
		"calendar_count", len(conf.Calendars),
		"redis", conf.Redis.Address,
		"once", flags.once,
	)

	host, err := redishost.New(&redishost.Config{
		Address:       conf.Redis.Address,
		Password:      conf.Redis.Password,
		DB:            conf.Redis.DB,
		PoolSize:      conf.Redis.PoolSize,
		ChannelPrefix: conf.Redis.ChannelPrefix,
	})
	if err != nil {
		appLog.Error("failed to connect trigger host", err, "address", conf.Redis.Address)
		os.Exit(1)
	}
	defer host.Close()

	clock := zoned.SystemClock{}
	dispatcher := dispatch.New(host, host, dispatch.Options{
		Formats:  dispatch.DateFormats{Long: conf.DateFormat.Long, Time: conf.DateFormat.Time},
		Timezone: conf.Timezone,
		Clock:    clock,
	})

	sources := make([]ics.Source, 0, len(conf.Calendars))
	for _, c := range conf.Calendars {
		sources = append(sources, ics.Source{Name: c.Name, Path: c.Path})
	}

	eng := engine.New(engine.Options{
		Calendars: sources,
		Window:    window,
		Timezone:  conf.Timezone,
		Clock:     clock,
	}, ics.NewLoader(), dispatcher)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if flags.once {
		if err := eng.Sync(ctx); err != nil {
			appLog.Error("sync finished with errors", err)
		}
		eng.Tick(ctx)
		appLog.Info("calwatch exiting")
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	schedulerDone, err := eng.Start(ctx, conf.RefreshCron, conf.TriggerCron)
	if err != nil {
		appLog.Error("failed to start scheduler", err)
		os.Exit(1)
	}

	if err := web.NewServer(conf, eng, host).Run(ctx); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		cancel()
	}

	select {
	case <-schedulerDone:
	case <-time.After(10 * time.Second):
		appLog.Warn("scheduler did not stop in time")
	}
	appLog.Info("calwatch exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calwatch/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync and trigger evaluation, then exit")

	flag.Parse()

	return cfg
}
