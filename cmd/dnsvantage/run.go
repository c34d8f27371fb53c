package main

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mekleo/dnsvantage/internal/app/migrate"
	"github.com/mekleo/dnsvantage/internal/live"
	"github.com/mekleo/dnsvantage/internal/metrics"
	"github.com/mekleo/dnsvantage/internal/probe"
	"github.com/mekleo/dnsvantage/internal/service/vantage"
	"github.com/mekleo/dnsvantage/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Probe tracked domains until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runAgent,
}

func init() {
	flags := runCmd.Flags()
	flags.DurationP("interval", "t", 0, "pause between probe cycles")
	flags.Int("flush-every", 0, "probe cycles between storage flushes")
	flags.String("probe", "", "probe kind (dns, icmp)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	interval := cfg.ProbeInterval()
	if flags.Changed("interval") {
		interval, _ = flags.GetDuration("interval")
	}
	flushEvery := cfg.FlushEvery
	if flags.Changed("flush-every") {
		flushEvery, _ = flags.GetInt("flush-every")
	}
	probeKind := cfg.Probe
	if flags.Changed("probe") {
		probeKind, _ = flags.GetString("probe")
	}

	log := logger.New("dnsvantage", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM)
	defer stop()

	runner, err := migrate.New(cfg.DatabaseURL(), cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		return err
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		return err
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return err
	}
	defer store.Close()

	var publishers live.Fanout
	var hub *live.Hub
	metricsAddr := strings.TrimSpace(cfg.MetricsAddr)
	if metricsAddr != "" {
		hub = live.NewHub(log)
		publishers = append(publishers, hub)
	}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		sink, err := live.NewRedisSink(addr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel, log)
		if err != nil {
			log.Warn("redis sink unavailable", "error", err)
		} else {
			publishers = append(publishers, sink)
		}
	}
	if influxURL := strings.TrimSpace(cfg.InfluxURL); influxURL != "" {
		publishers = append(publishers, live.NewInfluxSink(influxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, log))
	}
	defer publishers.Close()

	var mets *metrics.Metrics
	serveErr := make(chan error, 1)
	if metricsAddr != "" {
		mets = metrics.New()
		go func() {
			serveErr <- metrics.Serve(ctx, metricsAddr,
				live.StreamHandler(hub, log), live.SSEHandler(hub, log), log)
		}()
	}

	var publisher live.Publisher
	if len(publishers) > 0 {
		publisher = publishers
	}

	coord := vantage.New(store, vantage.Options{
		ProbeInterval: interval,
		FlushEvery:    flushEvery,
		ProbeKind:     probeKind,
		ProbeConfig: probe.Config{
			ResolvConf: cfg.ResolvConf,
			Retry:      cfg.DNSRetry,
			Timeout:    cfg.DNSTimeout,
			QType:      cfg.QueryType,
			QClass:     cfg.QueryClass,
			Recurse:    cfg.Recurse,
			Privileged: cfg.ICMPPrivileged,
		},
		Logger:    log,
		Metrics:   mets,
		Publisher: publisher,
	})
	if err := coord.Run(ctx); err != nil {
		log.Error("vantage failed", "error", err)
		return err
	}

	if metricsAddr != "" {
		stop()
		if err := <-serveErr; err != nil {
			log.Error("metrics server error", "error", err)
		}
	}
	return nil
}
