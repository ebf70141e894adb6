package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/div360/tender-scraper/internal/analytics"
	"github.com/div360/tender-scraper/internal/api"
	"github.com/div360/tender-scraper/internal/circuitbreaker"
	"github.com/div360/tender-scraper/internal/config"
	"github.com/div360/tender-scraper/internal/cron"
	"github.com/div360/tender-scraper/internal/domain"
	"github.com/div360/tender-scraper/internal/leaderelection"
	"github.com/div360/tender-scraper/internal/metrics"
	"github.com/div360/tender-scraper/internal/notify"
	"github.com/div360/tender-scraper/internal/reconciler"
	"github.com/div360/tender-scraper/internal/runner"
	"github.com/div360/tender-scraper/internal/scheduler"
	"github.com/div360/tender-scraper/internal/scraper"
	mongostore "github.com/div360/tender-scraper/internal/store/mongo"
	"github.com/div360/tender-scraper/internal/transport/channel"
)

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser interface.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return &cronScheduleAdapter{sched: sched}, nil
}

// cronScheduleAdapter adapts internal/cron.Schedule to scheduler.CronSchedule interface.
type cronScheduleAdapter struct {
	sched cron.Schedule
}

func (a *cronScheduleAdapter) Next(after time.Time) time.Time {
	return a.sched.Next(after)
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "run":
		os.Exit(runOnce())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`tenderscraper - scheduled tender portal scraper with email digests

Usage:
  tenderscraper <command>

Commands:
  serve      Start the scheduler, scraper and HTTP API
  run        Execute one scrape run immediately and exit
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  MONGO_URI                 MongoDB connection string (required)
  EMAIL_FROM                Digest sender address (required)
  EMAIL_TO                  Digest recipient address (required)
  SMTP_SERVER               SMTP server hostname (required)
  SMTP_PORT                 SMTP server port (default: "587")
  SMTP_USER                 SMTP username (required)
  SMTP_PASSWORD             SMTP password (required)
  DEPARTMENTS               Comma-separated department names to scrape (required)

  MONGO_DATABASE            Database name (default: "tender_db")
  REDIS_ADDR                Redis address for analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", or PORT)
  RUN_SCHEDULE              Scrape cadence cron expression (default: "0 0 */2 * *")
  TIMEZONE                  IANA timezone for the cadence (default: "UTC")
  TICK_INTERVAL             Scheduler tick interval (default: "30s")

  BASE_URL                  Tender portal base URL
  MAX_TENDER_VALUE          Exclude tenders at or above this value (default: "3000000")
  FAILED_HTML_DIR           Directory for unparseable detail pages (default: "failed_tender_html")
  FETCH_TIMEOUT             Per-page fetch timeout (default: "30s")
  MONGO_OP_TIMEOUT          MongoDB operation timeout (default: "5s")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  RUNNER_DRAIN_TIMEOUT      Runner event drain timeout (default: "30s")
  EVENTBUS_BUFFER_SIZE      Trigger event buffer size (default: "16")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  ANALYTICS_WINDOW          Analytics counter bucket size (default: "1h")
  ANALYTICS_RETENTION       Analytics counter retention (default: "720h")

  RECONCILE_ENABLED         Enable orphan run reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for orphans (default: "5m")
  RECONCILE_THRESHOLD       Age before a run is orphaned (default: "6h")
  RECONCILE_BATCH_SIZE      Max orphans per cycle (default: "10")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before opening (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown (default: "2m")

  RUN_LOCK_ENABLED          Enable leader election for multi-instance (default: "false")
  RUN_LOCK_TTL              Leader lease TTL (default: "30s")
  RUN_LOCK_RETRY_INTERVAL   Follower lease retry interval (default: "5s")`)
}

// connectMongo opens the client and verifies connectivity.
func connectMongo(cfg config.Config) (*mongodrv.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongodrv.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("open mongo client: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	return client, nil
}

// buildPipeline assembles the fetcher and scrape pipeline from config.
func buildPipeline(cfg config.Config, store *mongostore.Store, sink metrics.Sink) *scraper.Pipeline {
	fetcher := scraper.NewFetcher(cfg.BaseURL, cfg.FetchTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		fetcher = fetcher.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	if sink != nil {
		fetcher = fetcher.WithMetrics(sink)
	}

	pipeline := scraper.NewPipeline(fetcher, store, scraper.Config{
		Departments:    cfg.DepartmentList(),
		MaxTenderValue: cfg.MaxTenderValue,
		FailedHTMLDir:  cfg.FailedHTMLDir,
	})
	if sink != nil {
		pipeline = pipeline.WithMetrics(sink)
	}
	return pipeline
}

func buildMailer(cfg config.Config) (*notify.Mailer, error) {
	return notify.NewMailer(notify.Config{
		Server:   cfg.SMTPServer,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
		To:       cfg.EmailTo,
	})
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	logConfigWarnings(&cfg)

	client, err := connectMongo(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()

	store := mongostore.New(client, cfg.MongoDatabase, cfg.MongoOpTimeout)

	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.EnsureIndexes(indexCtx)
	cancelIndex()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure indexes: %v\n", err)
		return exitRuntimeError
	}

	mailer, err := buildMailer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build mailer: %v\n", err)
		return exitRuntimeError
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("tenderscraper: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("tenderscraper: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("tenderscraper: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("tenderscraper: METRICS_ENABLED not set; metrics disabled")
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	sched := scheduler.New(
		scheduler.Config{
			TickInterval: cfg.TickInterval,
			Schedule:     cfg.RunSchedule,
			Timezone:     cfg.Timezone,
		},
		store,
		&cronParserAdapter{parser: cron.NewParser()},
		bus,
	)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	var pipelineSink metrics.Sink
	if metricsSink != nil {
		pipelineSink = metricsSink
	}
	pipeline := buildPipeline(cfg, store, pipelineSink)

	run := runner.New(store, pipeline, mailer).
		WithDrainTimeout(cfg.RunnerDrainTimeout)
	if metricsSink != nil {
		run = run.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient, domain.AnalyticsConfig{
			Enabled:   true,
			Window:    cfg.AnalyticsWindow,
			Retention: cfg.AnalyticsRetention,
		})
		run = run.WithAnalytics(sink)
		log.Printf("tenderscraper: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("tenderscraper: REDIS_ADDR not set; analytics disabled")
	}

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			bus,
		)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
		log.Printf("tenderscraper: reconciler enabled (interval=%s, threshold=%s, batch=%d)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.ReconcileBatchSize)
	} else {
		log.Println("tenderscraper: RECONCILE_ENABLED not set; reconciler disabled")
	}

	// Create API handler with the same store instance
	apiHandler := api.NewHandler(store, sched).WithHealthChecker(store)

	// Start HTTP server with API handler
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("tenderscraper: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("tenderscraper: http server error: %v", err)
		}
	}()

	// Leader duties: scheduler and reconciler. Under RUN_LOCK_ENABLED
	// they run only while this instance holds the lease; otherwise they
	// run unconditionally. The runner always runs: it only consumes
	// events the leader emitted.
	var dutiesWg sync.WaitGroup
	startDuties := func(ctx context.Context) {
		dutiesWg.Add(1)
		go func() {
			defer dutiesWg.Done()
			if err := sched.Run(ctx); err != nil {
				log.Printf("tenderscraper: scheduler error: %v", err)
			}
		}()
		if recon != nil {
			dutiesWg.Add(1)
			go func() {
				defer dutiesWg.Done()
				recon.Run(ctx)
			}()
		}
	}
	stopDuties := func() {
		dutiesWg.Wait()
	}

	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	var runnerWg sync.WaitGroup
	runnerWg.Add(1)
	go func() {
		defer runnerWg.Done()
		run.Run(runnerCtx, bus.Channel())
	}()

	var cancelDuties context.CancelFunc
	var electorWg sync.WaitGroup

	if cfg.RunLockEnabled {
		var electionCtx context.Context
		electionCtx, cancelDuties = context.WithCancel(context.Background())
		elector := leaderelection.New(
			store.LocksCollection(),
			cfg.RunLockTTL,
			cfg.RunLockRetryInterval,
			startDuties,
			stopDuties,
		)
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electionCtx)
		}()
		log.Printf("tenderscraper: run lock enabled (ttl=%s, retry=%s)", cfg.RunLockTTL, cfg.RunLockRetryInterval)
	} else {
		var dutiesCtx context.Context
		dutiesCtx, cancelDuties = context.WithCancel(context.Background())
		startDuties(dutiesCtx)
	}

	log.Printf("tenderscraper: started (schedule=%q, tick=%s, http=%s)", cfg.RunSchedule, cfg.TickInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("tenderscraper: received signal %v, shutting down", received)

	// Phase 1: Stop scheduler and reconciler (no new events emitted)
	log.Println("tenderscraper: stopping scheduler and reconciler...")
	cancelDuties()
	electorWg.Wait()
	stopDuties()
	log.Println("tenderscraper: scheduler and reconciler stopped")

	// Phase 2: Stop runner (will drain buffered events before returning)
	log.Println("tenderscraper: stopping runner (draining events)...")
	cancelRunner()
	runnerWg.Wait()
	log.Println("tenderscraper: runner stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("tenderscraper: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("tenderscraper: http server shutdown error: %v", err)
	}
	log.Println("tenderscraper: http server stopped")

	// Phase 4: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("tenderscraper: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("tenderscraper: metrics server shutdown error: %v", err)
		}
		log.Println("tenderscraper: metrics server stopped")
	}

	log.Println("tenderscraper: stopped")
	return exitSuccess
}

// runOnce executes a single manual scrape run synchronously and exits
// with the run's outcome. Used for cron-style invocation and smoke
// testing a deployment.
func runOnce() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	client, err := connectMongo(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()

	store := mongostore.New(client, cfg.MongoDatabase, cfg.MongoOpTimeout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.EnsureIndexes(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure indexes: %v\n", err)
		return exitRuntimeError
	}

	mailer, err := buildMailer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build mailer: %v\n", err)
		return exitRuntimeError
	}

	// The manual trigger goes through the same store-then-emit path as
	// the daemon, so the run is recorded identically.
	bus := channel.NewEventBus(1)
	sched := scheduler.New(
		scheduler.Config{
			TickInterval: cfg.TickInterval,
			Schedule:     cfg.RunSchedule,
			Timezone:     cfg.Timezone,
		},
		store,
		&cronParserAdapter{parser: cron.NewParser()},
		bus,
	)

	runID, err := sched.TriggerManual(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to trigger run: %v\n", err)
		return exitRuntimeError
	}
	log.Printf("tenderscraper: one-shot run %s triggered", runID)

	pipeline := buildPipeline(cfg, store, nil)
	run := runner.New(store, pipeline, mailer)

	event := <-bus.Channel()
	if err := run.Dispatch(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		return exitRuntimeError
	}

	log.Printf("tenderscraper: one-shot run %s succeeded", runID)
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("tenderscraper version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
