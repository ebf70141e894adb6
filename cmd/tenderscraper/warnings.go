package main

import (
	"log"

	"github.com/div360/tender-scraper/internal/config"
)

// logConfigWarnings flags configuration combinations that work but
// weaken the delivery guarantees. P0 warnings mean runs can be lost;
// P1 warnings mean problems will be invisible.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.ReconcileEnabled {
		log.Println("WARNING [P0]: RECONCILE_ENABLED=false - runs orphaned by a crash " +
			"between emit and scrape will never be retried. Enable the reconciler in production.")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false - no visibility into tick drift, " +
			"run outcomes or portal fetch failures.")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0 - the fetcher will keep " +
			"hammering the portal while it is down.")
	}

	if !cfg.RunLockEnabled {
		log.Println("INFO: RUN_LOCK_ENABLED=false - single-instance mode. Running multiple " +
			"replicas without the run lock sends duplicate digests.")
	}

	if cfg.RedisAddr == "" {
		log.Println("INFO: REDIS_ADDR not set - run and tender counters will not be recorded.")
	}

	if cfg.ReconcileEnabled && cfg.ReconcileThreshold < cfg.FetchTimeout {
		log.Println("WARNING [P0]: RECONCILE_THRESHOLD is shorter than FETCH_TIMEOUT - " +
			"in-flight runs will be re-emitted as orphans.")
	}
}
