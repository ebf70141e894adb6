// Package leaderelection provides MongoDB lease-based leader election.
//
// A single document in the locks collection determines the leader. The
// lease carries a TTL and must be renewed by the holder; if the holder
// dies, the lease expires and another instance takes over after at
// most one TTL. Renewal doubles as liveness detection: a failed
// renewal demotes the leader promptly.
package leaderelection

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const lockName = "scheduler"

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "lease_lost", "error"
}

// Elector manages leader election using a MongoDB lease document.
type Elector struct {
	locks         *mongo.Collection
	instanceID    string
	ttl           time.Duration
	retryInterval time.Duration // follower: how often to attempt lease acquisition
	onElected     func(ctx context.Context)
	onDemoted     func()
	metrics       MetricsSink // optional, nil = disabled
	clock         func() time.Time
}

// New creates a new Elector on the given locks collection.
//
// onElected is called in a new goroutine when this instance acquires
// the lease. The provided context is cancelled when leadership is
// lost. onElected should start leader duties (scheduler, reconciler)
// and return quickly.
//
// onDemoted is called synchronously when leadership is lost.
// It should stop leader duties and block until they are fully stopped.
// It must be idempotent.
func New(
	locks *mongo.Collection,
	ttl, retryInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		locks:         locks,
		instanceID:    uuid.New().String(),
		ttl:           ttl,
		retryInterval: retryInterval,
		onElected:     onElected,
		onDemoted:     onDemoted,
		clock:         time.Now,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run starts the leader election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: starting election loop (instance=%s, ttl=%s, retry=%s)",
		e.instanceID, e.ttl, e.retryInterval)

	for {
		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		if reason != "" {
			log.Printf("leader: lost leadership (reason=%s), will retry in %s", reason, e.retryInterval)
		}

		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the lease and hold it.
// Returns the reason leadership was lost ("" if the lease was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	acquired, err := e.tryAcquire(ctx)
	if err != nil {
		log.Printf("leader: lease acquisition failed: %v", err)
		return ""
	}
	if !acquired {
		log.Printf("leader: lease %q held by another instance, retrying in %s", lockName, e.retryInterval)
		return ""
	}

	log.Printf("leader: acquired lease %q", lockName)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)

	go e.onElected(leaderCtx)

	reason := e.holdLease(ctx)

	cancelLeader()
	e.onDemoted()
	e.release(reason)

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	log.Printf("leader: released lease %q", lockName)
	return reason
}

// tryAcquire takes the lease if it is free, expired, or already ours.
func (e *Elector) tryAcquire(ctx context.Context) (bool, error) {
	now := e.clock().UTC()
	lease := bson.M{"$set": bson.M{
		"holder":     e.instanceID,
		"expires_at": now.Add(e.ttl),
	}}

	res, err := e.locks.UpdateOne(ctx, bson.M{
		"_id": lockName,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$lte": now}},
			bson.M{"holder": e.instanceID},
		},
	}, lease)
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	// No free or expired lease document matched: either the lease is
	// held, or it does not exist yet. Insert decides which.
	_, err = e.locks.InsertOne(ctx, bson.M{
		"_id":        lockName,
		"holder":     e.instanceID,
		"expires_at": now.Add(e.ttl),
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// holdLease blocks while renewing the lease. Returns the reason the
// lease was lost.
func (e *Elector) holdLease(ctx context.Context) string {
	// Renew well inside the TTL so one slow renewal does not lose the lease.
	interval := e.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			ok, err := e.renew(ctx)
			if ctx.Err() != nil {
				return "shutdown"
			}
			if err != nil {
				log.Printf("leader: lease renewal failed: %v", err)
				return "error"
			}
			if !ok {
				log.Printf("leader: lease %q taken over by another instance", lockName)
				return "lease_lost"
			}
		}
	}
}

// renew extends the lease if we still hold it.
func (e *Elector) renew(ctx context.Context) (bool, error) {
	res, err := e.locks.UpdateOne(ctx,
		bson.M{"_id": lockName, "holder": e.instanceID},
		bson.M{"$set": bson.M{"expires_at": e.clock().UTC().Add(e.ttl)}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// release deletes the lease on clean shutdown so the next instance
// does not wait out the TTL. On lease_lost there is nothing to delete.
func (e *Elector) release(reason string) {
	if reason != "shutdown" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := e.locks.DeleteOne(ctx, bson.M{"_id": lockName, "holder": e.instanceID}); err != nil {
		log.Printf("leader: lease release failed: %v", err)
	}
}
