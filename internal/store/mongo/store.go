// Package mongo implements the run and tender stores on MongoDB.
//
// Two collections are used: "runs" (one document per trigger, unique
// on idempotency_key) and "tenders" (one document per tender id ever
// seen, unique on tender_id). The unique indexes are what make run
// emission and tender reporting idempotent; EnsureIndexes must be
// called before the scheduler starts.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/div360/tender-scraper/internal/domain"
	"github.com/div360/tender-scraper/internal/runner"
	"github.com/div360/tender-scraper/internal/scheduler"
)

const (
	runsCollection    = "runs"
	tendersCollection = "tenders"
	locksCollection   = "locks"
)

// Store implements scheduler.Store, runner.Store, reconciler.Store,
// api.Store and scraper.TenderStore using MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	opTimeout time.Duration
}

// New creates a store on the given client and database name.
// opTimeout bounds every single operation.
func New(client *mongo.Client, database string, opTimeout time.Duration) *Store {
	return &Store{
		client:    client,
		db:        client.Database(database),
		opTimeout: opTimeout,
	}
}

// LocksCollection exposes the lease collection for the leader lock.
func (s *Store) LocksCollection() *mongo.Collection {
	return s.db.Collection(locksCollection)
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// EnsureIndexes creates the unique indexes the dedup guarantees rest on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.Collection(runsCollection).Indexes().CreateMany(opCtx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("runs indexes: %w", err)
	}

	_, err = s.db.Collection(tendersCollection).Indexes().CreateOne(opCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tender_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("tenders index: %w", err)
	}
	return nil
}

// Ping verifies connectivity to the primary.
func (s *Store) Ping(ctx context.Context) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.Ping(opCtx, readpref.Primary())
}

// InsertRun records a new run. A duplicate idempotency key returns
// scheduler.ErrDuplicateRun.
func (s *Store) InsertRun(ctx context.Context, run domain.Run) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.Collection(runsCollection).InsertOne(opCtx, toRunDoc(run))
	if mongo.IsDuplicateKeyError(err) {
		return scheduler.ErrDuplicateRun
	}
	return err
}

// LastScheduledRunTime returns the ScheduledAt of the most recent
// scheduled run, or ok=false when none exists.
func (s *Store) LastScheduledRunTime(ctx context.Context) (time.Time, bool, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "scheduled_at", Value: -1}})
	filter := bson.M{"reason": string(domain.TriggerReasonScheduled)}

	var doc runDoc
	err := s.db.Collection(runsCollection).FindOne(opCtx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return doc.ScheduledAt.UTC(), true, nil
}

// FinishRun sets the terminal status and result fields. Transitions
// from terminal states are rejected with runner.ErrStatusTransitionDenied.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, newTenders int, errMsg string, finishedAt time.Time) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{
		"_id": runID.String(),
		"status": bson.M{"$nin": bson.A{
			string(domain.RunStatusSucceeded),
			string(domain.RunStatusFailed),
		}},
	}
	update := bson.M{"$set": bson.M{
		"status":      string(status),
		"new_tenders": newTenders,
		"error":       errMsg,
		"finished_at": finishedAt,
	}}

	res, err := s.db.Collection(runsCollection).UpdateOne(opCtx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Either the run is already terminal or it does not exist.
		n, err := s.db.Collection(runsCollection).CountDocuments(opCtx, bson.M{"_id": runID.String()})
		if err != nil {
			return err
		}
		if n > 0 {
			return runner.ErrStatusTransitionDenied
		}
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetOrphanedRuns returns runs still in emitted state created before
// olderThan, oldest first, capped at maxResults.
func (s *Store) GetOrphanedRuns(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Run, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{
		"status":     string(domain.RunStatusEmitted),
		"created_at": bson.M{"$lt": olderThan},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(maxResults))

	cur, err := s.db.Collection(runsCollection).Find(opCtx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(opCtx)

	return decodeRuns(opCtx, cur)
}

// ListRuns returns run history, newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cur, err := s.db.Collection(runsCollection).Find(opCtx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(opCtx)

	return decodeRuns(opCtx, cur)
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (domain.Run, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	var doc runDoc
	err := s.db.Collection(runsCollection).FindOne(opCtx, bson.M{"_id": runID.String()}).Decode(&doc)
	if err != nil {
		return domain.Run{}, err
	}
	return doc.toDomain()
}

// SeenTender reports whether the tender id exists in the dedup
// collection.
func (s *Store) SeenTender(ctx context.Context, tenderID string) (bool, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	n, err := s.db.Collection(tendersCollection).CountDocuments(opCtx, bson.M{"tender_id": tenderID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkTenderSeen records a tender id. Losing a race to another insert
// is not an error; the tender is seen either way.
func (s *Store) MarkTenderSeen(ctx context.Context, tender domain.Tender) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.Collection(tendersCollection).InsertOne(opCtx, toTenderDoc(tender))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func decodeRuns(ctx context.Context, cur *mongo.Cursor) ([]domain.Run, error) {
	var runs []domain.Run
	for cur.Next(ctx) {
		var doc runDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		run, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, cur.Err()
}
