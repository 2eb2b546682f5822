package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/referral/internal/metrics"
	"github.com/roach88/referral/internal/model"
	"github.com/roach88/referral/internal/store"
)

// Op is the kind of base-record mutation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Mutation describes one change to a base record. Old is set for update
// and delete, New for insert and update.
type Mutation[T any] struct {
	Op  Op
	Old *T
	New *T
}

// Inserted builds an insert mutation.
func Inserted[T any](v T) Mutation[T] { return Mutation[T]{Op: OpInsert, New: &v} }

// Updated builds an update mutation.
func Updated[T any](old, new T) Mutation[T] { return Mutation[T]{Op: OpUpdate, Old: &old, New: &new} }

// Deleted builds a delete mutation.
func Deleted[T any](v T) Mutation[T] { return Mutation[T]{Op: OpDelete, Old: &v} }

// records returns the versions of the record whose buckets are affected.
func (m Mutation[T]) records() ([]T, error) {
	switch m.Op {
	case OpInsert:
		if m.New == nil {
			return nil, errors.New("insert mutation without new record")
		}
		return []T{*m.New}, nil
	case OpUpdate:
		if m.Old == nil || m.New == nil {
			return nil, errors.New("update mutation needs old and new record")
		}
		return []T{*m.Old, *m.New}, nil
	case OpDelete:
		if m.Old == nil {
			return nil, errors.New("delete mutation without old record")
		}
		return []T{*m.Old}, nil
	default:
		return nil, fmt.Errorf("unknown mutation op %q", m.Op)
	}
}

// Aggregator recomputes rollup rows. It holds no state of its own and is
// safe for concurrent use; serialization comes from the store transaction.
type Aggregator struct {
	clock   model.Clock
	metrics *metrics.Metrics
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the clock used for created_at/updated_at of rollup rows.
func WithClock(c model.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

// WithMetrics records refreshes and deletions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// New creates an Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{clock: model.SystemClock{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnSignup refreshes the buckets touched by a signup mutation.
func (a *Aggregator) OnSignup(ctx context.Context, tx *store.Tx, m Mutation[model.Signup]) error {
	recs, err := m.records()
	if err != nil {
		return fmt.Errorf("signup mutation: %w", err)
	}
	var buckets []model.Bucket
	for _, s := range recs {
		buckets = append(buckets, bucketsFor(s.ProgramID, s.PromoterID, s.LinkID, s.CreatedAt)...)
	}
	return a.refreshAll(ctx, tx, buckets)
}

// OnPurchase refreshes the buckets touched by a purchase mutation.
func (a *Aggregator) OnPurchase(ctx context.Context, tx *store.Tx, m Mutation[model.Purchase]) error {
	recs, err := m.records()
	if err != nil {
		return fmt.Errorf("purchase mutation: %w", err)
	}
	var buckets []model.Bucket
	for _, p := range recs {
		buckets = append(buckets, bucketsFor(p.ProgramID, p.PromoterID, p.LinkID, p.CreatedAt)...)
	}
	return a.refreshAll(ctx, tx, buckets)
}

// OnCommission refreshes the buckets touched by a commission mutation.
func (a *Aggregator) OnCommission(ctx context.Context, tx *store.Tx, m Mutation[model.Commission]) error {
	recs, err := m.records()
	if err != nil {
		return fmt.Errorf("commission mutation: %w", err)
	}
	var buckets []model.Bucket
	for _, c := range recs {
		buckets = append(buckets, bucketsFor(c.ProgramID, c.PromoterID, c.LinkID, c.CreatedAt)...)
	}
	return a.refreshAll(ctx, tx, buckets)
}

// bucketsFor returns the promoter bucket and, when the record came through
// a link, the link bucket of a record created at t.
func bucketsFor(programID, promoterID, linkID string, t time.Time) []model.Bucket {
	date := model.Day(t)
	out := []model.Bucket{{
		Key:  model.Key{Dimension: model.DimensionPromoter, ID: promoterID, ProgramID: programID},
		Date: date,
	}}
	if linkID != "" {
		out = append(out, model.Bucket{
			Key:  model.Key{Dimension: model.DimensionLink, ID: linkID, ProgramID: programID},
			Date: date,
		})
	}
	return out
}

// refreshAll refreshes each distinct bucket once, in first-seen order.
func (a *Aggregator) refreshAll(ctx context.Context, tx *store.Tx, buckets []model.Bucket) error {
	seen := make(map[model.Bucket]bool, len(buckets))
	for _, b := range buckets {
		if seen[b] {
			continue
		}
		seen[b] = true
		if err := a.Refresh(ctx, tx, b); err != nil {
			return err
		}
	}
	return nil
}

// Refresh recomputes one day row and then the key's all-time row.
func (a *Aggregator) Refresh(ctx context.Context, tx *store.Tx, b model.Bucket) error {
	meta, err := a.refreshDay(ctx, tx, b)
	if err != nil {
		return err
	}
	return a.refreshRollup(ctx, tx, b.Key, meta)
}

type metadata struct {
	name, reference string
}

// lookup resolves the display attributes of a key. Unknown keys get empty
// attributes; the metadata is denormalised for display only.
func lookup(ctx context.Context, tx *store.Tx, key model.Key) (metadata, error) {
	switch key.Dimension {
	case model.DimensionPromoter:
		p, err := tx.GetPromoter(ctx, key.ProgramID, key.ID)
		if errors.Is(err, store.ErrNotFound) {
			return metadata{}, nil
		}
		if err != nil {
			return metadata{}, err
		}
		return metadata{name: p.Name, reference: p.Reference}, nil
	case model.DimensionLink:
		l, err := tx.GetLink(ctx, key.ProgramID, key.ID)
		if errors.Is(err, store.ErrNotFound) {
			return metadata{}, nil
		}
		if err != nil {
			return metadata{}, err
		}
		return metadata{name: l.Name, reference: l.Reference}, nil
	default:
		return metadata{}, fmt.Errorf("unknown dimension %q", key.Dimension)
	}
}

// ComputeDay re-aggregates a key's records within one calendar day.
func ComputeDay(ctx context.Context, tx *store.Tx, b model.Bucket) (model.Totals, error) {
	signups, err := tx.CountSignupsInWindow(ctx, b.Key, b.Date)
	if err != nil {
		return model.Totals{}, err
	}
	purchases, revenue, err := tx.SumPurchasesInWindow(ctx, b.Key, b.Date)
	if err != nil {
		return model.Totals{}, err
	}
	commissions, err := tx.FindCommissionsByKeyAndDateWindow(ctx, b.Key, b.Date)
	if err != nil {
		return model.Totals{}, err
	}

	t := model.Totals{
		Signups:            signups,
		Purchases:          purchases,
		Revenue:            revenue,
		Commission:         decimal.Zero,
		SignupCommission:   decimal.Zero,
		PurchaseCommission: decimal.Zero,
	}
	for _, c := range commissions {
		t.Commission = t.Commission.Add(c.Amount)
		switch c.ConversionType {
		case model.ConversionSignup:
			t.SignupCommission = t.SignupCommission.Add(c.Amount)
		case model.ConversionPurchase:
			t.PurchaseCommission = t.PurchaseCommission.Add(c.Amount)
		}
	}
	return t, nil
}

func (a *Aggregator) refreshDay(ctx context.Context, tx *store.Tx, b model.Bucket) (metadata, error) {
	meta, err := lookup(ctx, tx, b.Key)
	if err != nil {
		return metadata{}, fmt.Errorf("refresh %s %s: %w", b.Key, b.Date, err)
	}
	totals, err := ComputeDay(ctx, tx, b)
	if err != nil {
		return metadata{}, fmt.Errorf("refresh %s %s: %w", b.Key, b.Date, err)
	}

	now := a.clock.Now()
	err = tx.UpsertDayRollup(ctx, model.DayRollup{
		Key:       b.Key,
		Date:      b.Date,
		Name:      meta.name,
		Reference: meta.reference,
		Totals:    totals,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return metadata{}, err
	}

	a.metrics.RollupRefreshed(string(b.Key.Dimension))
	slog.Debug("day rollup refreshed",
		"dimension", b.Key.Dimension,
		"key", b.Key.ID,
		"program_id", b.Key.ProgramID,
		"date", b.Date,
		"signups", totals.Signups,
		"purchases", totals.Purchases,
		"revenue", totals.Revenue.String(),
	)
	return meta, nil
}

// refreshRollup recomputes the all-time row as the SUM of the key's day
// rows, deleting it when no day rows remain.
func (a *Aggregator) refreshRollup(ctx context.Context, tx *store.Tx, key model.Key, meta metadata) error {
	sum, days, err := tx.SumDayRollups(ctx, key)
	if err != nil {
		return fmt.Errorf("refresh rollup %s: %w", key, err)
	}

	if days == 0 {
		deleted, err := tx.DeleteRollup(ctx, key)
		if err != nil {
			return fmt.Errorf("refresh rollup %s: %w", key, err)
		}
		if deleted {
			a.metrics.RollupDeleted(string(key.Dimension))
			slog.Debug("all-time rollup deleted", "dimension", key.Dimension, "key", key.ID, "program_id", key.ProgramID)
		}
		return nil
	}

	return tx.UpsertRollup(ctx, model.Rollup{
		Key:       key,
		Name:      meta.name,
		Reference: meta.reference,
		Totals:    sum,
		Days:      days,
		UpdatedAt: a.clock.Now(),
	})
}

// DeleteDay removes one day row and refreshes the key's all-time row,
// which is deleted if that was the key's last day. Returns false if the
// day row did not exist.
func (a *Aggregator) DeleteDay(ctx context.Context, s *store.Store, key model.Key, date string) (bool, error) {
	if _, _, err := model.DayBounds(date); err != nil {
		return false, err
	}

	var deleted bool
	err := s.InTx(ctx, func(tx *store.Tx) error {
		var err error
		deleted, err = tx.DeleteDayRollup(ctx, key, date)
		if err != nil {
			return err
		}
		meta, err := lookup(ctx, tx, key)
		if err != nil {
			return err
		}
		return a.refreshRollup(ctx, tx, key, meta)
	})
	if err != nil {
		return false, fmt.Errorf("delete day %s %s: %w", key, date, err)
	}
	return deleted, nil
}

// RebuildStats summarises a full rebuild.
type RebuildStats struct {
	ProgramID string `json:"program_id"`
	Days      int    `json:"days"`
	Keys      int    `json:"keys"`
}

// Rebuild discards every rollup row of a program and recomputes them from
// the base records, in one transaction.
func (a *Aggregator) Rebuild(ctx context.Context, s *store.Store, programID string) (RebuildStats, error) {
	stats := RebuildStats{ProgramID: programID}
	start := time.Now()

	err := s.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.DeleteProgramRollups(ctx, programID); err != nil {
			return err
		}
		buckets, err := tx.ListBuckets(ctx, programID)
		if err != nil {
			return err
		}

		metas := make(map[model.Key]metadata)
		for _, b := range buckets {
			meta, err := a.refreshDay(ctx, tx, b)
			if err != nil {
				return err
			}
			metas[b.Key] = meta
		}

		keys := make([]model.Key, 0, len(metas))
		for k := range metas {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, k := range keys {
			if err := a.refreshRollup(ctx, tx, k, metas[k]); err != nil {
				return err
			}
		}

		stats.Days = len(buckets)
		stats.Keys = len(keys)
		return nil
	})
	a.metrics.RebuildFinished(err)
	if err != nil {
		return RebuildStats{ProgramID: programID}, fmt.Errorf("rebuild %s: %w", programID, err)
	}

	slog.Info("rollups rebuilt",
		"program_id", programID,
		"days", stats.Days,
		"keys", stats.Keys,
		"duration", time.Since(start),
	)
	return stats, nil
}
