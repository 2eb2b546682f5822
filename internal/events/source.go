package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/referral/internal/aggregate"
	"github.com/roach88/referral/internal/model"
	"github.com/roach88/referral/internal/store"
)

// ErrInvalidRecord is returned for base records that fail validation.
var ErrInvalidRecord = errors.New("invalid record")

// Source is the write path for base records.
//
// Every mutation writes the record and refreshes its rollups in one
// transaction. Creations then publish a trigger event to the handler.
// Creating a record whose id already exists changes nothing but still
// publishes, so a caller that lost the response can retry safely.
type Source struct {
	store    *store.Store
	agg      *aggregate.Aggregator
	handler  Handler
	ids      model.IDGenerator
	clock    model.Clock
	validate *validator.Validate
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithIDGenerator sets the generator for records created without an id.
func WithIDGenerator(g model.IDGenerator) SourceOption {
	return func(s *Source) { s.ids = g }
}

// WithClock sets the clock for records created without a timestamp.
func WithClock(c model.Clock) SourceOption {
	return func(s *Source) { s.clock = c }
}

// NewSource creates a Source. h may be nil, in which case no trigger
// events are published.
func NewSource(st *store.Store, agg *aggregate.Aggregator, h Handler, opts ...SourceOption) *Source {
	s := &Source{
		store:    st,
		agg:      agg,
		handler:  h,
		ids:      model.UUIDv7Generator{},
		clock:    model.SystemClock{},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

func (s *Source) publish(ctx context.Context, ev model.TriggerEvent) error {
	if s.handler == nil {
		return nil
	}
	if err := s.handler.HandleTrigger(ctx, ev); err != nil {
		return fmt.Errorf("handle %s event %s: %w", ev.Trigger, ev.EventID, err)
	}
	return nil
}

// RecordSignup stores a signup and publishes its SIGNUP event.
// The returned signup carries the assigned id and timestamp. A non-nil
// error with a populated signup means the record was committed but the
// handler failed.
func (s *Source) RecordSignup(ctx context.Context, in model.Signup) (model.Signup, error) {
	if in.ID == "" {
		in.ID = s.ids.Generate()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.clock.Now()
	}
	in.CreatedAt = in.CreatedAt.UTC()
	if err := s.check(in); err != nil {
		return model.Signup{}, err
	}

	var stored model.Signup
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		inserted, err := tx.InsertSignup(ctx, in)
		if err != nil {
			return err
		}
		if !inserted {
			stored, err = tx.GetSignup(ctx, in.ID)
			return err
		}
		stored = in
		return s.agg.OnSignup(ctx, tx, aggregate.Inserted(in))
	})
	if err != nil {
		return model.Signup{}, fmt.Errorf("record signup %s: %w", in.ID, err)
	}

	slog.Debug("signup recorded", "signup_id", stored.ID, "program_id", stored.ProgramID, "promoter_id", stored.PromoterID)
	return stored, s.publish(ctx, model.SignupEvent(stored))
}

// UpdateSignup overwrites a signup and refreshes the buckets of both its
// old and new versions. No trigger event is published.
func (s *Source) UpdateSignup(ctx context.Context, in model.Signup) error {
	in.CreatedAt = in.CreatedAt.UTC()
	if err := s.check(in); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		old, err := tx.GetSignup(ctx, in.ID)
		if err != nil {
			return err
		}
		if err := tx.UpdateSignup(ctx, in); err != nil {
			return err
		}
		return s.agg.OnSignup(ctx, tx, aggregate.Updated(old, in))
	})
	if err != nil {
		return fmt.Errorf("update signup %s: %w", in.ID, err)
	}
	return nil
}

// DeleteSignup removes a signup and refreshes its buckets.
func (s *Source) DeleteSignup(ctx context.Context, id string) error {
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		old, err := tx.GetSignup(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteSignup(ctx, id); err != nil {
			return err
		}
		return s.agg.OnSignup(ctx, tx, aggregate.Deleted(old))
	})
	if err != nil {
		return fmt.Errorf("delete signup %s: %w", id, err)
	}
	return nil
}

func (s *Source) normalizePurchase(p model.Purchase) (model.Purchase, error) {
	p.CreatedAt = p.CreatedAt.UTC()
	p.ItemID = model.NormalizeItemID(p.ItemID)
	if err := s.check(p); err != nil {
		return model.Purchase{}, err
	}
	if p.Amount.IsNegative() {
		return model.Purchase{}, fmt.Errorf("%w: purchase amount %s is negative", ErrInvalidRecord, p.Amount)
	}
	return p, nil
}

// RecordPurchase stores a purchase and publishes its PURCHASE event.
func (s *Source) RecordPurchase(ctx context.Context, in model.Purchase) (model.Purchase, error) {
	if in.ID == "" {
		in.ID = s.ids.Generate()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.clock.Now()
	}
	in, err := s.normalizePurchase(in)
	if err != nil {
		return model.Purchase{}, err
	}

	var stored model.Purchase
	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		inserted, err := tx.InsertPurchase(ctx, in)
		if err != nil {
			return err
		}
		if !inserted {
			stored, err = tx.GetPurchase(ctx, in.ID)
			return err
		}
		stored = in
		return s.agg.OnPurchase(ctx, tx, aggregate.Inserted(in))
	})
	if err != nil {
		return model.Purchase{}, fmt.Errorf("record purchase %s: %w", in.ID, err)
	}

	slog.Debug("purchase recorded",
		"purchase_id", stored.ID,
		"program_id", stored.ProgramID,
		"promoter_id", stored.PromoterID,
		"amount", stored.Amount.String(),
	)
	return stored, s.publish(ctx, model.PurchaseEvent(stored))
}

// UpdatePurchase overwrites a purchase and refreshes the buckets of both
// its old and new versions. Commissions already generated are not revised.
func (s *Source) UpdatePurchase(ctx context.Context, in model.Purchase) error {
	in, err := s.normalizePurchase(in)
	if err != nil {
		return err
	}
	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		old, err := tx.GetPurchase(ctx, in.ID)
		if err != nil {
			return err
		}
		if err := tx.UpdatePurchase(ctx, in); err != nil {
			return err
		}
		return s.agg.OnPurchase(ctx, tx, aggregate.Updated(old, in))
	})
	if err != nil {
		return fmt.Errorf("update purchase %s: %w", in.ID, err)
	}
	return nil
}

// DeletePurchase removes a purchase and refreshes its buckets.
func (s *Source) DeletePurchase(ctx context.Context, id string) error {
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		old, err := tx.GetPurchase(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeletePurchase(ctx, id); err != nil {
			return err
		}
		return s.agg.OnPurchase(ctx, tx, aggregate.Deleted(old))
	})
	if err != nil {
		return fmt.Errorf("delete purchase %s: %w", id, err)
	}
	return nil
}

// DeleteCommission retracts a commission and its rollup contribution.
func (s *Source) DeleteCommission(ctx context.Context, id string) error {
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		old, err := tx.GetCommission(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteCommission(ctx, id); err != nil {
			return err
		}
		return s.agg.OnCommission(ctx, tx, aggregate.Deleted(old))
	})
	if err != nil {
		return fmt.Errorf("delete commission %s: %w", id, err)
	}
	slog.Info("commission retracted", "commission_id", id)
	return nil
}
