package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/roach88/referral/internal/model"
)

// Kind names a base-record mutation carried by an Envelope.
type Kind string

const (
	KindSignupCreated     Kind = "signup.created"
	KindSignupUpdated     Kind = "signup.updated"
	KindSignupDeleted     Kind = "signup.deleted"
	KindPurchaseCreated   Kind = "purchase.created"
	KindPurchaseUpdated   Kind = "purchase.updated"
	KindPurchaseDeleted   Kind = "purchase.deleted"
	KindCommissionDeleted Kind = "commission.deleted"
)

// Envelope is the ingestion format of one mutation. Creations and updates
// carry the record; deletions carry only ID.
type Envelope struct {
	Kind     Kind            `json:"kind" yaml:"kind"`
	Signup   *model.Signup   `json:"signup,omitempty" yaml:"signup,omitempty"`
	Purchase *model.Purchase `json:"purchase,omitempty" yaml:"purchase,omitempty"`
	ID       string          `json:"id,omitempty" yaml:"id,omitempty"`
}

// Apply routes env to the matching Source operation.
func (s *Source) Apply(ctx context.Context, env Envelope) error {
	switch env.Kind {
	case KindSignupCreated, KindSignupUpdated:
		if env.Signup == nil {
			return fmt.Errorf("%w: %s without signup", ErrInvalidRecord, env.Kind)
		}
		if env.Kind == KindSignupCreated {
			_, err := s.RecordSignup(ctx, *env.Signup)
			return err
		}
		return s.UpdateSignup(ctx, *env.Signup)

	case KindPurchaseCreated, KindPurchaseUpdated:
		if env.Purchase == nil {
			return fmt.Errorf("%w: %s without purchase", ErrInvalidRecord, env.Kind)
		}
		if env.Kind == KindPurchaseCreated {
			_, err := s.RecordPurchase(ctx, *env.Purchase)
			return err
		}
		return s.UpdatePurchase(ctx, *env.Purchase)

	case KindSignupDeleted, KindPurchaseDeleted, KindCommissionDeleted:
		if env.ID == "" {
			return fmt.Errorf("%w: %s without id", ErrInvalidRecord, env.Kind)
		}
		switch env.Kind {
		case KindSignupDeleted:
			return s.DeleteSignup(ctx, env.ID)
		case KindPurchaseDeleted:
			return s.DeletePurchase(ctx, env.ID)
		default:
			return s.DeleteCommission(ctx, env.ID)
		}

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, env.Kind)
	}
}

// ReadEnvelopes decodes newline-delimited JSON envelopes from r and calls
// fn for each. Blank lines are skipped. Decoding stops at the first
// malformed line; fn errors are returned as-is.
func ReadEnvelopes(r io.Reader, fn func(line int, env Envelope) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(line, env); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read envelopes: %w", err)
	}
	return nil
}
