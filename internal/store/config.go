package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/referral/internal/model"
)

// ApplyProgram writes a program configuration in one transaction.
//
// Programs, circles, promoters and links are upserted. A promoter's
// initial circle is applied only when it has no membership yet, so a
// reload never undoes a circle switch. The program's automations and
// conditions are replaced wholesale.
func (s *Store) ApplyProgram(ctx context.Context, cfg model.ProgramConfig, now time.Time) error {
	return s.InTx(ctx, func(tx *Tx) error {
		return tx.applyProgram(ctx, cfg, now)
	})
}

func (t *Tx) applyProgram(ctx context.Context, cfg model.ProgramConfig, now time.Time) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO programs (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, cfg.ID, cfg.Name)
	if err != nil {
		return fmt.Errorf("apply program %s: %w", cfg.ID, err)
	}

	for _, c := range cfg.Circles {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO circles (program_id, id, name) VALUES (?, ?, ?)
			ON CONFLICT(program_id, id) DO UPDATE SET name = excluded.name
		`, cfg.ID, c.ID, c.Name)
		if err != nil {
			return fmt.Errorf("apply circle %s: %w", c.ID, err)
		}
	}

	for _, p := range cfg.Promoters {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO promoters (program_id, id, name, reference) VALUES (?, ?, ?, ?)
			ON CONFLICT(program_id, id) DO UPDATE SET name = excluded.name, reference = excluded.reference
		`, cfg.ID, p.ID, p.Name, p.Reference)
		if err != nil {
			return fmt.Errorf("apply promoter %s: %w", p.ID, err)
		}
		if p.CircleID != "" {
			if _, err := t.EnsureMembership(ctx, cfg.ID, p.ID, p.CircleID, now); err != nil {
				return err
			}
		}
	}

	for _, l := range cfg.Links {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO links (program_id, id, promoter_id, name, reference) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(program_id, id) DO UPDATE SET
				promoter_id = excluded.promoter_id, name = excluded.name, reference = excluded.reference
		`, cfg.ID, l.ID, l.PromoterID, l.Name, l.Reference)
		if err != nil {
			return fmt.Errorf("apply link %s: %w", l.ID, err)
		}
	}

	// Conditions go with their automation via ON DELETE CASCADE.
	if _, err := t.q.ExecContext(ctx, `DELETE FROM automations WHERE program_id = ?`, cfg.ID); err != nil {
		return fmt.Errorf("clear automations of %s: %w", cfg.ID, err)
	}
	for _, a := range cfg.Automations {
		a.ProgramID = cfg.ID
		if err := t.insertAutomation(ctx, a); err != nil {
			return err
		}
	}

	return nil
}

func (t *Tx) insertAutomation(ctx context.Context, a model.Automation) error {
	effectType, effect, err := marshalEffect(a.Effect)
	if err != nil {
		return fmt.Errorf("write automation %s: %w", a.ID, err)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO automations (program_id, id, circle_id, name, trigger_type, status, effect_type, effect)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ProgramID, a.ID, a.CircleID, a.Name, string(a.Trigger), string(a.Status), string(effectType), effect)
	if err != nil {
		return fmt.Errorf("write automation %s: %w", a.ID, err)
	}

	for i, c := range a.Conditions {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO conditions (program_id, automation_id, position, id, parameter, operator, value)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, a.ProgramID, a.ID, i, c.ID, string(c.Parameter), string(c.Operator), c.Value)
		if err != nil {
			return fmt.Errorf("write condition %d of %s: %w", i, a.ID, err)
		}
	}
	return nil
}

// ListPrograms returns all program ids in ascending order.
func (t *Tx) ListPrograms(ctx context.Context) ([]string, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT id FROM programs ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query programs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate programs: %w", err)
	}
	return ids, nil
}

// ListAutomations returns every automation of a program, active or not,
// with conditions loaded eagerly. Ordered by automation id.
func (t *Tx) ListAutomations(ctx context.Context, programID string) ([]model.Automation, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, circle_id, name, trigger_type, status, effect_type, effect
		FROM automations
		WHERE program_id = ?
		ORDER BY id COLLATE BINARY ASC
	`, programID)
	if err != nil {
		return nil, fmt.Errorf("query automations: %w", err)
	}

	automations := []model.Automation{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			a                  model.Automation
			trigger, status    string
			effectType, effect string
		)
		if err := rows.Scan(&a.ID, &a.CircleID, &a.Name, &trigger, &status, &effectType, &effect); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan automation: %w", err)
		}
		a.ProgramID = programID
		a.Trigger = model.Trigger(trigger)
		a.Status = model.AutomationStatus(status)
		if a.Effect, err = unmarshalEffect(effectType, effect); err != nil {
			rows.Close()
			return nil, fmt.Errorf("automation %s: %w", a.ID, err)
		}
		a.Conditions = []model.Condition{}
		index[a.ID] = len(automations)
		automations = append(automations, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate automations: %w", err)
	}
	rows.Close()

	crows, err := t.q.QueryContext(ctx, `
		SELECT automation_id, id, parameter, operator, value
		FROM conditions
		WHERE program_id = ?
		ORDER BY automation_id COLLATE BINARY ASC, position ASC
	`, programID)
	if err != nil {
		return nil, fmt.Errorf("query conditions: %w", err)
	}
	defer crows.Close()

	for crows.Next() {
		var (
			automationID        string
			c                   model.Condition
			parameter, operator string
		)
		if err := crows.Scan(&automationID, &c.ID, &parameter, &operator, &c.Value); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		c.Parameter = model.Parameter(parameter)
		c.Operator = model.Operator(operator)
		if i, ok := index[automationID]; ok {
			automations[i].Conditions = append(automations[i].Conditions, c)
		}
	}
	if err := crows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conditions: %w", err)
	}

	return automations, nil
}

// GetPromoter returns a promoter's display attributes.
// CircleID is left empty; use GetMembership for the current circle.
func (t *Tx) GetPromoter(ctx context.Context, programID, promoterID string) (model.Promoter, error) {
	p := model.Promoter{ID: promoterID, ProgramID: programID}
	err := t.q.QueryRowContext(ctx, `
		SELECT name, reference FROM promoters WHERE program_id = ? AND id = ?
	`, programID, promoterID).Scan(&p.Name, &p.Reference)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Promoter{}, fmt.Errorf("promoter %s/%s: %w", programID, promoterID, ErrNotFound)
	}
	if err != nil {
		return model.Promoter{}, fmt.Errorf("read promoter: %w", err)
	}
	return p, nil
}

// GetLink returns a link's owner and display attributes.
func (t *Tx) GetLink(ctx context.Context, programID, linkID string) (model.Link, error) {
	l := model.Link{ID: linkID, ProgramID: programID}
	err := t.q.QueryRowContext(ctx, `
		SELECT promoter_id, name, reference FROM links WHERE program_id = ? AND id = ?
	`, programID, linkID).Scan(&l.PromoterID, &l.Name, &l.Reference)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Link{}, fmt.Errorf("link %s/%s: %w", programID, linkID, ErrNotFound)
	}
	if err != nil {
		return model.Link{}, fmt.Errorf("read link: %w", err)
	}
	return l, nil
}

// GetMembership returns the circle a promoter currently belongs to.
func (t *Tx) GetMembership(ctx context.Context, programID, promoterID string) (string, error) {
	var circleID string
	err := t.q.QueryRowContext(ctx, `
		SELECT circle_id FROM circle_memberships WHERE program_id = ? AND promoter_id = ?
	`, programID, promoterID).Scan(&circleID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("membership of %s/%s: %w", programID, promoterID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read membership: %w", err)
	}
	return circleID, nil
}

// EnsureMembership puts a promoter into circleID unless it already has a
// membership. Returns true if a row was inserted.
func (t *Tx) EnsureMembership(ctx context.Context, programID, promoterID, circleID string, now time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO circle_memberships (program_id, promoter_id, circle_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(program_id, promoter_id) DO NOTHING
	`, programID, promoterID, circleID, formatTime(now))
	if err != nil {
		return false, fmt.Errorf("ensure membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure membership: rows affected: %w", err)
	}
	return n > 0, nil
}

// SetMembership unconditionally moves a promoter into circleID.
func (t *Tx) SetMembership(ctx context.Context, programID, promoterID, circleID string, now time.Time) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO circle_memberships (program_id, promoter_id, circle_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(program_id, promoter_id) DO UPDATE SET
			circle_id = excluded.circle_id, updated_at = excluded.updated_at
	`, programID, promoterID, circleID, formatTime(now))
	if err != nil {
		return fmt.Errorf("set membership: %w", err)
	}
	return nil
}

// ReplaceMembership moves a promoter from fromCircleID to toCircleID.
//
// The move is a single conditional UPDATE of the promoter's only membership
// row, so no reader can observe the promoter in zero or two circles.
// Returns false when the promoter is not currently in fromCircleID.
func (t *Tx) ReplaceMembership(ctx context.Context, programID, promoterID, fromCircleID, toCircleID string, now time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE circle_memberships
		SET circle_id = ?, updated_at = ?
		WHERE program_id = ? AND promoter_id = ? AND circle_id = ?
	`, toCircleID, formatTime(now), programID, promoterID, fromCircleID)
	if err != nil {
		return false, fmt.Errorf("replace membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replace membership: rows affected: %w", err)
	}
	return n == 1, nil
}
