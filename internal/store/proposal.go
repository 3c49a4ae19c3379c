package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tidemark/internal/hwm"
	"github.com/roach88/tidemark/internal/planerr"
)

// SaveProposal records the proposal of plan planID. Saving the same plan id
// twice is an error.
func (s *Store) SaveProposal(ctx context.Context, planID string, p *hwm.Proposal) error {
	if planID == "" {
		return planerr.InvalidInput("plan_id", "plan id is required")
	}
	if p == nil || p.State.Kind == nil {
		return planerr.InvalidInput("proposal", "proposal with a kind is required")
	}

	value, err := serializeOrNull(p.State.Kind, p.State.Value)
	if err != nil {
		return fmt.Errorf("save proposal %s: %w", planID, err)
	}
	var previous sql.NullString
	var previousExpr string
	if p.Previous != nil {
		if previous, err = serializeOrNull(p.State.Kind, p.Previous.Value); err != nil {
			return fmt.Errorf("save proposal %s: previous: %w", planID, err)
		}
		previousExpr = p.Previous.Expression
	}

	id := p.Identity
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals
		(plan_id, qualified_name, source, table_name, column_name, process,
		 kind, name, expression, value, previous_value, previous_expression, status, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		planID, id.QualifiedName(), id.Source, id.Table, id.Column, id.Process,
		p.State.Kind.Name(), p.State.Name, p.State.Expression, value, previous, previousExpr,
		p.Status().String(), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("save proposal %s: %w", planID, err)
	}
	return nil
}

// LoadProposal rebuilds the proposal of plan planID with its recorded status.
func (s *Store) LoadProposal(ctx context.Context, planID string) (*hwm.Proposal, error) {
	var (
		id                      hwm.Identity
		kindName, name, expr    string
		value, previous         sql.NullString
		previousExpr, statusStr string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT source, table_name, column_name, process, kind, name, expression,
		       value, previous_value, previous_expression, status
		FROM proposals
		WHERE plan_id = ?
	`, planID).Scan(
		&id.Source, &id.Table, &id.Column, &id.Process, &kindName, &name, &expr,
		&value, &previous, &previousExpr, &statusStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planerr.InvalidInput("plan_id", "no proposal recorded for plan %s", planID)
	}
	if err != nil {
		return nil, fmt.Errorf("load proposal %s: %w", planID, err)
	}

	kind, err := s.registry.Kind(kindName)
	if err != nil {
		return nil, fmt.Errorf("load proposal %s: %w", planID, err)
	}
	status, err := hwm.ParseStatus(statusStr)
	if err != nil {
		return nil, fmt.Errorf("load proposal %s: %w", planID, err)
	}

	state := hwm.State{Name: name, Kind: kind, Expression: expr}
	if state.Value, err = deserializeOrNil(kind, value); err != nil {
		return nil, fmt.Errorf("load proposal %s: %w", planID, err)
	}
	var prev *hwm.State
	if previous.Valid {
		v, err := deserializeOrNil(kind, previous)
		if err != nil {
			return nil, fmt.Errorf("load proposal %s: previous: %w", planID, err)
		}
		prev = &hwm.State{Name: name, Kind: kind, Expression: previousExpr, Value: v}
	}
	return hwm.RestoreProposal(id, state, prev, status), nil
}

// SettleProposal records the final status of plan planID.
func (s *Store) SettleProposal(ctx context.Context, planID string, status hwm.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET status = ?, settled_time = COALESCE(settled_time, ?)
		WHERE plan_id = ?
	`, status.String(), s.timestamp(), planID)
	if err != nil {
		return fmt.Errorf("settle proposal %s: %w", planID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle proposal %s: rows affected: %w", planID, err)
	}
	if n == 0 {
		return planerr.InvalidInput("plan_id", "no proposal recorded for plan %s", planID)
	}
	return nil
}

// PendingProposals returns the plan ids still proposed for id, oldest first.
func (s *Store) PendingProposals(ctx context.Context, id hwm.Identity) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT plan_id FROM proposals
		WHERE qualified_name = ? AND status = ?
		ORDER BY created_time ASC, plan_id COLLATE BINARY ASC
	`, id.QualifiedName(), hwm.StatusProposed.String())
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var planID string
		if err := rows.Scan(&planID); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		ids = append(ids, planID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return ids, nil
}

func serializeOrNull(kind hwm.Kind, v hwm.Value) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	s, err := kind.Serialize(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func deserializeOrNil(kind hwm.Kind, v sql.NullString) (hwm.Value, error) {
	if !v.Valid {
		return nil, nil
	}
	return kind.Deserialize(v.String)
}
