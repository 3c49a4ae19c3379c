package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tidemark/internal/hwm"
)

// Load returns the current state of id, or nil when none was saved.
func (s *Store) Load(ctx context.Context, id hwm.Identity) (*hwm.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, table_name, column_name, process, kind, name, expression, value, modified_time, plan_id
		FROM hwm_state
		WHERE qualified_name = ?
	`, id.QualifiedName())

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id.QualifiedName(), err)
	}
	return s.registry.DecodeState(rec)
}

// Save stores state as the current value of id and appends it to the history.
// A value below the stored one is refused inside the transaction. When ctx carries a plan id (hwm.WithPlanID) the plan's proposal is marked
// committed in the same transaction.
func (s *Store) Save(ctx context.Context, id hwm.Identity, state hwm.State) error {
	if err := id.Validate(); err != nil {
		return err
	}
	rec, err := hwm.EncodeState(id, state)
	if err != nil {
		return fmt.Errorf("save %s: %w", id.QualifiedName(), err)
	}
	planID := hwm.PlanIDFrom(ctx)
	now := s.timestamp()
	name := id.QualifiedName()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save %s: begin tx: %w", name, err)
	}
	defer tx.Rollback()

	var storedKind, storedValue string
	err = tx.QueryRowContext(ctx, `
		SELECT kind, value FROM hwm_state WHERE qualified_name = ?
	`, name).Scan(&storedKind, &storedValue)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("save %s: read current: %w", name, err)
	default:
		current, err := s.registry.DecodeState(hwm.Record{Identity: id, Kind: storedKind, Name: rec.Name, Value: storedValue})
		if err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
		if err := hwm.CheckAdvance(id, current, state); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO hwm_state
		(qualified_name, source, table_name, column_name, process, kind, name, expression, value, modified_time, plan_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(qualified_name) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			expression = excluded.expression,
			value = excluded.value,
			modified_time = excluded.modified_time,
			plan_id = excluded.plan_id
	`,
		name, id.Source, id.Table, id.Column, id.Process,
		rec.Kind, rec.Name, rec.Expression, rec.Value, now, planID,
	)
	if err != nil {
		return fmt.Errorf("save %s: upsert state: %w", name, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO hwm_history
		(qualified_name, kind, name, expression, value, modified_time, plan_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, name, rec.Kind, rec.Name, rec.Expression, rec.Value, now, planID)
	if err != nil {
		return fmt.Errorf("save %s: append history: %w", name, err)
	}

	if planID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE proposals
			SET status = ?, settled_time = ?
			WHERE plan_id = ? AND status = ?
		`, hwm.StatusCommitted.String(), now, planID, hwm.StatusProposed.String())
		if err != nil {
			return fmt.Errorf("save %s: settle proposal %s: %w", name, planID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save %s: commit: %w", name, err)
	}
	return nil
}

// History returns every saved value of id, newest first.
// Returns an empty slice (not nil) when nothing was saved.
func (s *Store) History(ctx context.Context, id hwm.Identity) ([]hwm.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, name, expression, value, modified_time, plan_id
		FROM hwm_history
		WHERE qualified_name = ?
		ORDER BY id DESC
	`, id.QualifiedName())
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	history := []hwm.Record{}
	for rows.Next() {
		rec := hwm.Record{Identity: id}
		var modified string
		if err := rows.Scan(&rec.Kind, &rec.Name, &rec.Expression, &rec.Value, &modified, &rec.PlanID); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if rec.ModifiedTime, err = parseTimestamp(modified); err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

// List returns the current record of every stored identity ordered by
// qualified name.
func (s *Store) List(ctx context.Context) ([]hwm.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, table_name, column_name, process, kind, name, expression, value, modified_time, plan_id
		FROM hwm_state
		ORDER BY qualified_name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	records := []hwm.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate states: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (hwm.Record, error) {
	var rec hwm.Record
	var modified string
	err := row.Scan(
		&rec.Identity.Source, &rec.Identity.Table, &rec.Identity.Column, &rec.Identity.Process,
		&rec.Kind, &rec.Name, &rec.Expression, &rec.Value, &modified, &rec.PlanID,
	)
	if err != nil {
		return hwm.Record{}, err
	}
	if rec.ModifiedTime, err = parseTimestamp(modified); err != nil {
		return hwm.Record{}, err
	}
	return rec, nil
}
