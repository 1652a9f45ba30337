package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/breatheroute/sensorbridge/internal/measurement"
)

// DefaultTable is the mirror table when none is configured.
const DefaultTable = "measurement_snapshot"

var mirrorColumns = []string{"record_id", "position", "data", "synced_at"}

// TxBeginner starts transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SnapshotMirror keeps one table equal to the latest written snapshot.
// Each row holds a record as a JSONB object with the snapshot's columns in
// table order.
type SnapshotMirror struct {
	db     TxBeginner
	table  pgx.Identifier
	now    func() time.Time
	logger zerolog.Logger
}

// MirrorConfig holds configuration for a SnapshotMirror.
type MirrorConfig struct {
	DB TxBeginner

	// Table is "name" or "schema.name" (default: DefaultTable).
	Table string

	Logger zerolog.Logger
}

// NewSnapshotMirror creates a mirror.
func NewSnapshotMirror(cfg MirrorConfig) (*SnapshotMirror, error) {
	if cfg.DB == nil {
		return nil, errors.New("mirror requires a database")
	}
	table, err := ParseTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	return &SnapshotMirror{
		db:     cfg.DB,
		table:  table,
		now:    time.Now,
		logger: cfg.Logger,
	}, nil
}

// ParseTable splits a possibly schema-qualified table name.
func ParseTable(name string) (pgx.Identifier, error) {
	if name == "" {
		name = DefaultTable
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return pgx.Identifier(parts), nil
}

// CreateTableSQL returns the DDL of the mirror table.
func (m *SnapshotMirror) CreateTableSQL() string {
	return "CREATE TABLE IF NOT EXISTS " + m.table.Sanitize() + ` (
	record_id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	data JSONB NOT NULL,
	synced_at TIMESTAMPTZ NOT NULL
)`
}

// ReplaceSnapshot replaces the table contents with t in one transaction.
// Readers see either the previous snapshot or t.
func (m *SnapshotMirror) ReplaceSnapshot(ctx context.Context, t *measurement.Table) error {
	rows, err := Rows(t, m.now().UTC())
	if err != nil {
		return err
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, m.CreateTableSQL()); err != nil {
		return fmt.Errorf("create mirror table: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM "+m.table.Sanitize()); err != nil {
		return fmt.Errorf("clear mirror table: %w", err)
	}

	n, err := tx.CopyFrom(ctx, m.table, mirrorColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy snapshot rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mirror: %w", err)
	}

	m.logger.Debug().
		Str("table", m.table.Sanitize()).
		Int64("rows", n).
		Msg("snapshot mirrored")

	return nil
}

// Rows converts t into mirror rows: record_id, position, data, synced_at.
func Rows(t *measurement.Table, syncedAt time.Time) ([][]any, error) {
	idCol := t.ColumnIndex(measurement.FieldRecordID)
	if idCol < 0 && t.Len() > 0 {
		return nil, errors.New("table has no record_id column")
	}

	rows := make([][]any, 0, t.Len())
	for i, row := range t.Rows {
		data, err := rowJSON(t.Columns, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, []any{row[idCol].String(), int32(i), data, syncedAt}) //nolint:gosec // row count fits int32
	}
	return rows, nil
}

// rowJSON encodes a row as an object keyed by column, in column order.
func rowJSON(columns []string, row []measurement.Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var v any
		if i < len(row) {
			v = row[i].Interface()
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
