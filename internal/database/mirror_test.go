package database_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/sensorbridge/internal/database"
	"github.com/breatheroute/sensorbridge/internal/measurement"
)

// fakeTx records the statements of one transaction. Methods the mirror does
// not use panic through the nil embedded interface.
type fakeTx struct {
	pgx.Tx

	execs      []string
	copyTable  pgx.Identifier
	copyCols   []string
	copied     [][]any
	copyErr    error
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeTx) CopyFrom(_ context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	f.copyTable = table
	f.copyCols = cols
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		f.copied = append(f.copied, values)
	}
	return int64(len(f.copied)), src.Err()
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeDB struct{ tx *fakeTx }

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) { return d.tx, nil }

func sampleTable() *measurement.Table {
	snap := measurement.NewSnapshot("/measurements")
	snap.Add("-Nz1", []measurement.Field{
		{Name: "temperature", Value: measurement.Number("21.5")},
	})
	snap.Add("-Nz2", []measurement.Field{
		{Name: "co2_ppm", Value: measurement.Number("410")},
		{Name: "temperature", Value: measurement.Number("22.0")},
		{Name: "room", Value: measurement.String("lab")},
	})
	return measurement.Materialize(snap)
}

func TestRows(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	rows, err := database.Rows(sampleTable(), at)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "-Nz1", rows[0][0])
	assert.Equal(t, int32(0), rows[0][1])
	assert.JSONEq(t, `{"co2_ppm":null,"temperature":21.5,"record_id":"-Nz1","room":null}`, string(rows[0][2].([]byte)))
	assert.Equal(t, at, rows[0][3])

	assert.Equal(t, "-Nz2", rows[1][0])
	assert.Equal(t, `{"co2_ppm":410,"temperature":22.0,"record_id":"-Nz2","room":"lab"}`, string(rows[1][2].([]byte)),
		"keys keep column order")
}

func TestRows_HeaderOnly(t *testing.T) {
	rows, err := database.Rows(measurement.HeaderOnly(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSnapshotMirror_ReplaceSnapshot(t *testing.T) {
	tx := &fakeTx{}
	m, err := database.NewSnapshotMirror(database.MirrorConfig{
		DB:     &fakeDB{tx: tx},
		Table:  "lab.snapshot",
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, m.ReplaceSnapshot(context.Background(), sampleTable()))

	require.Len(t, tx.execs, 2)
	assert.True(t, strings.HasPrefix(tx.execs[0], `CREATE TABLE IF NOT EXISTS "lab"."snapshot"`))
	assert.Equal(t, `DELETE FROM "lab"."snapshot"`, tx.execs[1])
	assert.Equal(t, pgx.Identifier{"lab", "snapshot"}, tx.copyTable)
	assert.Equal(t, []string{"record_id", "position", "data", "synced_at"}, tx.copyCols)
	assert.Len(t, tx.copied, 2)
	assert.True(t, tx.committed)
}

func TestSnapshotMirror_CopyFailureRollsBack(t *testing.T) {
	tx := &fakeTx{copyErr: errors.New("connection lost")}
	m, err := database.NewSnapshotMirror(database.MirrorConfig{DB: &fakeDB{tx: tx}, Logger: zerolog.Nop()})
	require.NoError(t, err)

	err = m.ReplaceSnapshot(context.Background(), sampleTable())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestParseTable(t *testing.T) {
	id, err := database.ParseTable("")
	require.NoError(t, err)
	assert.Equal(t, pgx.Identifier{database.DefaultTable}, id)

	id, err = database.ParseTable("public.readings")
	require.NoError(t, err)
	assert.Equal(t, pgx.Identifier{"public", "readings"}, id)

	for _, bad := range []string{"a.b.c", ".x", "x."} {
		_, err := database.ParseTable(bad)
		assert.Error(t, err, bad)
	}
}

func TestConnect_RequiresDSN(t *testing.T) {
	_, err := database.Connect(context.Background(), database.Config{})
	assert.Error(t, err)
}
