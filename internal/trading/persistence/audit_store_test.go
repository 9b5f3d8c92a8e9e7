package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pincex/tradingcore/internal/trading/auditlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newSQLiteSink(t *testing.T) *GormAuditSink {
	t.Helper()
	sink, err := Open("sqlite", ":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func record(tenant string, n uint64) auditlog.Record {
	return auditlog.Record{
		TenantID:  tenant,
		Type:      "order_accepted",
		Pair:      "ETH/USDT",
		PairSeq:   n,
		Timestamp: time.Date(2024, 5, 2, 12, 0, 0, int(n), time.UTC),
		Payload:   json.RawMessage(`{"order_id":"o-1","price":"3120.50"}`),
	}
}

func TestGormAuditSink_AppendAndRange(t *testing.T) {
	ctx := context.Background()
	sink := newSQLiteSink(t)

	for i := uint64(1); i <= 4; i++ {
		e, err := sink.Append(ctx, record("acme", i))
		require.NoError(t, err)
		assert.Equal(t, i, e.Sequence)
	}
	_, err := sink.Append(ctx, record("globex", 1))
	require.NoError(t, err)

	entries, err := sink.Range(ctx, "acme", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, auditlog.GenesisHash, entries[0].PrevHash)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Hash, entries[i].PrevHash)
	}
	assert.Equal(t, time.Date(2024, 5, 2, 12, 0, 0, 1, time.UTC), entries[0].Timestamp)

	window, err := sink.Range(ctx, "acme", 2, 3)
	require.NoError(t, err)
	require.Len(t, window, 2)

	tenants, err := sink.Tenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, tenants)

	_, err = sink.Append(ctx, auditlog.Record{Type: "fill"})
	assert.ErrorIs(t, err, auditlog.ErrEmptyTenant)
}

func TestGormAuditSink_VerifyRange(t *testing.T) {
	ctx := context.Background()
	sink := newSQLiteSink(t)
	for i := uint64(1); i <= 5; i++ {
		_, err := sink.Append(ctx, record("acme", i))
		require.NoError(t, err)
	}

	rep, err := sink.VerifyRange(ctx, "acme", 2, 5)
	require.NoError(t, err)
	assert.True(t, rep.OK, rep.Reason)
	assert.Equal(t, 4, rep.Checked)

	// Rewrite a stored payload behind the sink's back.
	err = sink.db.Model(&AuditEntryModel{}).
		Where("tenant_id = ? AND sequence = ?", "acme", 4).
		Update("payload", `{"order_id":"o-1","price":"1.00"}`).Error
	require.NoError(t, err)

	rep, err = sink.VerifyRange(ctx, "acme", 1, 0)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	assert.Equal(t, uint64(4), rep.BrokenAt)
	assert.ErrorIs(t, rep.Err(), auditlog.ErrChainBroken)

	reports, err := auditlog.VerifyAll(ctx, sink)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].OK)
}

func TestGormAuditSink_DuplicateSequenceRejected(t *testing.T) {
	ctx := context.Background()
	sink := newSQLiteSink(t)
	e, err := sink.Append(ctx, record("acme", 1))
	require.NoError(t, err)

	row := toModel(e)
	err = sink.db.Transaction(func(tx *gorm.DB) error { return tx.Create(&row).Error })
	assert.Error(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "", zaptest.NewLogger(t))
	assert.Error(t, err)
}
