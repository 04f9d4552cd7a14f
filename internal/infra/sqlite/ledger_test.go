package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenlight-sh/greenlight/internal/ledger"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()

	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &Ledger{DB: db}
}

func TestLedger_RecordAndHistory(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	phases := []string{"PRECHECK", "SNAPSHOT_CURRENT", "REGISTER_REVISION", "UPDATE_SERVICE"}
	for i, phase := range phases {
		err := l.Record(ctx, ledger.Entry{
			DeploymentID: "d-1",
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			Phase:        phase,
			Detail:       "detail-" + phase,
		})
		require.NoError(t, err)
	}

	history, err := l.History(ctx, "d-1")
	require.NoError(t, err)
	require.Len(t, history, len(phases))

	for i, phase := range phases {
		assert.Equal(t, phase, history[i].Phase)
		assert.Equal(t, "detail-"+phase, history[i].Detail)
		assert.True(t, history[i].Timestamp.Equal(base.Add(time.Duration(i)*time.Second)))
	}
}

func TestLedger_HistoriesAreIsolatedByDeployment(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, ledger.Entry{DeploymentID: "d-1", Timestamp: time.Now(), Phase: "PRECHECK"}))
	require.NoError(t, l.Record(ctx, ledger.Entry{DeploymentID: "d-2", Timestamp: time.Now(), Phase: "PRECHECK"}))
	require.NoError(t, l.Record(ctx, ledger.Entry{DeploymentID: "d-1", Timestamp: time.Now(), Phase: "COMPLETED"}))

	history, err := l.History(ctx, "d-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "PRECHECK", history[0].Phase)
	assert.Equal(t, "COMPLETED", history[1].Phase)

	other, err := l.History(ctx, "d-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestLedger_RejectsEmptyDeploymentID(t *testing.T) {
	l := testLedger(t)

	err := l.Record(context.Background(), ledger.Entry{Timestamp: time.Now(), Phase: "PRECHECK"})
	assert.ErrorIs(t, err, ledger.ErrEmptyDeploymentID)
}

func TestLedger_UnknownDeploymentYieldsEmptyHistory(t *testing.T) {
	l := testLedger(t)

	history, err := l.History(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLedger_DuplicatePhasesAreAppendedNotReplaced(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	// A rollback re-runs UPDATE_SERVICE and MONITOR_ROLLOUT; both runs must
	// remain visible.
	for _, phase := range []string{"UPDATE_SERVICE", "MONITOR_ROLLOUT", "ROLLING_BACK", "UPDATE_SERVICE", "MONITOR_ROLLOUT"} {
		require.NoError(t, l.Record(ctx, ledger.Entry{DeploymentID: "d-1", Timestamp: time.Now(), Phase: phase}))
	}

	history, err := l.History(ctx, "d-1")
	require.NoError(t, err)
	assert.Len(t, history, 5)
}
