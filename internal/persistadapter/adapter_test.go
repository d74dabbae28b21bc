package persistadapter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyCommittedTxThenLoadSubset(t *testing.T) {
	var a = New()
	require.NoError(t, a.Open("widgets", 1, SyncAbsentError))

	require.NoError(t, a.ApplyCommittedTx("widgets", CommittedTx{
		TxID: "tx1", RowVersion: 1,
		Mutations: []Mutation{
			{Type: Insert, Key: "w1", Value: "red"},
			{Type: Insert, Key: "w2", Value: "blue"},
		},
	}))

	var rows, err = a.LoadSubset("widgets", LoadSubsetQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestPullSinceReturnsOnlyLaterVersions(t *testing.T) {
	var a = New()
	require.NoError(t, a.Open("widgets", 1, SyncAbsentError))
	require.NoError(t, a.ApplyCommittedTx("widgets", CommittedTx{TxID: "tx1", RowVersion: 1}))
	require.NoError(t, a.ApplyCommittedTx("widgets", CommittedTx{TxID: "tx2", RowVersion: 2}))

	var txs, err = a.PullSince("widgets", 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "tx2", txs[0].TxID)
}

// TestSchemaMismatchWithoutSyncSourceErrors grounds spec scenario S6: a
// collection persisted with schemaVersion=1 and no sync source, reopened
// at schemaVersion=2, must fail loadSubset-adjacent access with a schema
// mismatch rather than silently serving stale-shaped rows.
func TestSchemaMismatchWithoutSyncSourceErrors(t *testing.T) {
	var a = New()
	require.NoError(t, a.Open("accounts", 1, DefaultPolicy(false)))
	require.NoError(t, a.ApplyCommittedTx("accounts", CommittedTx{
		RowVersion: 1,
		Mutations:  []Mutation{{Type: Insert, Key: "a1", Value: "v1-shape"}},
	}))

	var err = a.Open("accounts", 2, DefaultPolicy(false))
	require.Error(t, err)
	var mismatch *ErrSchemaMismatch
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, 1, mismatch.PersistedVersion)
	require.Equal(t, 2, mismatch.Wanted)
}

// TestSchemaMismatchWithSyncSourceResetsAndResyncs grounds the S6
// alternative path: the same version bump, but with a sync source
// configured, resets local state instead of erroring so a fresh sync can
// repopulate it.
func TestSchemaMismatchWithSyncSourceResetsAndResyncs(t *testing.T) {
	var a = New()
	require.NoError(t, a.Open("accounts", 1, DefaultPolicy(true)))
	require.NoError(t, a.ApplyCommittedTx("accounts", CommittedTx{
		RowVersion: 1,
		Mutations:  []Mutation{{Type: Insert, Key: "a1", Value: "v1-shape"}},
	}))

	require.NoError(t, a.Open("accounts", 2, DefaultPolicy(true)))

	var rows, err = a.LoadSubset("accounts", LoadSubsetQuery{})
	require.NoError(t, err)
	require.Empty(t, rows, "reset must clear rows persisted under the old schema version")

	require.NoError(t, a.ApplyCommittedTx("accounts", CommittedTx{
		RowVersion: 1,
		Mutations:  []Mutation{{Type: Insert, Key: "a1", Value: "v2-shape"}},
	}))
	rows, err = a.LoadSubset("accounts", LoadSubsetQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestLoadSubsetPaginatesAndFiltersByCursor(t *testing.T) {
	var a = New()
	require.NoError(t, a.Open("items", 1, SyncAbsentError))
	require.NoError(t, a.ApplyCommittedTx("items", CommittedTx{
		RowVersion: 1,
		Mutations: []Mutation{
			{Type: Insert, Key: "k1", Value: 1},
			{Type: Insert, Key: "k2", Value: 2},
			{Type: Insert, Key: "k3", Value: 3},
		},
	}))

	var rows, err = a.LoadSubset("items", LoadSubsetQuery{MinValues: []any{"k1"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "k2", rows[0].Key)
	require.Equal(t, "k3", rows[1].Key)
}
