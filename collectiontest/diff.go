// Package collectiontest provides shared test assertions for packages
// that compare a collection's visible state against an expected snapshot.
package collectiontest

import (
	"encoding/json"
	"testing"

	"github.com/nsf/jsondiff"
	"github.com/stretchr/testify/require"
)

// RequireJSONEqual marshals want and got and, on mismatch, fails t with a
// human-readable diff (spec's "visible-state snapshot" comparisons in
// collection/txn/livequery tests).
func RequireJSONEqual(t *testing.T, want, got any) {
	t.Helper()

	var wantJSON, err = json.Marshal(want)
	require.NoError(t, err)
	var gotJSON []byte
	gotJSON, err = json.Marshal(got)
	require.NoError(t, err)

	var opts = jsondiff.DefaultConsoleOptions()
	var diff, report = jsondiff.Compare(wantJSON, gotJSON, &opts)
	if diff != jsondiff.FullMatch {
		t.Fatalf("visible state mismatch (%s):\n%s", diff, report)
	}
}
