package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/livedb/collection"
)

type fakeDriver struct {
	startLoadingCalled bool
	begun              int
	written            []collection.WriteOp[testRecord, string]
	truncated          int
	committed          int
	markedReady        int
	erroredWith        error
}

type testRecord struct {
	ID   string
	Name string
}

func (f *fakeDriver) StartLoading() error {
	f.startLoadingCalled = true
	return nil
}
func (f *fakeDriver) BeginPendingSync() { f.begun++ }
func (f *fakeDriver) WriteSync(op collection.WriteOp[testRecord, string]) error {
	f.written = append(f.written, op)
	return nil
}
func (f *fakeDriver) TruncateSync() error { f.truncated++; return nil }
func (f *fakeDriver) CommitSync() error   { f.committed++; return nil }
func (f *fakeDriver) MarkReady() error    { f.markedReady++; return nil }
func (f *fakeDriver) SetErrored(cause error) {
	f.erroredWith = cause
}

type scriptedAdapter struct {
	fn func(ctx context.Context, sink Sink[testRecord, string]) error
}

func (a *scriptedAdapter) Run(ctx context.Context, sink Sink[testRecord, string]) error {
	return a.fn(ctx, sink)
}

func TestIngestionDrivesSinkThroughDriver(t *testing.T) {
	var driver = &fakeDriver{}
	var adapter = &scriptedAdapter{fn: func(ctx context.Context, sink Sink[testRecord, string]) error {
		sink.Begin()
		require.NoError(t, sink.Write(collection.WriteOp[testRecord, string]{
			Type: collection.Insert, Key: "a", Value: testRecord{ID: "a", Name: "alpha"},
		}))
		require.NoError(t, sink.Commit())
		require.NoError(t, sink.MarkReady())
		<-ctx.Done()
		return nil
	}}

	var ing, err = Start[testRecord, string](context.Background(), driver, adapter, nil)
	require.NoError(t, err)
	require.True(t, driver.startLoadingCalled)

	require.Eventually(t, func() bool { return driver.markedReady == 1 }, time.Second, time.Millisecond)
	require.Equal(t, 1, driver.begun)
	require.Len(t, driver.written, 1)
	require.Equal(t, 1, driver.committed)

	ing.Stop()
	require.Nil(t, driver.erroredWith)
}

func TestIngestionRoutesAdapterErrorToSetErrored(t *testing.T) {
	var driver = &fakeDriver{}
	var failure = context.Canceled
	var adapter = &scriptedAdapter{fn: func(ctx context.Context, sink Sink[testRecord, string]) error {
		return failure
	}}

	var ing, err = Start[testRecord, string](context.Background(), driver, adapter, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return driver.erroredWith != nil }, time.Second, time.Millisecond)
	ing.Stop()
}
