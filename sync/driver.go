// Package sync implements sync ingestion (spec §4.4, component C4): it
// drives an external sync adapter against a collection's Driver surface,
// batching writes into pending transactions and handling truncate and
// must-refetch reconciliation.
//
// Grounded on the teacher's capture/driver/ingest package: a thin driver
// wrapper around an application-supplied source, logged with the same
// logrus.WithFields idiom used throughout the teacher's shuffle package.
package sync

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/flowcore/livedb/collection"
)

// Driver is the narrow surface package sync needs from a collection; it
// matches *collection.Collection[T, K] exactly (spec §4.4 "Driver
// interface the adapter receives: begin(), write(), commit(), truncate(),
// markReady()").
type Driver[T any, K comparable] interface {
	StartLoading() error
	BeginPendingSync()
	WriteSync(op collection.WriteOp[T, K]) error
	TruncateSync() error
	CommitSync() error
	MarkReady() error
	SetErrored(cause error)
}

// Adapter is the application-supplied collaborator that actually talks to
// the remote source (a database change stream, a durable-stream client, a
// mobile persistence layer -- spec §1 "out of scope", consumed here only
// through this interface). Run is invoked once per ingestion epoch and
// should block, driving the Sink, until ctx is cancelled or a
// non-recoverable error occurs.
type Adapter[T any, K comparable] interface {
	Run(ctx context.Context, sink Sink[T, K]) error
}

// Sink is what an Adapter writes through; it is the imperative
// begin/write/commit/truncate/markReady surface of spec §5 "the core
// exposes imperative begin/write/commit/markReady; the adapter owns any
// async iteration."
type Sink[T any, K comparable] interface {
	Begin()
	Write(op collection.WriteOp[T, K]) error
	Truncate() error
	Commit() error
	MarkReady() error
}

// CleanupFunc is the type of an Ingestion's optional teardown handle, run
// by Stop when set.
type CleanupFunc func()

// Ingestion owns one sync epoch: it starts the collection loading, runs
// the adapter in a background goroutine, and routes adapter errors to the
// collection's error state.
type Ingestion[T any, K comparable] struct {
	driver  Driver[T, K]
	adapter Adapter[T, K]
	log     *logrus.Entry

	cancel  context.CancelFunc
	done    chan struct{}
	cleanup CleanupFunc
}

// Start begins driving adapter against driver. It transitions the
// collection idle -> loading immediately and returns an Ingestion handle;
// call Stop to tear it down (cancels the adapter's context and waits for
// Run to return).
func Start[T any, K comparable](ctx context.Context, driver Driver[T, K], adapter Adapter[T, K], log *logrus.Entry) (*Ingestion[T, K], error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := driver.StartLoading(); err != nil {
		return nil, fmt.Errorf("sync: starting ingestion: %w", err)
	}

	var runCtx, cancel = context.WithCancel(ctx)
	var ing = &Ingestion[T, K]{
		driver:  driver,
		adapter: adapter,
		log:     log,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	var sink = &sink[T, K]{driver: driver}
	go ing.run(runCtx, sink)

	return ing, nil
}

func (ing *Ingestion[T, K]) run(ctx context.Context, sink *sink[T, K]) {
	defer close(ing.done)

	if err := ing.adapter.Run(ctx, sink); err != nil && ctx.Err() == nil {
		ing.log.WithFields(logrus.Fields{"err": errors.Cause(err)}).Error("sync adapter failed")
		ing.driver.SetErrored(err)
	}
}

// Stop cancels the adapter's context, waits for Run to return, and then
// runs ing.cleanup if it is set. Neither Sink nor Adapter offers a way to
// register a cleanup handle, and Start leaves cleanup nil.
func (ing *Ingestion[T, K]) Stop() {
	ing.cancel()
	<-ing.done
	if ing.cleanup != nil {
		ing.cleanup()
	}
}

// sink is the concrete Sink handed to an Adapter; it forwards each call
// onto the owning collection's Driver surface.
type sink[T any, K comparable] struct {
	driver  Driver[T, K]
	started bool
}

func (s *sink[T, K]) Begin() {
	s.driver.BeginPendingSync()
	s.started = true
}

func (s *sink[T, K]) Write(op collection.WriteOp[T, K]) error {
	return s.driver.WriteSync(op)
}

func (s *sink[T, K]) Truncate() error {
	return s.driver.TruncateSync()
}

// Commit applies the pending sync transaction. Per spec §4.4 "truncate +
// up-to-date semantics: an ingestion may send a truncate followed by a
// fresh set of inserts; the commit applies both atomically from the
// subscriber's perspective" -- that atomicity is already guaranteed by
// collection.store committing the whole pending transaction as one batch,
// so Commit here is a direct passthrough.
func (s *sink[T, K]) Commit() error {
	return s.driver.CommitSync()
}

func (s *sink[T, K]) MarkReady() error {
	return s.driver.MarkReady()
}
