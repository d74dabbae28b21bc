package collection

import (
	"time"

	"github.com/flowcore/livedb/ops"
)

// DefaultGCTime is the inactivity window before an idle collection's state
// is torn down, per spec §4.3, applied when Options.GCTime is left nil.
// A configured GCTime of zero disables GC entirely.
const DefaultGCTime = 5 * time.Minute

// Validator is the optional schema-validation collaborator a collection may
// be configured with (spec §1: "Schema validation is an optional
// collaborator invoked via a standard validator interface").
type Validator[T any] interface {
	Validate(T) error
}

// Options configures a Collection. Fields mirror spec §6 "Configuration
// options", generalized with Go generics in place of the source's
// structural typing.
type Options[T any, K comparable] struct {
	// ID identifies the collection in logs and metrics.
	ID string
	// KeyOf derives the primary key from a record (spec §3 keyOf).
	KeyOf func(T) K
	// GCTime is the inactivity window before cleanup; 0 disables GC
	// (spec §4.3, §6). Left nil, it defaults to DefaultGCTime; the nil/zero
	// distinction is why this is a pointer rather than a bare Duration.
	GCTime *time.Duration
	// Compare is stored with the options but no code in this module reads
	// it; ordered live queries break ties between equal sort keys by output
	// key instead (dataflow.Graph.WindowedView).
	Compare func(a, b T) int
	// Schema is an optional validator invoked on every optimistic write.
	Schema Validator[T]
	// Metrics is the shared metrics registry; defaults to ops.Noop().
	Metrics *ops.Metrics
	// Log is the base logger; defaults to a no-op logger.
	Log ops.Logger
}

func (o *Options[T, K]) setDefaults() {
	if o.ID == "" {
		o.ID = "collection"
	}
	if o.GCTime == nil {
		var d = DefaultGCTime
		o.GCTime = &d
	}
	if o.Metrics == nil {
		o.Metrics = ops.Noop()
	}
	if o.Log == nil {
		o.Log = ops.NopLogger()
	}
}

// GCDisabled reports whether the configured GCTime disables garbage
// collection (spec §4.3, §6: "0 disables"). Must be called after
// setDefaults, i.e. on a Collection's resolved Options.
func (o *Options[T, K]) GCDisabled() bool {
	return *o.GCTime == 0
}

// WithNoGC is the GCTime value meaning "never garbage collect", matching
// the spec's `gcTime: 0` meaning disabled.
var WithNoGC = time.Duration(0)
