package livequery

import (
	"sync"

	"github.com/flowcore/livedb/dataflow"
)

// UpstreamLoader is the source-adapter surface a loadSubset request is
// issued against (spec §6 persistence adapter contract's loadSubset,
// reused here for the in-process case).
type UpstreamLoader interface {
	LoadSubset(req dataflow.LoadSubsetRequest) error
}

// Loader deduplicates in-flight loadSubset requests by their canonical
// cursor key (spec §4.9 "Deduplication of identical load requests is
// mandatory (by a canonical serialization of the cursor)", §4.11 "The
// runtime serializes these requests into a canonical key and suppresses
// duplicates").
type Loader struct {
	mu      sync.Mutex
	inFlight map[string]struct{}
}

// NewLoader returns an empty Loader.
func NewLoader() *Loader {
	return &Loader{inFlight: make(map[string]struct{})}
}

// Request issues req against upstream unless an identical request (by
// canonical key) is already in flight. Returns true if a new request was
// issued.
func (l *Loader) Request(upstream UpstreamLoader, req dataflow.LoadSubsetRequest) (bool, error) {
	var key = req.CanonicalKey()

	l.mu.Lock()
	if _, dup := l.inFlight[key]; dup {
		l.mu.Unlock()
		return false, nil
	}
	l.inFlight[key] = struct{}{}
	l.mu.Unlock()

	var err = upstream.LoadSubset(req)

	l.mu.Lock()
	delete(l.inFlight, key)
	l.mu.Unlock()

	return true, err
}

// InFlightCount reports the number of currently outstanding requests,
// used by the runtime's readiness rule (spec §4.9 "the live query is
// ready iff ... no subset-loading request is in flight").
func (l *Loader) InFlightCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inFlight)
}
