package collection

import (
	"time"

	"github.com/flowcore/livedb/ops"
)

// lifecycle owns the Collection's Status state machine, the first-ready
// callback registry, and the GC timer (spec §4.3).
type lifecycle struct {
	collID  string
	metrics *ops.Metrics
	log     ops.Logger

	status          Status
	onFirstReady    []func()
	firstReadyFired bool

	gcTime    time.Duration
	gcTimer   *time.Timer
	gcArmedAt time.Time
}

func newLifecycle(collID string, gcTime time.Duration, metrics *ops.Metrics, log ops.Logger) *lifecycle {
	return &lifecycle{
		collID:  collID,
		metrics: metrics,
		log:     log,
		status:  StatusIdle,
		gcTime:  gcTime,
	}
}

// transition moves the state machine along (from, to); returns
// *TransitionError if the edge doesn't exist in the fixed graph.
func (l *lifecycle) transition(to Status) error {
	if !canTransition(l.status, to) {
		return &TransitionError{From: l.status, To: to}
	}
	var from = l.status
	l.status = to
	if l.log != nil {
		l.log.WithFields(map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		}).Debug("collection status transition")
	}
	if to == StatusCleanedUp || to == StatusLoading {
		// A restart (cleaned-up -> loading, or any -> loading) re-arms the
		// first-ready gate so markReady fires onFirstReady again for the
		// new sync epoch.
		if to == StatusLoading {
			l.firstReadyFired = false
		}
	}
	return nil
}

func (l *lifecycle) Status() Status { return l.status }

// OnFirstReady registers cb to fire exactly once the next time markReady is
// called while the gate is open (spec §4.3). If the collection is already
// ready and the gate has already fired for this epoch, cb fires inline.
func (l *lifecycle) OnFirstReady(cb func()) {
	if l.status == StatusReady && l.firstReadyFired {
		cb()
		return
	}
	l.onFirstReady = append(l.onFirstReady, cb)
}

// MarkReady transitions to ready if not already there, then fires every
// registered onFirstReady callback exactly once per lifecycle epoch.
func (l *lifecycle) MarkReady() error {
	if l.status != StatusReady {
		if err := l.transition(StatusReady); err != nil {
			return err
		}
	}
	if l.firstReadyFired {
		return nil
	}
	l.firstReadyFired = true
	var cbs = l.onFirstReady
	l.onFirstReady = nil
	for _, cb := range cbs {
		cb()
	}
	return nil
}

// ArmGC starts (or restarts) the GC timer; fire is invoked on expiry from a
// background goroutine and must itself be routed back onto the owning
// collection's single goroutine by the caller. ArmGC is a no-op when GC is
// disabled (GCTime == 0, spec §4.3 "default 5 min; 0 disables").
func (l *lifecycle) ArmGC(fire func()) {
	if l.gcTime <= 0 {
		return
	}
	if l.gcTimer != nil {
		l.gcTimer.Stop()
	}
	l.gcArmedAt = time.Now()
	if l.metrics != nil {
		l.metrics.GCTimerArmed.WithLabelValues(l.collID).Inc()
	}
	l.gcTimer = time.AfterFunc(l.gcTime, fire)
}

// CancelGC stops a previously-armed timer, e.g. because a subscriber
// reappeared before expiry.
func (l *lifecycle) CancelGC() {
	if l.gcTimer != nil {
		l.gcTimer.Stop()
		l.gcTimer = nil
	}
}

func (l *lifecycle) noteGCFired() {
	if l.metrics != nil {
		l.metrics.GCTimerFired.WithLabelValues(l.collID).Inc()
	}
	l.gcTimer = nil
}
