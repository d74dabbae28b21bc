package collection

// ApplyOptimistic records a single optimistic mutation against txnID and
// returns the ChangeMessage it produces for immediate subscriber delivery,
// or ok=false if the mutation has no visible effect (e.g. deleting a key
// that isn't visible). This is the overlay half of spec §4.5: "reads always
// see the overlay", applied eagerly so the UI updates before any round trip
// to the sync source.
func (s *store[T, K]) ApplyOptimistic(txnID string, m Mutation[T, K]) (ChangeMessage[T, K], bool) {
	var previous, hadPrevious = s.visibleState(m.Key)

	if _, seen := s.mutations[txnID]; !seen {
		s.txnOrder = append(s.txnOrder, txnID)
	}
	s.mutations[txnID] = append(s.mutations[txnID], m)

	var next, hasNext = s.visibleState(m.Key)

	switch {
	case !hadPrevious && hasNext:
		return insertMsg[T, K](m.Key, next), true
	case hadPrevious && !hasNext:
		return deleteMsg[T, K](m.Key, previous), true
	case hadPrevious && hasNext && !valuesEqual(previous, next):
		return updateMsg[T, K](m.Key, next, previous), true
	default:
		var zero ChangeMessage[T, K]
		return zero, false
	}
}

// DiscardOptimistic removes every mutation recorded under txnID (a failed
// or rolled-back transaction) and returns the corrective change batch
// needed to restore visible state to what it would be without that
// transaction (spec §5 "Aborting a user transaction removes its overlay
// atomically").
func (s *store[T, K]) DiscardOptimistic(txnID string) ChangeBatch[T, K] {
	return s.dropOverlay(txnID)
}

// ReleaseOptimistic drops txnID's overlay because its mutations have been
// durably synced back in (spec §4.5 "its overlay drops"). In the common
// case the synced base now matches exactly what the overlay showed, so this
// produces an empty batch; if not (the caller released before the sync ack
// arrived), the returned batch corrects any resulting discrepancy.
func (s *store[T, K]) ReleaseOptimistic(txnID string) ChangeBatch[T, K] {
	return s.dropOverlay(txnID)
}

func (s *store[T, K]) dropOverlay(txnID string) ChangeBatch[T, K] {
	var muts, ok = s.mutations[txnID]
	if !ok {
		return nil
	}

	var keys []K
	var seen = make(map[K]struct{})
	for _, m := range muts {
		if _, dup := seen[m.Key]; !dup {
			seen[m.Key] = struct{}{}
			keys = append(keys, m.Key)
		}
	}

	var before = make(map[K]T, len(keys))
	var hadBefore = make(map[K]bool, len(keys))
	for _, k := range keys {
		v, ok := s.visibleState(k)
		hadBefore[k] = ok
		if ok {
			before[k] = v
		}
	}

	delete(s.mutations, txnID)
	for i, id := range s.txnOrder {
		if id == txnID {
			s.txnOrder = append(s.txnOrder[:i], s.txnOrder[i+1:]...)
			break
		}
	}

	var batch ChangeBatch[T, K]
	for _, k := range keys {
		newVal, hasNew := s.visibleState(k)
		hadOld := hadBefore[k]
		oldVal := before[k]
		switch {
		case !hadOld && hasNew:
			batch = append(batch, insertMsg[T, K](k, newVal))
		case hadOld && !hasNew:
			batch = append(batch, deleteMsg[T, K](k, oldVal))
		case hadOld && hasNew && !valuesEqual(oldVal, newVal):
			batch = append(batch, updateMsg[T, K](k, newVal, oldVal))
		}
	}
	return batch
}
