package engine

import "liquidationKeeper/internal/model"

// attempt is the submission history of one logical action id.
type attempt struct {
	inflight  bool
	submitted bool
	last      uint64
	failures  int
	proposed  uint64
	exhausted bool
}

// attempts applies the retry policy per logical action id: one submission in flight,
// a cooldown after a send, and a cap on failed submissions.
type attempts struct {
	window  uint64
	maxFail int
	byID    map[string]*attempt
}

func newAttempts(window uint64, maxFail int) *attempts {
	return &attempts{window: window, maxFail: maxFail, byID: make(map[string]*attempt)}
}

// admit reports whether id may be submitted at block, and the skip reason when not.
func (a *attempts) admit(id string, block uint64) (bool, string) {
	st, ok := a.byID[id]
	if !ok {
		st = &attempt{}
		a.byID[id] = st
	}
	st.proposed = block
	switch {
	case st.inflight:
		return false, "in_flight"
	case st.exhausted:
		return false, "retries_exhausted"
	case st.submitted && block < st.last+a.window:
		return false, "cooldown"
	}
	st.inflight = true
	st.last = block
	return true, ""
}

// settle records an outcome and reports whether the id just ran out of retries.
func (a *attempts) settle(out model.Outcome) bool {
	st, ok := a.byID[out.Action.ID]
	if !ok {
		st = &attempt{}
		a.byID[out.Action.ID] = st
	}
	st.inflight = false
	if out.Status == model.OutcomeSubmitted {
		// the cooldown runs from the emission block set by admit
		st.submitted = true
		return false
	}
	st.submitted = false
	st.failures++
	if a.maxFail > 0 && st.failures >= a.maxFail && !st.exhausted {
		st.exhausted = true
		return true
	}
	return false
}

// drop forgets a settled id without counting a failure.
func (a *attempts) drop(id string) {
	delete(a.byID, id)
}

// clear forgets an id once its triggering state is gone.
func (a *attempts) clear(id string) {
	if st, ok := a.byID[id]; ok && !st.inflight {
		delete(a.byID, id)
	}
}

// sweep drops ids that were not proposed at block and are past their window.
func (a *attempts) sweep(block uint64) {
	for id, st := range a.byID {
		if st.inflight || st.proposed == block {
			continue
		}
		if block >= st.last+a.window && block >= st.proposed+a.window {
			delete(a.byID, id)
		}
	}
}
