package status

import (
	"fmt"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

// TransitionRangeToActive transitions a Range from creating to active.
func TransitionRangeToActive(r *v1alpha1.Range) error {
	if r.GetPhase() != v1alpha1.RangePhaseCreating {
		return fmt.Errorf("cannot transition range to active from phase %s", r.GetPhase())
	}
	r.SetPhase(v1alpha1.RangePhaseActive)
	SetRangeCondition(r, v1alpha1.ConditionReady, v1alpha1.ConditionTrue, "RangeReady", "range is active")
	r.UpdateObservedGeneration()
	return nil
}

// TransitionRangeToDestroying transitions a Range to destroying. Allowed
// from active or error, since a failed range must still be cleanable up.
func TransitionRangeToDestroying(r *v1alpha1.Range) error {
	phase := r.GetPhase()
	if phase != v1alpha1.RangePhaseActive && phase != v1alpha1.RangePhaseError {
		return fmt.Errorf("cannot transition range to destroying from phase %s", phase)
	}
	r.SetPhase(v1alpha1.RangePhaseDestroying)
	SetRangeCondition(r, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Destroying", "range teardown in progress")
	return nil
}

// TransitionRangeToDestroyed transitions a Range to destroyed.
func TransitionRangeToDestroyed(r *v1alpha1.Range) error {
	if r.GetPhase() != v1alpha1.RangePhaseDestroying {
		return fmt.Errorf("cannot transition range to destroyed from phase %s", r.GetPhase())
	}
	r.SetPhase(v1alpha1.RangePhaseDestroyed)
	SetRangeCondition(r, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Destroyed", "range has been torn down")
	return nil
}

// TransitionRangeToError fails a Range from any phase.
func TransitionRangeToError(r *v1alpha1.Range, reason, message string) {
	MarkRangeFailed(r, reason, message)
}

// IsRangeTerminal reports whether phase is terminal (destroyed).
func IsRangeTerminal(phase v1alpha1.RangePhase) bool {
	return phase == v1alpha1.RangePhaseDestroyed
}

// IsRangeActive reports whether phase is active.
func IsRangeActive(phase v1alpha1.RangePhase) bool {
	return phase == v1alpha1.RangePhaseActive
}

// IsRangeTransitioning reports whether phase is creating or destroying.
func IsRangeTransitioning(phase v1alpha1.RangePhase) bool {
	return phase == v1alpha1.RangePhaseCreating || phase == v1alpha1.RangePhaseDestroying
}

// TransitionGuestToCreating transitions a Guest from pending to creating.
func TransitionGuestToCreating(g *v1alpha1.Guest) error {
	if g.GetPhase() != v1alpha1.GuestPhasePending {
		return fmt.Errorf("cannot transition guest to creating from phase %s", g.GetPhase())
	}
	g.SetPhase(v1alpha1.GuestPhaseCreating)
	SetGuestCondition(g, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Creating", "guest provisioning in progress")
	return nil
}

// TransitionGuestToRunning transitions a Guest to running, from creating or
// stopped (restart).
func TransitionGuestToRunning(g *v1alpha1.Guest) error {
	phase := g.GetPhase()
	if phase != v1alpha1.GuestPhaseCreating && phase != v1alpha1.GuestPhaseStopped {
		return fmt.Errorf("cannot transition guest to running from phase %s", phase)
	}
	g.SetPhase(v1alpha1.GuestPhaseRunning)
	SetGuestCondition(g, v1alpha1.ConditionReady, v1alpha1.ConditionTrue, "GuestRunning", "domain is running")
	return nil
}

// TransitionGuestToStopping transitions a Guest from running to stopping.
func TransitionGuestToStopping(g *v1alpha1.Guest) error {
	if g.GetPhase() != v1alpha1.GuestPhaseRunning {
		return fmt.Errorf("cannot transition guest to stopping from phase %s", g.GetPhase())
	}
	g.SetPhase(v1alpha1.GuestPhaseStopping)
	SetGuestCondition(g, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Stopping", "domain shutdown in progress")
	return nil
}

// TransitionGuestToStopped transitions a Guest to stopped, from stopping or
// a forced shutdown while running.
func TransitionGuestToStopped(g *v1alpha1.Guest) error {
	phase := g.GetPhase()
	if phase != v1alpha1.GuestPhaseStopping && phase != v1alpha1.GuestPhaseRunning {
		return fmt.Errorf("cannot transition guest to stopped from phase %s", phase)
	}
	g.SetPhase(v1alpha1.GuestPhaseStopped)
	SetGuestCondition(g, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Stopped", "domain has been stopped")
	return nil
}

// TransitionGuestToDestroyed transitions a Guest to destroyed from any phase.
func TransitionGuestToDestroyed(g *v1alpha1.Guest) {
	g.SetPhase(v1alpha1.GuestPhaseDestroyed)
	SetGuestCondition(g, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Destroyed", "domain has been undefined")
}

// TransitionGuestToFailed fails a Guest from any phase.
func TransitionGuestToFailed(g *v1alpha1.Guest, reason, message string) {
	MarkGuestFailed(g, reason, message)
}

// IsGuestTerminal reports whether phase is terminal (stopped, failed, or destroyed).
func IsGuestTerminal(phase v1alpha1.GuestPhase) bool {
	return phase == v1alpha1.GuestPhaseStopped || phase == v1alpha1.GuestPhaseFailed || phase == v1alpha1.GuestPhaseDestroyed
}

// IsGuestRunning reports whether phase is running.
func IsGuestRunning(phase v1alpha1.GuestPhase) bool {
	return phase == v1alpha1.GuestPhaseRunning
}

// IsGuestTransitioning reports whether phase is creating or stopping.
func IsGuestTransitioning(phase v1alpha1.GuestPhase) bool {
	return phase == v1alpha1.GuestPhaseCreating || phase == v1alpha1.GuestPhaseStopping
}
