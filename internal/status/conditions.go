// Package status manages Range and Guest status fields: conditions and
// phase transitions. Both resource kinds are covered, since a Range's
// readiness depends on its guests' individually.
package status

import (
	"time"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

// SetRangeCondition adds or updates a condition on a Range's status. If a
// condition with the same type already exists it is updated in place;
// LastTransitionTime only changes when Status changes.
func SetRangeCondition(r *v1alpha1.Range, condType string, status v1alpha1.ConditionStatus, reason, message string) {
	now := v1alpha1.Time{Time: time.Now()}

	newCondition := v1alpha1.Condition{
		Type:               condType,
		Status:             status,
		ObservedGeneration: r.Generation,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	}

	for i := range r.Status.Conditions {
		if r.Status.Conditions[i].Type == condType {
			existing := &r.Status.Conditions[i]
			if existing.Status != status {
				existing.LastTransitionTime = now
			}
			existing.Status = status
			existing.Reason = reason
			existing.Message = message
			existing.ObservedGeneration = r.Generation
			return
		}
	}

	r.Status.Conditions = append(r.Status.Conditions, newCondition)
}

// GetRangeCondition returns a Range condition by type, or nil if not found.
func GetRangeCondition(r *v1alpha1.Range, condType string) *v1alpha1.Condition {
	for i := range r.Status.Conditions {
		if r.Status.Conditions[i].Type == condType {
			return &r.Status.Conditions[i]
		}
	}
	return nil
}

// IsRangeConditionTrue reports whether the named condition exists and is True.
func IsRangeConditionTrue(r *v1alpha1.Range, condType string) bool {
	cond := GetRangeCondition(r, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionTrue
}

// IsRangeConditionFalse reports whether the named condition exists and is False.
func IsRangeConditionFalse(r *v1alpha1.Range, condType string) bool {
	cond := GetRangeCondition(r, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionFalse
}

// RemoveRangeCondition removes a condition by type.
func RemoveRangeCondition(r *v1alpha1.Range, condType string) {
	filtered := make([]v1alpha1.Condition, 0, len(r.Status.Conditions))
	for i := range r.Status.Conditions {
		if r.Status.Conditions[i].Type != condType {
			filtered = append(filtered, r.Status.Conditions[i])
		}
	}
	r.Status.Conditions = filtered
}

// MarkRangeReady sets every provisioning condition True and transitions the
// range to active. Called once the orchestrator has confirmed topology,
// guests, tasks and policy are all installed.
func MarkRangeReady(r *v1alpha1.Range) {
	SetRangeCondition(r, v1alpha1.ConditionTopologyInstalled, v1alpha1.ConditionTrue, "TopologyInstalled", "networks and bridges created")
	SetRangeCondition(r, v1alpha1.ConditionStorageProvisioned, v1alpha1.ConditionTrue, "StorageProvisioned", "all guest volumes created")
	SetRangeCondition(r, v1alpha1.ConditionGuestsProvisioned, v1alpha1.ConditionTrue, "GuestsProvisioned", "all guest domains defined and started")
	SetRangeCondition(r, v1alpha1.ConditionTasksCompleted, v1alpha1.ConditionTrue, "TasksCompleted", "all provisioning tasks completed")
	SetRangeCondition(r, v1alpha1.ConditionPolicyApplied, v1alpha1.ConditionTrue, "PolicyApplied", "layer-3 policy installed")
	SetRangeCondition(r, v1alpha1.ConditionReady, v1alpha1.ConditionTrue, "RangeReady", "range is active")
	r.SetPhase(v1alpha1.RangePhaseActive)
	r.UpdateObservedGeneration()
}

// MarkRangeTopologyInstalled marks the topology condition True.
func MarkRangeTopologyInstalled(r *v1alpha1.Range) {
	SetRangeCondition(r, v1alpha1.ConditionTopologyInstalled, v1alpha1.ConditionTrue, "TopologyInstalled", "networks and bridges created")
}

// MarkRangeTopologyFailed marks the topology condition False and fails the range.
func MarkRangeTopologyFailed(r *v1alpha1.Range, err error) {
	SetRangeCondition(r, v1alpha1.ConditionTopologyInstalled, v1alpha1.ConditionFalse, "TopologyFailed", err.Error())
	MarkRangeFailed(r, "TopologyFailed", err.Error())
}

// MarkRangeGuestsProvisioned marks the guest-provisioning condition True.
func MarkRangeGuestsProvisioned(r *v1alpha1.Range) {
	SetRangeCondition(r, v1alpha1.ConditionGuestsProvisioned, v1alpha1.ConditionTrue, "GuestsProvisioned", "all guest domains defined and started")
}

// MarkRangeGuestsFailed marks the guest-provisioning condition False and fails the range.
func MarkRangeGuestsFailed(r *v1alpha1.Range, err error) {
	SetRangeCondition(r, v1alpha1.ConditionGuestsProvisioned, v1alpha1.ConditionFalse, "GuestsFailed", err.Error())
	MarkRangeFailed(r, "GuestsFailed", err.Error())
}

// MarkRangePolicyApplied marks the layer-3 policy condition True.
func MarkRangePolicyApplied(r *v1alpha1.Range) {
	SetRangeCondition(r, v1alpha1.ConditionPolicyApplied, v1alpha1.ConditionTrue, "PolicyApplied", "layer-3 policy installed")
}

// MarkRangePolicyFailed marks the layer-3 policy condition False and fails the range.
func MarkRangePolicyFailed(r *v1alpha1.Range, err error) {
	SetRangeCondition(r, v1alpha1.ConditionPolicyApplied, v1alpha1.ConditionFalse, "PolicyFailed", err.Error())
	MarkRangeFailed(r, "PolicyFailed", err.Error())
}

// MarkRangeTasksCompleted marks the task condition True; warnings carries
// any non-fatal per-guest task failures recorded in status.warnings.
func MarkRangeTasksCompleted(r *v1alpha1.Range, warnings []string) {
	SetRangeCondition(r, v1alpha1.ConditionTasksCompleted, v1alpha1.ConditionTrue, "TasksCompleted", "all provisioning tasks completed")
	if len(warnings) > 0 {
		r.Status.Warnings = warnings
		r.Status.Verdict = "SUCCESS_WITH_WARNINGS"
	} else if r.Status.Verdict == "" {
		r.Status.Verdict = "SUCCESS"
	}
}

// MarkRangeFailed sets the Ready condition False and the range phase to error.
func MarkRangeFailed(r *v1alpha1.Range, reason, message string) {
	SetRangeCondition(r, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, reason, message)
	r.SetPhase(v1alpha1.RangePhaseError)
	r.Status.Verdict = "FAILURE"
}

// SetGuestCondition adds or updates a condition on a Guest's status,
// mirroring SetRangeCondition.
func SetGuestCondition(g *v1alpha1.Guest, condType string, status v1alpha1.ConditionStatus, reason, message string) {
	now := v1alpha1.Time{Time: time.Now()}

	newCondition := v1alpha1.Condition{
		Type:               condType,
		Status:             status,
		ObservedGeneration: g.Generation,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	}

	for i := range g.Status.Conditions {
		if g.Status.Conditions[i].Type == condType {
			existing := &g.Status.Conditions[i]
			if existing.Status != status {
				existing.LastTransitionTime = now
			}
			existing.Status = status
			existing.Reason = reason
			existing.Message = message
			existing.ObservedGeneration = g.Generation
			return
		}
	}

	g.Status.Conditions = append(g.Status.Conditions, newCondition)
}

// GetGuestCondition returns a Guest condition by type, or nil if not found.
func GetGuestCondition(g *v1alpha1.Guest, condType string) *v1alpha1.Condition {
	for i := range g.Status.Conditions {
		if g.Status.Conditions[i].Type == condType {
			return &g.Status.Conditions[i]
		}
	}
	return nil
}

// MarkGuestReady sets the Ready condition True and transitions the guest to
// running.
func MarkGuestReady(g *v1alpha1.Guest) {
	SetGuestCondition(g, v1alpha1.ConditionReady, v1alpha1.ConditionTrue, "GuestReady", "domain running and address discovered")
	g.SetPhase(v1alpha1.GuestPhaseRunning)
}

// MarkGuestFailed sets the Ready condition False and the guest phase to failed.
func MarkGuestFailed(g *v1alpha1.Guest, reason, message string) {
	SetGuestCondition(g, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, reason, message)
	g.SetPhase(v1alpha1.GuestPhaseFailed)
}
