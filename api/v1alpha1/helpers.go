package v1alpha1

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// GroupName is the API group for cyrange resources.
	GroupName = "cyrange.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	// RangeKind is the kind string for Range resources.
	RangeKind = "Range"

	// GuestKindKind is the kind string for Guest resources.
	GuestKindKind = "Guest"
)

// NewRange creates a new Range with TypeMeta and ObjectMeta defaults and
// phase "creating". rangeID must already be allocated by the caller (see
// checkRangeIDCollision in internal/orchestrator for the collision check).
func NewRange(rangeID, name string) *Range {
	now := Time{Time: time.Now()}

	return &Range{
		TypeMeta: TypeMeta{
			APIVersion: GroupName + "/" + Version,
			Kind:       RangeKind,
		},
		ObjectMeta: ObjectMeta{
			Name:              name,
			UID:               uuid.New().String(),
			CreationTimestamp: now,
			Generation:        1,
		},
		RangeID: rangeID,
		Spec: RangeSpec{
			Name: name,
		},
		Status: RangeStatus{
			Phase: RangePhaseCreating,
		},
	}
}

// SetDefaultAPIVersion ensures the Range has the correct apiVersion and kind.
// Useful when loading from files that might be missing these fields.
func SetDefaultAPIVersion(r *Range) {
	if r.APIVersion == "" {
		r.APIVersion = GroupName + "/" + Version
	}
	if r.Kind == "" {
		r.Kind = RangeKind
	}
}

// GetName returns the range name from metadata.
func (r *Range) GetName() string {
	return r.Name
}

// SetPhase sets the range phase in status.
func (r *Range) SetPhase(phase RangePhase) {
	r.Status.Phase = phase
}

// GetPhase returns the current range phase.
func (r *Range) GetPhase() RangePhase {
	return r.Status.Phase
}

// UpdateObservedGeneration updates status.observedGeneration to match
// metadata.generation.
func (r *Range) UpdateObservedGeneration() {
	r.Status.ObservedGeneration = r.Generation
}

// PolicyID returns the layer-3 policy identifier for this range.
func (r *Range) PolicyID() string {
	return "layer3-" + r.RangeID
}

// Normalize sanitizes user input to consistent formats. Called automatically
// before validation.
func (r *Range) Normalize() {
	r.RangeID = strings.TrimSpace(r.RangeID)
	r.Name = strings.TrimSpace(r.Name)
	for i := range r.Spec.Guests {
		r.Spec.Guests[i].Normalize()
	}
}

// GuestByID returns the guest with the given GuestID, or nil if absent.
func (r *Range) GuestByID(guestID string) *Guest {
	for i := range r.Spec.Guests {
		if r.Spec.Guests[i].GuestID == guestID {
			return &r.Spec.Guests[i]
		}
	}
	return nil
}

// NewGuest creates a new Guest with TypeMeta defaults and phase "Pending".
func NewGuest(guestID string, kind GuestKind) *Guest {
	return &Guest{
		TypeMeta: TypeMeta{
			APIVersion: GroupName + "/" + Version,
			Kind:       GuestKindKind,
		},
		GuestID: guestID,
		Spec: GuestSpec{
			Kind:    kind,
			OSFamily: "linux",
			SSHUser: "root",
		},
		Status: GuestStatus{
			Phase: GuestPhasePending,
		},
	}
}

// DomainName returns the deterministic libvirt domain name for this guest
// within a range: cyris-<range_id>-<guest_id>.
func (g *Guest) DomainName(rangeID string) string {
	return "cyris-" + rangeID + "-" + g.GuestID
}

// RequiresAutoBuild reports whether this guest uses the Image Builder's
// auto-build path (kind kvm-auto).
func (g *Guest) RequiresAutoBuild() bool {
	return g.Spec.Kind == GuestKindKVMAuto
}

// GetPhase returns the current guest phase.
func (g *Guest) GetPhase() GuestPhase {
	return g.Status.Phase
}

// SetPhase sets the guest phase in status.
func (g *Guest) SetPhase(phase GuestPhase) {
	g.Status.Phase = phase
}

// Normalize sanitizes user input to consistent formats.
func (g *Guest) Normalize() {
	g.GuestID = strings.ToLower(strings.TrimSpace(g.GuestID))
	if g.Spec.OSFamily == "" {
		g.Spec.OSFamily = "linux"
	}
	if g.Spec.SSHUser == "" {
		g.Spec.SSHUser = "root"
	}
}
