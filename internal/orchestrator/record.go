package orchestrator

import (
	"time"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
	"github.com/cyrange-project/cyrange/internal/metadata"
)

// rangeToRecord flattens a Range into the durable metadata record the store
// persists. The record carries everything needed to answer GetRange and
// ListRanges, and to tear the range down later, without re-reading the
// description file.
func rangeToRecord(rng *v1alpha1.Range) metadata.RangeRecord {
	created := rng.CreationTimestamp.Time
	if created.IsZero() {
		created = time.Now()
	}

	rec := metadata.RangeRecord{
		RangeID:        rng.RangeID,
		Name:           rng.GetName(),
		Description:    rng.Spec.Description,
		Owner:          rng.Spec.Owner,
		Tags:           rng.Spec.Tags,
		Status:         rng.GetPhase(),
		CreatedAt:      created.UTC().Format(time.RFC3339),
		LastModified:   time.Now().UTC().Format(time.RFC3339),
		ProviderConfig: rng.Spec.ProviderConfig,
		HostIDs:        rng.Status.HostIDs,
		DomainIDs:      rng.Status.DomainIDs,
		PolicyID:       rng.Status.PolicyID,
		VMIPs:          rng.Status.VMIPs,
	}

	for _, n := range rng.Status.Networks {
		rec.Networks = append(rec.Networks, metadata.NetworkRecord{
			Name:    n.Name,
			Bridge:  n.Bridge,
			CIDR:    n.CIDR,
			Gateway: n.Gateway,
		})
	}

	return rec
}

// recordToRange reconstructs a Range view from a stored record. Only the
// fields the record carries are populated; the full guest specs live in the
// original description file, not the index.
func recordToRange(rec metadata.RangeRecord) *v1alpha1.Range {
	rng := v1alpha1.NewRange(rec.RangeID, rec.Name)
	rng.Spec.Description = rec.Description
	rng.Spec.Owner = rec.Owner
	rng.Spec.Tags = rec.Tags
	rng.Spec.ProviderConfig = rec.ProviderConfig
	rng.SetPhase(rec.Status)
	rng.Status.HostIDs = rec.HostIDs
	rng.Status.DomainIDs = rec.DomainIDs
	rng.Status.PolicyID = rec.PolicyID
	rng.Status.VMIPs = rec.VMIPs

	if created, err := time.Parse(time.RFC3339, rec.CreatedAt); err == nil {
		rng.CreationTimestamp = v1alpha1.Time{Time: created}
	}

	for _, n := range rec.Networks {
		rng.Status.Networks = append(rng.Status.Networks, v1alpha1.RealizedNetwork{
			Name:    n.Name,
			Bridge:  n.Bridge,
			CIDR:    n.CIDR,
			Gateway: n.Gateway,
		})
	}

	return rng
}
