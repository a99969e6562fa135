package orchestrator

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
	"github.com/cyrange-project/cyrange/internal/hypervisor"
)

// statusCacheTTL bounds how stale a detailed-status answer may be. Listing
// many ranges verbosely reuses cached probes instead of hitting the
// hypervisor and every guest's SSH port per call.
const statusCacheTTL = 10 * time.Second

// sshProbeTimeout bounds the TCP connect used to judge SSH reachability.
const sshProbeTimeout = 2 * time.Second

// GuestDetail is the live view of one guest domain, joined from the
// hypervisor and a reachability probe.
type GuestDetail struct {
	GuestID      string   `json:"guest_id"`
	DomainName   string   `json:"domain_name"`
	State        string   `json:"state"`
	Addresses    []string `json:"addresses,omitempty"`
	SSHReachable bool     `json:"ssh_reachable"`
}

// RangeDetail joins a range's stored metadata with live hypervisor state.
type RangeDetail struct {
	Range  *v1alpha1.Range `json:"range"`
	Guests []GuestDetail   `json:"guests,omitempty"`
}

type statusCacheEntry struct {
	detail  *RangeDetail
	expires time.Time
}

// GetRange returns the stored view of one range, or ErrRangeNotFound.
func (o *Orchestrator) GetRange(rangeID string) (*v1alpha1.Range, error) {
	rec, ok := o.store.Get(rangeID)
	if !ok {
		return nil, fmt.Errorf("range %q: %w", rangeID, ErrRangeNotFound)
	}
	return recordToRange(rec), nil
}

// ListRanges returns every tracked range, sorted by range_id. When all is
// false, destroyed ranges are filtered out.
func (o *Orchestrator) ListRanges(all bool) []*v1alpha1.Range {
	recs := o.store.List()
	sort.Slice(recs, func(i, j int) bool { return recs[i].RangeID < recs[j].RangeID })

	out := make([]*v1alpha1.Range, 0, len(recs))
	for _, rec := range recs {
		if !all && rec.Status == v1alpha1.RangePhaseDestroyed {
			continue
		}
		out = append(out, recordToRange(rec))
	}
	return out
}

// GetRangeStatusDetailed joins the stored range metadata with live queries:
// each domain's hypervisor state, its currently-known addresses, and a
// single bounded TCP probe of its SSH port. Results are cached briefly so a
// verbose listing across many ranges stays bounded in latency.
func (o *Orchestrator) GetRangeStatusDetailed(ctx context.Context, rangeID string) (*RangeDetail, error) {
	o.statusCacheMu.Lock()
	if entry, ok := o.statusCache[rangeID]; ok && time.Now().Before(entry.expires) {
		o.statusCacheMu.Unlock()
		return entry.detail, nil
	}
	o.statusCacheMu.Unlock()

	rec, ok := o.store.Get(rangeID)
	if !ok {
		return nil, fmt.Errorf("range %q: %w", rangeID, ErrRangeNotFound)
	}
	rng := recordToRange(rec)

	detail := &RangeDetail{Range: rng}

	client, err := o.acquireHypervisor(ctx)
	if err != nil {
		// The hypervisor being unreachable degrades the answer rather than
		// failing it: metadata alone still tells the operator what exists.
		for _, domainName := range rec.DomainIDs {
			detail.Guests = append(detail.Guests, GuestDetail{
				GuestID:    guestIDForDomain(rec.VMIPs, domainName),
				DomainName: domainName,
				State:      "unknown",
			})
		}
		o.cacheDetail(rangeID, detail)
		return detail, nil
	}

	for _, domainName := range rec.DomainIDs {
		gd := GuestDetail{
			GuestID:    guestIDForDomain(rec.VMIPs, domainName),
			DomainName: domainName,
			State:      "undefined",
		}

		if domain, err := hypervisor.LookupDomain(client.Libvirt(), domainName); err == nil {
			if info, err := domain.GetStateInfo(); err == nil {
				gd.State = info.String()
			}
			if ips, err := domain.GetLeaseAddresses(); err == nil && len(ips) > 0 {
				gd.Addresses = ips
			}
		}

		if len(gd.Addresses) == 0 {
			if ip, ok := rec.VMIPs[gd.GuestID]; ok && ip != "" {
				gd.Addresses = []string{ip}
			}
		}
		if len(gd.Addresses) > 0 {
			gd.SSHReachable = probeSSH(gd.Addresses[0])
		}

		detail.Guests = append(detail.Guests, gd)
	}

	o.cacheDetail(rangeID, detail)
	return detail, nil
}

func (o *Orchestrator) cacheDetail(rangeID string, detail *RangeDetail) {
	o.statusCacheMu.Lock()
	o.statusCache[rangeID] = statusCacheEntry{detail: detail, expires: time.Now().Add(statusCacheTTL)}
	o.statusCacheMu.Unlock()
}

// guestIDForDomain recovers the guest_id from a domain name by matching it
// against the recorded vm_ips keys, falling back to the domain name itself.
func guestIDForDomain(vmIPs map[string]string, domainName string) string {
	for guestID := range vmIPs {
		if hasSuffixSegment(domainName, guestID) {
			return guestID
		}
	}
	return domainName
}

// hasSuffixSegment reports whether name ends in "-"+segment.
func hasSuffixSegment(name, segment string) bool {
	if len(name) <= len(segment) {
		return false
	}
	return name[len(name)-len(segment):] == segment && name[len(name)-len(segment)-1] == '-'
}

// probeSSH makes one bounded TCP connect to the guest's SSH port.
func probeSSH(ip string) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip, "22"), sshProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
