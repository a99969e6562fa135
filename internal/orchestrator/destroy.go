package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
	"github.com/cyrange-project/cyrange/internal/hypervisor"
	"github.com/cyrange-project/cyrange/internal/naming"
	"github.com/cyrange-project/cyrange/internal/rangeerr"
	"github.com/cyrange-project/cyrange/internal/rangelog"
	"github.com/cyrange-project/cyrange/internal/storage"
)

// ErrRangeNotFound is returned when a range_id is not tracked by the
// metadata store. Callers distinguish it from other failures so a destroy of
// an unknown range reports "not found" rather than a hypervisor error.
var ErrRangeNotFound = errors.New("range not found")

// gracefulStopTimeout bounds how long a domain gets to shut down cleanly
// before it is forcibly destroyed.
const gracefulStopTimeout = 30 * time.Second

// DestroyOptions controls one DestroyRange call.
type DestroyOptions struct {
	// Force destroys a range regardless of its current phase, including one
	// stuck in creating or destroying after an orchestrator crash.
	Force bool
}

// DestroyRange tears a range down: every guest domain is stopped (gracefully
// first, then forced) and undefined with its storage, the range's virtual
// networks are removed, its forwarding rules are deleted, and the metadata
// record transitions to destroyed. The record itself is kept until
// RemoveRange so the teardown remains inspectable.
func (o *Orchestrator) DestroyRange(ctx context.Context, rangeID string, opts DestroyOptions) error {
	unlock := o.lockRange(rangeID)
	defer unlock()

	rec, ok := o.store.Get(rangeID)
	if !ok {
		return fmt.Errorf("range %q: %w", rangeID, ErrRangeNotFound)
	}

	switch rec.Status {
	case v1alpha1.RangePhaseActive, v1alpha1.RangePhaseError:
	case v1alpha1.RangePhaseDestroyed:
		// An already-destroyed range has nothing left to tear down; report
		// it the same way as a range that never existed.
		if !opts.Force {
			return fmt.Errorf("range %q already destroyed: %w", rangeID, ErrRangeNotFound)
		}
	default:
		if !opts.Force {
			return rangeerr.New(rangeerr.Precondition,
				fmt.Sprintf("range %q is %s; only active or error ranges can be destroyed (use force to override)", rangeID, rec.Status))
		}
	}

	log := rangelog.ForRange(o.logger, rangeID)

	rec.Status = v1alpha1.RangePhaseDestroying
	rec.LastModified = time.Now().UTC().Format(time.RFC3339)
	if err := o.store.Put(rec); err != nil {
		return fmt.Errorf("persist destroying state: %w", err)
	}

	client, err := o.acquireHypervisor(ctx)
	if err != nil {
		return err
	}

	// Teardown is best-effort throughout: one failing domain or network must
	// not leave the rest of the range behind. Failures are collected and the
	// range still transitions to destroyed so rm can reclaim the record.
	var failures []string

	for _, domainName := range rec.DomainIDs {
		if err := o.destroyDomain(ctx, client, domainName); err != nil {
			log.Warn().Str("domain", domainName).Err(err).Msg("domain teardown failed")
			failures = append(failures, fmt.Sprintf("domain %s: %v", domainName, err))
		}
	}

	topoMgr := o.newTopologyManager(client)
	if err := topoMgr.DestroyTopology(ctx, rangeID); err != nil {
		log.Warn().Err(err).Msg("network teardown failed")
		failures = append(failures, fmt.Sprintf("networks: %v", err))
	}

	if o.firewall != nil {
		if err := o.firewall.RemoveRangeRules(rangeID); err != nil {
			log.Warn().Err(err).Msg("forwarding rule removal failed")
			failures = append(failures, fmt.Sprintf("forwarding rules: %v", err))
		}
	}

	rec.Status = v1alpha1.RangePhaseDestroyed
	rec.LastModified = time.Now().UTC().Format(time.RFC3339)
	if err := o.store.Put(rec); err != nil {
		return fmt.Errorf("persist destroyed state: %w", err)
	}

	if len(failures) > 0 {
		log.Warn().Int("failures", len(failures)).Msg("range destroyed with partial teardown failures")
		return rangeerr.New(rangeerr.Hypervisor,
			fmt.Sprintf("range %s destroyed, but %d resource(s) failed to clean up: %v; rerun destroy --force to retry", rangeID, len(failures), failures))
	}

	log.Info().Msg("range destroyed")
	return nil
}

// destroyDomain stops one domain (graceful shutdown with a bounded wait,
// then force), undefines it, and deletes its boot and cloud-init volumes. A
// domain that no longer exists is not an error.
func (o *Orchestrator) destroyDomain(ctx context.Context, client *hypervisor.Client, domainName string) error {
	domain, err := hypervisor.LookupDomain(client.Libvirt(), domainName)
	if err != nil {
		return nil
	}

	if active, err := domain.IsActive(); err == nil && active {
		if err := domain.Shutdown(); err == nil {
			o.waitForShutoff(ctx, domain)
		}
	}

	if err := domain.DestroyAndUndefine(); err != nil {
		return err
	}

	storageMgr := storage.NewManager(client.Libvirt())
	for _, vol := range []string{naming.VolumeNameBoot(domainName), naming.VolumeNameCloudInit(domainName)} {
		if err := storageMgr.DeleteVolume(ctx, storage.DefaultVMsPool, vol); err != nil {
			o.logger.Debug().Str("volume", vol).Err(err).Msg("volume delete skipped")
		}
	}

	return nil
}

// waitForShutoff polls the domain until it reports inactive, the graceful
// window elapses, or ctx is cancelled.
func (o *Orchestrator) waitForShutoff(ctx context.Context, domain *hypervisor.Domain) {
	deadline := time.Now().Add(gracefulStopTimeout)
	for time.Now().Before(deadline) {
		if active, err := domain.IsActive(); err != nil || !active {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// RemoveRange deletes a range's metadata record and its on-disk directory
// (logs, disks, cloud-init seeds). It refuses unless the range is already
// destroyed; with force set, an active or error range is destroyed first.
func (o *Orchestrator) RemoveRange(ctx context.Context, rangeID string, force bool) error {
	rec, ok := o.store.Get(rangeID)
	if !ok {
		return fmt.Errorf("range %q: %w", rangeID, ErrRangeNotFound)
	}

	if rec.Status != v1alpha1.RangePhaseDestroyed {
		if !force {
			return rangeerr.New(rangeerr.Precondition,
				fmt.Sprintf("range %q is %s, not destroyed; destroy it first or pass force", rangeID, rec.Status))
		}
		if err := o.DestroyRange(ctx, rangeID, DestroyOptions{Force: true}); err != nil && !errors.Is(err, ErrRangeNotFound) {
			return err
		}
	}

	unlock := o.lockRange(rangeID)
	defer unlock()

	if err := o.store.Delete(rangeID); err != nil {
		return fmt.Errorf("delete range metadata: %w", err)
	}

	rangeDir := filepath.Join(o.store.Dir(), rangeID)
	if err := os.RemoveAll(rangeDir); err != nil {
		return fmt.Errorf("remove range directory: %w", err)
	}

	rlog := rangelog.ForRange(o.logger, rangeID)
	rlog.Info().Msg("range removed")
	return nil
}

// Close releases the hypervisor connection pool. The firewall manager's
// chains are left in place; Cleanup is an explicit operator action.
func (o *Orchestrator) Close() error {
	return o.pool.CloseAll()
}
