package orchestrator

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
	"github.com/cyrange-project/cyrange/internal/cloudinit"
	"github.com/cyrange-project/cyrange/internal/hypervisor"
	"github.com/cyrange-project/cyrange/internal/image"
	"github.com/cyrange-project/cyrange/internal/l3policy"
	"github.com/cyrange-project/cyrange/internal/naming"
	"github.com/cyrange-project/cyrange/internal/optracker"
	"github.com/cyrange-project/cyrange/internal/rangeerr"
	"github.com/cyrange-project/cyrange/internal/rangelog"
	"github.com/cyrange-project/cyrange/internal/status"
	"github.com/cyrange-project/cyrange/internal/storage"
	"github.com/cyrange-project/cyrange/internal/taskexec"
)

// CreateOptions controls one CreateRange call.
type CreateOptions struct {
	// DryRun validates and allocates the range ID but performs no
	// hypervisor, storage, firewall or metadata-store side effects.
	DryRun bool

	// CleanupOnFailure rolls back every operation (not just the failed
	// ones) and marks the range destroyed rather than error, when create
	// fails partway through.
	CleanupOnFailure bool
}

// CreateRange realizes a parsed range description on the hypervisor:
// topology, guest domains, IP discovery, post-boot tasks and network
// policy, in that order. desc is typically
// the result of rangeconfig.LoadFromFile/LoadFromYAML.
func (o *Orchestrator) CreateRange(ctx context.Context, desc *v1alpha1.Range, opts CreateOptions) (*v1alpha1.Range, error) {
	if err := o.validateDescription(desc); err != nil {
		return nil, err
	}
	if err := o.mintRangeID(desc); err != nil {
		return nil, err
	}

	unlock := o.lockRange(desc.RangeID)
	defer unlock()

	// Checked under the lock: a concurrent create for the same explicit
	// range_id is either serialized behind this one (and sees the creating
	// record persisted below) or already holds the id.
	if err := o.checkRangeIDCollision(desc.RangeID); err != nil {
		return nil, err
	}

	log := rangelog.ForRange(o.logger, desc.RangeID)

	if opts.DryRun {
		log.Info().Msg("dry run: range would be created, no side effects performed")
		desc.SetPhase(v1alpha1.RangePhaseActive)
		return desc, nil
	}

	desc.SetPhase(v1alpha1.RangePhaseCreating)
	if err := o.store.Put(rangeToRecord(desc)); err != nil {
		return nil, fmt.Errorf("persist range metadata: %w", err)
	}

	tracker := optracker.New()

	if err := o.installTopology(ctx, desc, tracker); err != nil {
		return o.failCreate(desc, tracker, opts, err)
	}
	if err := o.buildAndStartGuests(ctx, desc, tracker); err != nil {
		return o.failCreate(desc, tracker, opts, err)
	}
	warnings := o.waitForAddresses(ctx, desc, tracker, log)
	warnings = append(warnings, o.runGuestTasks(ctx, desc, tracker, log)...)
	if err := o.applyPolicy(ctx, desc, tracker); err != nil {
		return o.failCreate(desc, tracker, opts, err)
	}

	o.finalize(desc, warnings)
	o.writeRangeArtifacts(desc, tracker, "SUCCESS")

	if err := o.store.Put(rangeToRecord(desc)); err != nil {
		return nil, fmt.Errorf("persist range metadata: %w", err)
	}

	log.Info().Str("phase", string(desc.GetPhase())).Msg("range created")
	return desc, nil
}

// failCreate records the failure, rolls back per opts, and persists
// whatever partial state remains so the range is still inspectable.
func (o *Orchestrator) failCreate(rng *v1alpha1.Range, tracker *optracker.Tracker, opts CreateOptions, cause error) (*v1alpha1.Range, error) {
	log := rangelog.ForRange(o.logger, rng.RangeID)

	o.writeRangeArtifacts(rng, tracker, "FAILURE")

	if opts.CleanupOnFailure {
		// Full rollback leaves nothing behind, including the metadata record:
		// the range never happened as far as the index is concerned.
		n := tracker.RollbackAllOperations()
		log.Warn().Int("rolled_back", n).Err(cause).Msg("create failed, rolled back all operations")
		rng.SetPhase(v1alpha1.RangePhaseDestroyed)
		if err := o.store.Delete(rng.RangeID); err != nil {
			log.Error().Err(err).Msg("failed to delete range metadata after rollback")
		}
		return rng, cause
	}

	// Partial rollback preserves resource IDs for diagnostics; the range
	// stays in the index in the error phase.
	n := tracker.RollbackFailedOperations()
	log.Warn().Int("rolled_back", n).Err(cause).Msg("create failed, rolled back failed operations")
	status.TransitionRangeToError(rng, "CreateFailed", cause.Error())

	if err := o.store.Put(rangeToRecord(rng)); err != nil {
		log.Error().Err(err).Msg("failed to persist range after create failure")
	}

	return rng, cause
}

// validateDescription rejects guest kinds with no working provider before
// any side effect occurs; aws/docker guests are parsed but never
// orchestrated here.
func (o *Orchestrator) validateDescription(desc *v1alpha1.Range) error {
	if len(desc.Spec.Guests) == 0 {
		return rangeerr.New(rangeerr.Validation, "range has no guests")
	}
	for _, guest := range desc.Spec.Guests {
		switch guest.Spec.Kind {
		case v1alpha1.GuestKindKVM, v1alpha1.GuestKindKVMAuto:
		case v1alpha1.GuestKindAWS, v1alpha1.GuestKindDocker:
			return rangeerr.New(rangeerr.Precondition, fmt.Sprintf("guest %s: kind %q has no working provider in this build", guest.GuestID, guest.Spec.Kind))
		default:
			return rangeerr.New(rangeerr.Validation, fmt.Sprintf("guest %s: unrecognized kind %q", guest.GuestID, guest.Spec.Kind))
		}
		if len(guest.Spec.Interfaces) > 1 {
			return rangeerr.New(rangeerr.Precondition, fmt.Sprintf("guest %s: multi-homed guests (more than one interface) are not supported", guest.GuestID))
		}
	}

	// Forwarding rules are parsed up front so a bad rule fails validation
	// (and dry runs) before any network exists. Real CIDRs are not known
	// until the topology manager assigns them, so declared network names
	// resolve against a placeholder here; only grammar and name-resolution
	// errors can surface at this stage.
	for _, placement := range desc.Spec.Placements {
		if placement.Topology == nil {
			continue
		}
		mappings := make(map[string]string, len(placement.Topology.Networks))
		for _, n := range placement.Topology.Networks {
			mappings[n.Name] = "0.0.0.0/0"
		}
		for i, rule := range placement.Topology.ForwardingRules {
			if _, err := l3policy.Parse(rule.Rule, mappings); err != nil {
				return rangeerr.Wrap(rangeerr.Validation, fmt.Sprintf("forwarding rule %d", i), err)
			}
		}
	}

	return nil
}

// installTopology realizes every placement's declared networks and assigns
// every guest a deterministic address.
func (o *Orchestrator) installTopology(ctx context.Context, rng *v1alpha1.Range, tracker *optracker.Tracker) error {
	client, err := o.acquireHypervisor(ctx)
	if err != nil {
		status.MarkRangeTopologyFailed(rng, err)
		return err
	}

	topoMgr := o.newTopologyManager(client)

	opID := tracker.StartOperation(optracker.NetworkSetup, "install range topology", func() error {
		return topoMgr.DestroyTopology(ctx, rng.RangeID)
	})

	for _, placement := range rng.Spec.Placements {
		if placement.Topology == nil {
			continue
		}
		assignment, err := topoMgr.CreateTopology(ctx, rng.RangeID, placement.Topology, rng.Spec.Guests)
		if err != nil {
			tracker.FailOperation(opID, err.Error())
			status.MarkRangeTopologyFailed(rng, err)
			return rangeerr.Wrap(rangeerr.NetworkPolicy, "failed to install topology", err)
		}
		rng.Status.Networks = append(rng.Status.Networks, assignment.Networks...)
		if rng.Status.VMIPs == nil {
			rng.Status.VMIPs = make(map[string]string, len(assignment.VMIPs))
		}
		for guestID, ip := range assignment.VMIPs {
			rng.Status.VMIPs[guestID] = ip
		}
	}

	tracker.CompleteOperation(opID, rng.Status.Networks)
	status.MarkRangeTopologyInstalled(rng)
	return nil
}

// buildAndStartGuests defines and starts every guest's domain: kvm-auto
// guests are built from a base image by the Image Builder first, kvm
// guests import a pre-existing domain config.
func (o *Orchestrator) buildAndStartGuests(ctx context.Context, rng *v1alpha1.Range, tracker *optracker.Tracker) error {
	client, err := o.acquireHypervisor(ctx)
	if err != nil {
		status.MarkRangeGuestsFailed(rng, err)
		return err
	}

	imgBuilder := newImageBuilder(client)

	for i := range rng.Spec.Guests {
		guest := &rng.Spec.Guests[i]
		_ = status.TransitionGuestToCreating(guest)
		guest.Status.DomainName = guest.DomainName(rng.RangeID)

		addresses, err := o.guestAddresses(rng, guest)
		if err != nil {
			status.MarkRangeGuestsFailed(rng, err)
			return err
		}

		var domainXML string
		switch guest.Spec.Kind {
		case v1alpha1.GuestKindKVMAuto:
			domainXML, err = o.buildAutoGuest(ctx, rng, guest, imgBuilder, addresses, tracker)
		case v1alpha1.GuestKindKVM:
			domainXML, err = o.loadStaticGuest(guest)
		}
		if err != nil {
			status.MarkRangeGuestsFailed(rng, err)
			guest.SetPhase(v1alpha1.GuestPhaseFailed)
			return err
		}

		domainOpID := tracker.StartOperation(optracker.VMCreate, fmt.Sprintf("define and start domain %s", guest.Status.DomainName), func() error {
			return destroyGuestDomain(client, guest.Status.DomainName)
		})

		domain, err := hypervisor.DefineDomain(client.Libvirt(), domainXML)
		if err != nil {
			tracker.FailOperation(domainOpID, err.Error())
			status.MarkRangeGuestsFailed(rng, err)
			guest.SetPhase(v1alpha1.GuestPhaseFailed)
			return rangeerr.Wrap(rangeerr.Hypervisor, fmt.Sprintf("define domain for guest %s", guest.GuestID), err)
		}
		if err := domain.Start(); err != nil {
			tracker.FailOperation(domainOpID, err.Error())
			status.MarkRangeGuestsFailed(rng, err)
			guest.SetPhase(v1alpha1.GuestPhaseFailed)
			return rangeerr.Wrap(rangeerr.Hypervisor, fmt.Sprintf("start domain for guest %s", guest.GuestID), err)
		}
		tracker.CompleteOperation(domainOpID, guest.Status.DomainName)

		rng.Status.DomainIDs = append(rng.Status.DomainIDs, guest.Status.DomainName)
	}

	status.MarkRangeGuestsProvisioned(rng)
	return nil
}

func destroyGuestDomain(client *hypervisor.Client, domainName string) error {
	domain, err := hypervisor.LookupDomain(client.Libvirt(), domainName)
	if err != nil {
		return nil // already gone
	}
	return domain.DestroyAndUndefine()
}

// guestAddresses resolves the single primary address a guest's one
// interface is assigned (multi-homing is unsupported, see
// validateDescription), pairing it with the realized network's bridge.
func (o *Orchestrator) guestAddresses(rng *v1alpha1.Range, guest *v1alpha1.Guest) ([]hypervisor.GuestAddress, error) {
	if len(guest.Spec.Interfaces) == 0 {
		return nil, nil
	}

	ip := guest.Spec.StaticIP
	if ip == "" {
		ip = rng.Status.VMIPs[guest.GuestID]
	}
	if ip == "" {
		return nil, rangeerr.New(rangeerr.Precondition, fmt.Sprintf("guest %s: no address assigned", guest.GuestID))
	}

	iface := guest.Spec.Interfaces[0]
	bridge := naming.RangeBridgeName(rng.RangeID, iface.Network)
	for _, n := range rng.Status.Networks {
		if n.Name == iface.Network {
			bridge = n.Bridge
			break
		}
	}

	return []hypervisor.GuestAddress{{
		Interface: iface.Interface,
		Bridge:    bridge,
		IP:        ip,
	}}, nil
}

// buildAutoGuest drives the kvm-auto path: build the boot disk, generate
// and upload a cloud-init NoCloud ISO, then build the domain XML.
func (o *Orchestrator) buildAutoGuest(ctx context.Context, rng *v1alpha1.Range, guest *v1alpha1.Guest, imgBuilder *image.Builder, addresses []hypervisor.GuestAddress, tracker *optracker.Tracker) (string, error) {
	diskOpID := tracker.StartOperation(optracker.VMCreate, fmt.Sprintf("build disk for guest %s", guest.GuestID), func() error {
		return imgBuilder.CleanupBuildFiles(ctx, rng.RangeID, guest)
	})

	if _, err := imgBuilder.BuildDisk(ctx, rng.RangeID, guest); err != nil {
		tracker.FailOperation(diskOpID, err.Error())
		return "", err
	}
	tracker.CompleteOperation(diskOpID, guest.Status.DomainName)

	if err := o.uploadCloudInit(ctx, rng, guest, addresses); err != nil {
		return "", err
	}

	return hypervisor.GenerateDomainXML(rng, guest, addresses)
}

// uploadCloudInit generates the NoCloud seed ISO for guest and writes it
// into the VMs storage pool as a read-only cdrom volume for the
// auto-build path.
func (o *Orchestrator) uploadCloudInit(ctx context.Context, rng *v1alpha1.Range, guest *v1alpha1.Guest, addresses []hypervisor.GuestAddress) error {
	ciAddresses := make([]cloudinit.InterfaceAddress, 0, len(addresses))
	for i, addr := range addresses {
		iface := guest.Spec.Interfaces[i]
		network := rangeNetworkByName(rng, iface.Network)

		cidr, err := withMaskOf(addr.IP, network.CIDR)
		if err != nil {
			return rangeerr.Wrap(rangeerr.Validation, "compute guest interface CIDR", err)
		}

		ciAddresses = append(ciAddresses, cloudinit.InterfaceAddress{
			Network:      iface.Network,
			CIDR:         cidr,
			Gateway:      network.Gateway,
			DefaultRoute: i == 0,
		})
	}

	isoBytes, err := cloudinit.GenerateISO(rng.RangeID, guest, ciAddresses)
	if err != nil {
		return rangeerr.Wrap(rangeerr.Precondition, "generate cloud-init ISO", err)
	}

	client, err := o.acquireHypervisor(ctx)
	if err != nil {
		return err
	}
	storageMgr := storage.NewManager(client.Libvirt())

	volName := naming.VolumeNameCloudInit(guest.Status.DomainName)
	spec := storage.VolumeSpec{
		Name:   volName,
		Type:   storage.VolumeTypeCloudInit,
		Format: storage.VolumeFormatRaw,
	}
	if err := storageMgr.CreateVolume(ctx, storage.DefaultVMsPool, spec); err != nil {
		return rangeerr.Wrap(rangeerr.Hypervisor, "create cloud-init volume", err)
	}
	if err := storageMgr.WriteVolumeData(ctx, storage.DefaultVMsPool, volName, isoBytes); err != nil {
		return rangeerr.Wrap(rangeerr.Hypervisor, "write cloud-init volume", err)
	}
	return nil
}

func rangeNetworkByName(rng *v1alpha1.Range, name string) v1alpha1.RealizedNetwork {
	for _, n := range rng.Status.Networks {
		if n.Name == name {
			return n
		}
	}
	return v1alpha1.RealizedNetwork{}
}

// withMaskOf combines ip with the prefix length of networkCIDR, so
// internal/cloudinit can derive the interface's netmask.
func withMaskOf(ip, networkCIDR string) (string, error) {
	if networkCIDR == "" {
		return ip + "/24", nil
	}
	_, ipNet, err := net.ParseCIDR(networkCIDR)
	if err != nil {
		return "", err
	}
	ones, _ := ipNet.Mask.Size()
	return fmt.Sprintf("%s/%d", ip, ones), nil
}

// loadStaticGuest reads a pre-existing domain config for a kvm guest.
func (o *Orchestrator) loadStaticGuest(guest *v1alpha1.Guest) (string, error) {
	if guest.Spec.BaseVMConfigPath == "" {
		return "", rangeerr.New(rangeerr.Validation, fmt.Sprintf("guest %s: basevm_config_file is required for kind kvm", guest.GuestID))
	}
	data, err := os.ReadFile(guest.Spec.BaseVMConfigPath)
	if err != nil {
		return "", rangeerr.Wrap(rangeerr.Precondition, fmt.Sprintf("read domain config for guest %s", guest.GuestID), err)
	}
	return string(data), nil
}

// maxDiscoveryWorkers caps the per-guest address-wait fan-out.
const maxDiscoveryWorkers = 8

// waitForAddresses confirms each guest is reachable via the IP Discovery
// chain, recording the confirmed address/method and transitioning the
// guest to Running. Waiting runs in parallel across guests, bounded by a
// small worker pool; per-guest discovery failures are collected as
// warnings rather than aborting the whole create.
func (o *Orchestrator) waitForAddresses(ctx context.Context, rng *v1alpha1.Range, tracker *optracker.Tracker, log zerolog.Logger) []string {
	discoverer := o.newIPDiscoverer(rng)

	var (
		mu       sync.Mutex
		warnings []string
		wg       sync.WaitGroup
	)
	slots := make(chan struct{}, maxDiscoveryWorkers)

	if rng.Status.VMIPs == nil {
		rng.Status.VMIPs = make(map[string]string)
	}

	for i := range rng.Spec.Guests {
		guest := &rng.Spec.Guests[i]

		wg.Add(1)
		slots <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-slots }()

			result, err := discoverer.Discover(ctx, rng.RangeID, guest.GuestID, guest.Status.DomainName, o.socketPath)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				warnings = append(warnings, fmt.Sprintf("guest %s: address discovery failed: %v", guest.GuestID, err))
				status.MarkGuestFailed(guest, "DiscoveryFailed", err.Error())
				return
			}

			guest.Status.Addresses = result.IPAddresses
			guest.Status.DiscoveryMethod = string(result.Method)
			if len(result.MACAddresses) > 0 {
				guest.Status.MACAddress = result.MACAddresses[0]
			}
			if rng.Status.VMIPs[guest.GuestID] == "" {
				rng.Status.VMIPs[guest.GuestID] = result.PrimaryIP()
			}

			if err := status.TransitionGuestToRunning(guest); err != nil {
				log.Warn().Str("guest", guest.GuestID).Err(err).Msg("guest phase transition rejected")
			}
			status.MarkGuestReady(guest)
		}()
	}
	wg.Wait()

	return warnings
}

// runGuestTasks executes each guest's post-boot task list over SSH,
// skipping build-time account tasks already applied by the Image Builder.
func (o *Orchestrator) runGuestTasks(ctx context.Context, rng *v1alpha1.Range, tracker *optracker.Tracker, log zerolog.Logger) []string {
	executor := newTaskExecutor()
	var warnings []string

	for i := range rng.Spec.Guests {
		guest := &rng.Spec.Guests[i]
		if len(guest.Status.Addresses) == 0 {
			continue
		}

		target := taskexec.Target{
			Address:  guest.Status.Addresses[0],
			Port:     22,
			User:     guest.Spec.SSHUser,
			Password: rootPassword(guest),
		}

		results := executor.RunGuestTasks(ctx, guest, target)
		guest.Status.TaskResults = results

		for _, r := range results {
			if !r.Success {
				warnings = append(warnings, fmt.Sprintf("guest %s: task %s: %s", guest.GuestID, r.Kind, r.Message))
			}
		}
	}

	if len(warnings) > 0 {
		status.MarkRangeGuestsFailed(rng, fmt.Errorf("%d task(s) reported failure", len(warnings)))
	}
	return warnings
}

// rootPassword returns the password from a declared root add_account task,
// the credential the Task Executor authenticates with, mirroring
// internal/cloudinit's own lookup for the chpasswd stanza.
func rootPassword(guest *v1alpha1.Guest) string {
	for _, t := range guest.Spec.Tasks {
		if t.Kind == v1alpha1.TaskAddAccount && t.Account == "root" {
			return t.Password
		}
	}
	return ""
}

// applyPolicy compiles every placement's forwarding rules and installs
// them as nftables rules tagged with this range's ID.
func (o *Orchestrator) applyPolicy(ctx context.Context, rng *v1alpha1.Range, tracker *optracker.Tracker) error {
	if o.firewall == nil {
		return nil
	}

	var raw []string
	for _, placement := range rng.Spec.Placements {
		if placement.Topology == nil {
			continue
		}
		for _, rule := range placement.Topology.ForwardingRules {
			raw = append(raw, rule.Rule)
		}
	}
	if len(raw) == 0 {
		return nil
	}

	ipMappings := make(map[string]string, len(rng.Status.Networks))
	for _, n := range rng.Status.Networks {
		ipMappings[n.Name] = n.CIDR
	}

	compiled, errs := l3policy.Compile(raw, ipMappings)
	if len(errs) > 0 {
		status.MarkRangePolicyFailed(rng, errs[0])
		return rangeerr.Wrap(rangeerr.NetworkPolicy, "failed to compile forwarding rules", errs[0])
	}

	opID := tracker.StartOperation(optracker.SystemOperation, "apply network policy", func() error {
		return o.firewall.RemoveRangeRules(rng.RangeID)
	})

	if err := o.firewall.ApplyPolicy(rng.RangeID, compiled); err != nil {
		tracker.FailOperation(opID, err.Error())
		status.MarkRangePolicyFailed(rng, err)
		return err
	}
	tracker.CompleteOperation(opID, len(compiled))

	rng.Status.PolicyID = rng.PolicyID()
	status.MarkRangePolicyApplied(rng)
	return nil
}

// finalize marks the range Ready/Active and records the human-facing
// verdict.
func (o *Orchestrator) finalize(rng *v1alpha1.Range, warnings []string) {
	status.MarkRangeTasksCompleted(rng, warnings)
	status.MarkRangeReady(rng)
}

// writeRangeArtifacts writes the per-range on-disk artifacts: a status file
// carrying the final verdict and a creation log holding the operation
// summary. Best-effort; a full disk must not turn a created range into a
// failure.
func (o *Orchestrator) writeRangeArtifacts(rng *v1alpha1.Range, tracker *optracker.Tracker, verdict string) {
	dir := filepath.Join(o.store.Dir(), rng.RangeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.logger.Warn().Err(err).Msg("failed to create range directory")
		return
	}
	if err := os.WriteFile(filepath.Join(dir, "status"), []byte(verdict+"\n"), 0o644); err != nil {
		o.logger.Warn().Err(err).Msg("failed to write range status file")
	}
	if err := os.WriteFile(filepath.Join(dir, "creation.log"), []byte(tracker.GetSummaryReport()), 0o644); err != nil {
		o.logger.Warn().Err(err).Msg("failed to write range creation log")
	}
}
