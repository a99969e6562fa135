package hypervisor

import (
	"encoding/xml"
	"fmt"
	"sync"
	"time"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"
)

// libvirtDomainClient defines the subset of *libvirt.Libvirt a Domain wrapper
// needs. Production code is always given *libvirt.Libvirt directly; tests
// supply hand-written mocks, the same narrow-interface pattern used
// throughout this repository's libvirt-facing packages.
type libvirtDomainClient interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainDefineXML(xmlDesc string) (libvirt.Domain, error)
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	DomainUndefine(dom libvirt.Domain) error
	DomainCreate(dom libvirt.Domain) error
	DomainShutdown(dom libvirt.Domain) error
	DomainDestroy(dom libvirt.Domain) error
	DomainReboot(dom libvirt.Domain, flags libvirt.DomainRebootFlagValues) error
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)
	DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (xmlDesc string, err error)
	DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) (rIfaces []libvirt.DomainInterface, err error)
}

// xmlCacheTTL bounds how long a Domain wrapper trusts a previously fetched
// DomainGetXMLDesc result before re-fetching it. Domain XML only changes
// across a define/undefine, so a short TTL avoids an RPC round trip on every
// address lookup during a multi-step orchestrator run without risking a
// stale read across a VM rebuild.
const xmlCacheTTL = 2 * time.Second

// Domain wraps one libvirt domain, adding the address/state/XML helpers the
// rest of the codebase (IP discovery, orchestrator, task executor) needs
// without reaching into go-libvirt directly.
type Domain struct {
	client libvirtDomainClient
	handle libvirt.Domain

	mu        sync.Mutex
	cachedXML string
	cachedAt  time.Time
}

// LookupDomain finds an existing domain by its libvirt name (see
// v1alpha1.Guest.DomainName).
func LookupDomain(client libvirtDomainClient, name string) (*Domain, error) {
	handle, err := client.DomainLookupByName(name)
	if err != nil {
		return nil, fmt.Errorf("hypervisor: domain %s not found: %w", name, err)
	}
	return &Domain{client: client, handle: handle}, nil
}

// DefineDomain creates a (not yet running) domain from generated XML.
func DefineDomain(client libvirtDomainClient, domainXML string) (*Domain, error) {
	handle, err := client.DomainDefineXML(domainXML)
	if err != nil {
		return nil, fmt.Errorf("hypervisor: failed to define domain: %w", err)
	}
	return &Domain{client: client, handle: handle}, nil
}

// Name returns the domain's libvirt name.
func (d *Domain) Name() string {
	return d.handle.Name
}

// Start powers on a defined domain.
func (d *Domain) Start() error {
	if err := d.client.DomainCreate(d.handle); err != nil {
		return fmt.Errorf("hypervisor: failed to start domain %s: %w", d.handle.Name, err)
	}
	return nil
}

// Shutdown requests a graceful guest shutdown.
func (d *Domain) Shutdown() error {
	if err := d.client.DomainShutdown(d.handle); err != nil {
		return fmt.Errorf("hypervisor: failed to shut down domain %s: %w", d.handle.Name, err)
	}
	return nil
}

// Destroy forcibly powers off the domain.
func (d *Domain) Destroy() error {
	if err := d.client.DomainDestroy(d.handle); err != nil {
		return fmt.Errorf("hypervisor: failed to destroy domain %s: %w", d.handle.Name, err)
	}
	return nil
}

// Reboot asks the guest to restart.
func (d *Domain) Reboot() error {
	if err := d.client.DomainReboot(d.handle, 0); err != nil {
		return fmt.Errorf("hypervisor: failed to reboot domain %s: %w", d.handle.Name, err)
	}
	return nil
}

// Undefine removes the persistent domain definition, including NVRAM state
// for UEFI guests. Safe to call whether or not the domain is running.
func (d *Domain) Undefine() error {
	if err := d.client.DomainUndefineFlags(d.handle, libvirt.DomainUndefineNvram); err != nil {
		if err := d.client.DomainUndefine(d.handle); err != nil {
			return fmt.Errorf("hypervisor: failed to undefine domain %s: %w", d.handle.Name, err)
		}
	}
	return nil
}

// DestroyAndUndefine stops and removes the domain, tolerating a domain that
// is already stopped.
func (d *Domain) DestroyAndUndefine() error {
	active, err := d.IsActive()
	if err != nil {
		return err
	}
	if active {
		if err := d.Destroy(); err != nil {
			return err
		}
	}
	return d.Undefine()
}

// domainState mirrors the VIR_DOMAIN_* state constants returned by
// DomainGetState/DomainGetInfo.
type domainState int32

const (
	stateNoState     domainState = 0
	stateRunning     domainState = 1
	stateBlocked     domainState = 2
	statePaused      domainState = 3
	stateShutdown    domainState = 4
	stateShutoff     domainState = 5
	stateCrashed     domainState = 6
	statePMSuspended domainState = 7
)

// StateInfo summarizes a domain's current execution state.
type StateInfo struct {
	State  domainState
	Reason int32
}

// String renders a StateInfo as a short human-readable state name.
func (s StateInfo) String() string {
	switch s.State {
	case stateNoState:
		return "no state"
	case stateRunning:
		return "running"
	case stateBlocked:
		return "blocked"
	case statePaused:
		return "paused"
	case stateShutdown:
		return "shutdown"
	case stateShutoff:
		return "shutoff"
	case stateCrashed:
		return "crashed"
	case statePMSuspended:
		return "pmsuspended"
	default:
		return fmt.Sprintf("unknown(%d)", s.State)
	}
}

// GetStateInfo queries the domain's current state.
func (d *Domain) GetStateInfo() (StateInfo, error) {
	state, reason, err := d.client.DomainGetState(d.handle, 0)
	if err != nil {
		return StateInfo{}, fmt.Errorf("hypervisor: failed to get state for domain %s: %w", d.handle.Name, err)
	}
	return StateInfo{State: domainState(state), Reason: reason}, nil
}

// IsActive reports whether the domain is currently running.
func (d *Domain) IsActive() (bool, error) {
	info, err := d.GetStateInfo()
	if err != nil {
		return false, err
	}
	return info.State == stateRunning || info.State == stateBlocked || info.State == statePaused, nil
}

// xmlDesc fetches the domain's current XML description, reusing a cached
// copy younger than xmlCacheTTL.
func (d *Domain) xmlDesc() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cachedXML != "" && time.Since(d.cachedAt) < xmlCacheTTL {
		return d.cachedXML, nil
	}

	desc, err := d.client.DomainGetXMLDesc(d.handle, 0)
	if err != nil {
		return "", fmt.Errorf("hypervisor: failed to get XML for domain %s: %w", d.handle.Name, err)
	}
	d.cachedXML = desc
	d.cachedAt = time.Now()
	return desc, nil
}

// InvalidateXMLCache forces the next xmlDesc()-based lookup to re-fetch from
// libvirt. Callers redefine or reboot the domain should call this first.
func (d *Domain) InvalidateXMLCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cachedXML = ""
}

// NetworkInterface describes one of a domain's virtual NICs as parsed from
// its domain XML, independent of whether libvirt can currently report a
// live address for it (the guest may not have booted or the agent may be
// unreachable).
type NetworkInterface struct {
	Target string
	Bridge string
	MAC    string
}

// GetNetworkInterfaces parses the domain's defined network interfaces out of
// its XML description.
func (d *Domain) GetNetworkInterfaces() ([]NetworkInterface, error) {
	desc, err := d.xmlDesc()
	if err != nil {
		return nil, err
	}

	var domain libvirtxml.Domain
	if unmarshalErr := xml.Unmarshal([]byte(desc), &domain); unmarshalErr != nil {
		return nil, fmt.Errorf("hypervisor: failed to parse XML for domain %s: %w", d.handle.Name, unmarshalErr)
	}

	ifaces := make([]NetworkInterface, 0, len(domain.Devices.Interfaces))
	for _, iface := range domain.Devices.Interfaces {
		ni := NetworkInterface{}
		if iface.Target != nil {
			ni.Target = iface.Target.Dev
		}
		if iface.Source != nil && iface.Source.Bridge != nil {
			ni.Bridge = iface.Source.Bridge.Bridge
		}
		if iface.MAC != nil {
			ni.MAC = iface.MAC.Address
		}
		ifaces = append(ifaces, ni)
	}
	return ifaces, nil
}

// GetMACAddresses returns the MAC address of every interface defined on the
// domain, in XML document order.
func (d *Domain) GetMACAddresses() ([]string, error) {
	ifaces, err := d.GetNetworkInterfaces()
	if err != nil {
		return nil, err
	}
	macs := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.MAC != "" {
			macs = append(macs, iface.MAC)
		}
	}
	return macs, nil
}

// addressSource mirrors VIR_DOMAIN_INTERFACE_ADDRESSES_SRC_*.
const (
	addressSourceLease = uint32(0)
	addressSourceAgent = uint32(1)
	addressSourceARP   = uint32(2)
)

// GetIPAddresses queries libvirt's live interface-address reporting (DHCP
// lease table, guest agent, or ARP, depending on source) and returns the IPs
// libvirt currently believes are assigned to the domain's interfaces. This is
// one input among several to the IP discovery chain, not the sole source:
// libvirt may report nothing for a domain whose guest agent isn't installed
// or whose lease has not yet been observed.
func (d *Domain) GetIPAddresses(source uint32) ([]string, error) {
	ifaces, err := d.client.DomainInterfaceAddresses(d.handle, source, 0)
	if err != nil {
		return nil, fmt.Errorf("hypervisor: failed to query interface addresses for domain %s: %w", d.handle.Name, err)
	}

	var addrs []string
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			addrs = append(addrs, addr.Addr)
		}
	}
	return addrs, nil
}

// GetLeaseAddresses queries addresses from libvirt's DHCP lease table.
func (d *Domain) GetLeaseAddresses() ([]string, error) {
	return d.GetIPAddresses(addressSourceLease)
}

// GetAgentAddresses queries addresses reported by the in-guest QEMU agent.
func (d *Domain) GetAgentAddresses() ([]string, error) {
	return d.GetIPAddresses(addressSourceAgent)
}

// GetARPAddresses queries addresses observed in the host's ARP table for
// the domain's interfaces.
func (d *Domain) GetARPAddresses() ([]string, error) {
	return d.GetIPAddresses(addressSourceARP)
}

// DiskInfo describes one disk device attached to the domain.
type DiskInfo struct {
	Device string
	Bus    string
	Pool   string
	Volume string
	File   string
}

// GetDiskInfo parses the domain's attached disks out of its XML description.
func (d *Domain) GetDiskInfo() ([]DiskInfo, error) {
	desc, err := d.xmlDesc()
	if err != nil {
		return nil, err
	}

	var domain libvirtxml.Domain
	if unmarshalErr := xml.Unmarshal([]byte(desc), &domain); unmarshalErr != nil {
		return nil, fmt.Errorf("hypervisor: failed to parse XML for domain %s: %w", d.handle.Name, unmarshalErr)
	}

	disks := make([]DiskInfo, 0, len(domain.Devices.Disks))
	for _, disk := range domain.Devices.Disks {
		info := DiskInfo{Device: disk.Device}
		if disk.Target != nil {
			info.Bus = disk.Target.Bus
		}
		if disk.Source != nil {
			if disk.Source.Volume != nil {
				info.Pool = disk.Source.Volume.Pool
				info.Volume = disk.Source.Volume.Volume
			}
			if disk.Source.File != nil {
				info.File = disk.Source.File.File
			}
		}
		disks = append(disks, info)
	}
	return disks, nil
}
