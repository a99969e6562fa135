// Package topology realizes a range's declared logical networks as libvirt
// networks and assigns every guest a deterministic IP address.
package topology

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"strings"

	"github.com/digitalocean/go-libvirt"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
	"github.com/cyrange-project/cyrange/internal/hypervisor"
	"github.com/cyrange-project/cyrange/internal/naming"
	"github.com/cyrange-project/cyrange/internal/rangeerr"
)

// DefaultCIDRTable is the built-in network-name to CIDR mapping.
var DefaultCIDRTable = map[string]string{
	"office":     "192.168.100.0/24",
	"servers":    "192.168.200.0/24",
	"dmz":        "192.168.50.0/24",
	"management": "192.168.122.0/24",
}

// FallbackCIDR is used for any network name absent from the CIDR table.
const FallbackCIDR = "192.168.150.0/24"

// ManagementNetwork is the network name guests fall back to when they are
// not a member of any declared network.
const ManagementNetwork = "management"

// memberOffsetFloor/managementOffsetFloor/managementOffsetSpan implement the
// offset formulas used for address assignment.
const (
	memberOffsetFloor     = 10
	memberOffsetReserve   = 20
	managementOffsetFloor = 50
	managementOffsetSpan  = 200
)

// Assignment is the realized state produced by CreateTopology: the networks
// that now exist on the hypervisor, and each guest's assigned address.
type Assignment struct {
	Networks []v1alpha1.RealizedNetwork
	VMIPs    map[string]string // guestID -> assigned IP
}

// hvClient is the narrow libvirt surface the Topology Manager needs to
// realize networks. Mirrors hypervisor's own unexported
// libvirtNetworkClient, declared separately here so tests can substitute a
// mock without depending on hypervisor's internals.
type hvClient interface {
	NetworkDefineXML(XML string) (libvirt.Network, error)
	NetworkLookupByName(Name string) (libvirt.Network, error)
	NetworkCreate(Net libvirt.Network) error
	NetworkDestroy(Net libvirt.Network) error
	NetworkUndefine(Net libvirt.Network) error
	NetworkIsActive(Net libvirt.Network) (int32, error)
	NetworkGetDhcpLeases(Net libvirt.Network, Mac libvirt.OptString, NeedResults int32, Flags uint32) (rLeases []libvirt.NetworkDhcpLease, rRet uint32, err error)
	ConnectListAllNetworks(NeedResults int32, Flags libvirt.ConnectListAllNetworksFlags) (rNets []libvirt.Network, rRet uint32, err error)
}

// Manager realizes range topologies against a single libvirt connection.
// CIDRTable may be left nil, in which case DefaultCIDRTable applies.
type Manager struct {
	hv        hvClient
	cidrTable map[string]string
}

// NewManager constructs a Manager. A nil cidrTable falls back to
// DefaultCIDRTable.
func NewManager(hv hvClient, cidrTable map[string]string) *Manager {
	if cidrTable == nil {
		cidrTable = DefaultCIDRTable
	}
	return &Manager{hv: hv, cidrTable: cidrTable}
}

func (m *Manager) cidrFor(networkName string) string {
	if cidr, ok := m.cidrTable[networkName]; ok && cidr != "" {
		return cidr
	}
	return FallbackCIDR
}

// CreateTopology realizes one topology block: compute each
// network's CIDR, define+start (or adopt) it on the hypervisor, build the
// membership map, assign every guest a deterministic address, and return
// the result for the caller to persist.
func (m *Manager) CreateTopology(ctx context.Context, rangeID string, spec *v1alpha1.TopologySpec, guests []v1alpha1.Guest) (*Assignment, error) {
	assignment := &Assignment{VMIPs: make(map[string]string)}

	if spec == nil || len(spec.Networks) == 0 {
		return assignment, nil
	}

	// member -> ordered list of network names it joins, preserving the
	// declaration order of spec.Networks so membership resolution is
	// deterministic when a guest appears in more than one network.
	membership := make(map[string][]string)

	for _, netSpec := range spec.Networks {
		realized, err := m.realizeNetwork(ctx, rangeID, netSpec)
		if err != nil {
			return nil, err
		}
		assignment.Networks = append(assignment.Networks, *realized)

		for _, member := range netSpec.Members {
			guestID, _, ok := strings.Cut(member, ".")
			if !ok {
				return nil, rangeerr.New(rangeerr.Validation, fmt.Sprintf("malformed network member %q, expected guest_id.iface", member))
			}
			membership[guestID] = append(membership[guestID], netSpec.Name)
		}
	}

	networkByName := make(map[string]v1alpha1.RealizedNetwork, len(assignment.Networks))
	for _, n := range assignment.Networks {
		networkByName[n.Name] = n
	}

	for _, guest := range guests {
		ip, err := m.assignAddress(guest, membership[guest.GuestID], networkByName)
		if err != nil {
			return nil, err
		}
		assignment.VMIPs[guest.GuestID] = ip
	}

	return assignment, nil
}

// realizeNetwork performs step 1-2: compute the CIDR/gateway/bridge name,
// build the network XML, and define+start (or adopt) it.
func (m *Manager) realizeNetwork(ctx context.Context, rangeID string, netSpec v1alpha1.NetworkSpec) (*v1alpha1.RealizedNetwork, error) {
	cidr := m.cidrFor(netSpec.Name)
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, rangeerr.New(rangeerr.Validation, fmt.Sprintf("network %q: invalid CIDR %s: %v", netSpec.Name, cidr, err))
	}

	gateway := netSpec.Gateway
	if gateway == "" {
		gateway, err = offsetAddress(ipNet, 1)
		if err != nil {
			return nil, rangeerr.New(rangeerr.Validation, fmt.Sprintf("network %q: %v", netSpec.Name, err))
		}
	}

	bridgeName := naming.RangeBridgeName(rangeID, netSpec.Name)
	dhcpStart, dhcpEnd := middleThird(ipNet)

	networkXML, err := hypervisor.GenerateNetworkXML(bridgeName, cidr, gateway, dhcpStart, dhcpEnd)
	if err != nil {
		return nil, rangeerr.Wrap(rangeerr.Hypervisor, fmt.Sprintf("network %q: failed to generate XML", netSpec.Name), err)
	}

	hvNet, err := hypervisor.EnsureNetwork(m.hv, bridgeName, networkXML)
	if err != nil {
		return nil, rangeerr.Wrap(rangeerr.Hypervisor, fmt.Sprintf("network %q: failed to define", netSpec.Name), err)
	}

	active, err := hvNet.IsActive()
	if err != nil {
		return nil, rangeerr.Wrap(rangeerr.Hypervisor, fmt.Sprintf("network %q: failed to query state", netSpec.Name), err)
	}
	if !active {
		if err := hvNet.Start(); err != nil {
			return nil, rangeerr.Wrap(rangeerr.Hypervisor, fmt.Sprintf("network %q: failed to start", netSpec.Name), err)
		}
	}

	return &v1alpha1.RealizedNetwork{
		Name:    netSpec.Name,
		CIDR:    cidr,
		Gateway: gateway,
		Bridge:  bridgeName,
		Members: netSpec.Members,
	}, nil
}

// assignAddress implements step 4: static IP wins, then network-member
// placement, then the management fallback.
func (m *Manager) assignAddress(guest v1alpha1.Guest, memberOf []string, networkByName map[string]v1alpha1.RealizedNetwork) (string, error) {
	if guest.Spec.StaticIP != "" {
		return guest.Spec.StaticIP, nil
	}

	hash := stableHash(guest.GuestID)

	if len(memberOf) > 0 {
		realized, ok := networkByName[memberOf[0]]
		if !ok {
			return "", rangeerr.New(rangeerr.Validation, fmt.Sprintf("guest %q: network %q has no realized CIDR", guest.GuestID, memberOf[0]))
		}
		_, ipNet, err := net.ParseCIDR(realized.CIDR)
		if err != nil {
			return "", rangeerr.New(rangeerr.Validation, fmt.Sprintf("guest %q: invalid CIDR %s: %v", guest.GuestID, realized.CIDR, err))
		}
		usable := usableHosts(ipNet)
		modulus := usable - memberOffsetReserve
		if modulus <= 0 {
			modulus = 1
		}
		offset := int(hash%uint32(modulus)) + memberOffsetFloor
		ip, err := offsetAddress(ipNet, offset)
		if err != nil {
			return "", rangeerr.New(rangeerr.Validation, fmt.Sprintf("guest %q: %v", guest.GuestID, err))
		}
		return ip, nil
	}

	management, ok := networkByName[ManagementNetwork]
	if !ok {
		_, ipNet, err := net.ParseCIDR(m.cidrFor(ManagementNetwork))
		if err != nil {
			return "", rangeerr.New(rangeerr.Validation, fmt.Sprintf("guest %q: management fallback CIDR invalid: %v", guest.GuestID, err))
		}
		offset := int(hash%managementOffsetSpan) + managementOffsetFloor
		return offsetAddress(ipNet, offset)
	}

	_, ipNet, err := net.ParseCIDR(management.CIDR)
	if err != nil {
		return "", rangeerr.New(rangeerr.Validation, fmt.Sprintf("guest %q: management CIDR invalid: %v", guest.GuestID, err))
	}
	offset := int(hash%managementOffsetSpan) + managementOffsetFloor
	return offsetAddress(ipNet, offset)
}

// DestroyTopology cascades: stop+undefine every
// network whose name carries the range's bridge prefix.
func (m *Manager) DestroyTopology(ctx context.Context, rangeID string) error {
	prefix := fmt.Sprintf("cyris-%s-", rangeID)

	nets, err := hypervisor.ListNetworks(m.hv, false)
	if err != nil {
		return rangeerr.Wrap(rangeerr.Hypervisor, "failed to list networks for destroy", err)
	}

	var firstErr error
	for _, n := range nets {
		if !strings.HasPrefix(n.Name(), prefix) {
			continue
		}
		if err := n.StopAndUndefine(); err != nil && firstErr == nil {
			firstErr = rangeerr.Wrap(rangeerr.Hypervisor, fmt.Sprintf("failed to tear down network %s", n.Name()), err)
		}
	}
	return firstErr
}

// stableHash is the FNV-1a hash over guest_id used by every deterministic
// placement decision; the same guest_id always yields the same hash.
func stableHash(guestID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(guestID))
	return h.Sum32()
}

// usableHosts returns the number of assignable host addresses in ipNet
// (network and broadcast addresses excluded).
func usableHosts(ipNet *net.IPNet) int {
	ones, bits := ipNet.Mask.Size()
	hostBits := bits - ones
	if hostBits <= 1 {
		return 1
	}
	total := 1 << uint(hostBits)
	usable := total - 2
	if usable < 1 {
		return 1
	}
	return usable
}

// offsetAddress returns the IPv4 address offset host positions past the
// network address of ipNet, erroring if the result leaves the subnet.
func offsetAddress(ipNet *net.IPNet, offset int) (string, error) {
	base := ipNet.IP.To4()
	if base == nil {
		return "", fmt.Errorf("not an IPv4 network: %s", ipNet.String())
	}

	baseInt := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])
	candidateInt := baseInt + uint32(offset)
	candidate := net.IPv4(byte(candidateInt>>24), byte(candidateInt>>16), byte(candidateInt>>8), byte(candidateInt))

	if !ipNet.Contains(candidate) {
		return "", fmt.Errorf("offset %d places address %s outside %s", offset, candidate, ipNet.String())
	}
	return candidate.String(), nil
}

// middleThird returns the DHCP start/end addresses spanning the middle
// third of ipNet's address space, as offsets from the network address.
func middleThird(ipNet *net.IPNet) (string, string) {
	usable := usableHosts(ipNet)
	if usable < 6 {
		return "", ""
	}
	start := usable / 3
	end := (usable * 2) / 3
	if end <= start {
		return "", ""
	}
	startAddr, err := offsetAddress(ipNet, start)
	if err != nil {
		return "", ""
	}
	endAddr, err := offsetAddress(ipNet, end)
	if err != nil {
		return "", ""
	}
	return startAddr, endAddr
}
