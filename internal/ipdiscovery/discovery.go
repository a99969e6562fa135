// Package ipdiscovery implements the prioritized IP address discovery
// chain: a sequence of methods, from most to least authoritative, for
// finding the address a running guest has actually been assigned. Each
// method carries a confidence score; the first one to return any IP wins,
// and results are cached per-domain with a TTL.
package ipdiscovery

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/cyrange-project/cyrange/internal/cmdexec"
	"github.com/cyrange-project/cyrange/internal/hypervisor"
	"github.com/cyrange-project/cyrange/internal/naming"
)

// Method names a discovery method, mirrored into Result so callers and logs
// can tell which one produced an answer.
type Method string

const (
	MethodTopology       Method = "cyris_topology"
	MethodLibvirtNative  Method = "libvirt_native"
	MethodLibvirtDHCP    Method = "libvirt_dhcp"
	MethodVirshDomifaddr Method = "virsh_domifaddr"
	MethodARPTable       Method = "arp_table"
	MethodDHCPLeaseFiles Method = "dhcp_leases"
	MethodBridgeScan     Method = "bridge_scan"
)

// confidence scores each method's trustworthiness. It is reported with the
// result; Discover does not compare scores, the first method that finds an
// address wins.
var confidence = map[Method]float64{
	MethodTopology:       1.0,
	MethodLibvirtNative:  1.0,
	MethodLibvirtDHCP:    0.9,
	MethodARPTable:       0.8,
	MethodVirshDomifaddr: 0.7,
	MethodDHCPLeaseFiles: 0.6,
	MethodBridgeScan:     0.25,
}

// defaultMethods is the order Discover tries methods in, falling back to
// the next method only when the previous one found nothing. The order is
// not sorted by confidence: virsh_domifaddr (0.7) runs before arp (0.8).
var defaultMethods = []Method{
	MethodTopology,
	MethodLibvirtNative,
	MethodLibvirtDHCP,
	MethodVirshDomifaddr,
	MethodARPTable,
	MethodDHCPLeaseFiles,
	MethodBridgeScan,
}

// Result is the outcome of a successful discovery attempt.
type Result struct {
	DomainName     string
	IPAddresses    []string
	MACAddresses   []string
	InterfaceNames []string
	Method         Method
	Confidence     float64
	DiscoveredAt   time.Time
}

// PrimaryIP returns the first IPv4 address discovered, or "" if none.
func (r Result) PrimaryIP() string {
	for _, ip := range r.IPAddresses {
		if strings.Count(ip, ".") == 3 {
			return ip
		}
	}
	return ""
}

// TopologyLookup resolves a guest's statically assigned IP from the Topology
// Manager's membership map, the most authoritative source available: an
// address the orchestrator itself chose, rather than one discovered after
// the fact.
type TopologyLookup func(rangeID, guestID string) (ip string, ok bool)

// cacheEntry pairs a Result with when it expires and how many times it has
// been served since discovery.
type cacheEntry struct {
	result     Result
	expiresAt  time.Time
	validation int
}

// Discoverer runs the discovery chain against domains reachable through a
// single libvirt connection.
type Discoverer struct {
	pool            *hypervisor.Pool
	runner          *cmdexec.Runner
	topologyLookup  TopologyLookup
	dhcpLeaseFiles  []string
	cacheTTL        time.Duration

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// defaultDHCPLeaseFiles lists the common host lease file locations the
// lease-file method scans.
var defaultDHCPLeaseFiles = []string{
	"/var/lib/dhcp/dhcpd.leases",
	"/var/lib/dhcpcd5/dhcpcd.leases",
	"/var/db/dhcpcd.leases",
}

// New constructs a Discoverer. cacheTTL of zero defaults to 5 minutes.
func New(pool *hypervisor.Pool, runner *cmdexec.Runner, topologyLookup TopologyLookup, cacheTTL time.Duration) *Discoverer {
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Discoverer{
		pool:           pool,
		runner:         runner,
		topologyLookup: topologyLookup,
		dhcpLeaseFiles: defaultDHCPLeaseFiles,
		cacheTTL:       cacheTTL,
		cache:          make(map[string]*cacheEntry),
	}
}

// Discover finds the IP address(es) for a guest's domain, trying each method
// in defaultMethods until one succeeds. rangeID/guestID feed the topology
// lookup; domainName and socketPath identify the libvirt domain for every
// other method.
func (d *Discoverer) Discover(ctx context.Context, rangeID, guestID, domainName, socketPath string) (Result, error) {
	if cached, ok := d.cachedResult(domainName); ok {
		return cached, nil
	}

	for _, method := range defaultMethods {
		result, err := d.tryMethod(ctx, method, rangeID, guestID, domainName, socketPath)
		if err != nil {
			continue
		}
		if result != nil && len(result.IPAddresses) > 0 {
			result.DiscoveredAt = time.Now()
			d.cacheResult(domainName, *result)
			return *result, nil
		}
	}

	return Result{}, fmt.Errorf("ipdiscovery: no method discovered an address for %s", domainName)
}

// ForceRefresh discards any cached result for domainName so the next
// Discover call re-runs the full method chain.
func (d *Discoverer) ForceRefresh(domainName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, domainName)
}

func (d *Discoverer) cachedResult(domainName string) (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.cache[domainName]
	if !ok {
		return Result{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(d.cache, domainName)
		return Result{}, false
	}
	entry.validation++
	return entry.result, true
}

func (d *Discoverer) cacheResult(domainName string, result Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[domainName] = &cacheEntry{result: result, expiresAt: time.Now().Add(d.cacheTTL)}
}

func (d *Discoverer) tryMethod(ctx context.Context, method Method, rangeID, guestID, domainName, socketPath string) (*Result, error) {
	switch method {
	case MethodTopology:
		return d.viaTopology(rangeID, guestID, domainName)
	case MethodLibvirtNative:
		return d.viaLibvirtNative(ctx, domainName, socketPath)
	case MethodLibvirtDHCP:
		return d.viaLibvirtDHCPLeases(ctx, domainName, socketPath)
	case MethodVirshDomifaddr:
		return d.viaVirshFallback(ctx, domainName)
	case MethodARPTable:
		return d.viaARPTable(ctx, domainName, socketPath)
	case MethodDHCPLeaseFiles:
		return d.viaDHCPLeaseFiles(ctx, domainName, socketPath)
	case MethodBridgeScan:
		return d.viaBridgeScan(domainName, socketPath, ctx)
	default:
		return nil, fmt.Errorf("ipdiscovery: unknown method %q", method)
	}
}

func (d *Discoverer) viaTopology(rangeID, guestID, domainName string) (*Result, error) {
	if d.topologyLookup == nil {
		return nil, fmt.Errorf("no topology lookup configured")
	}
	ip, ok := d.topologyLookup(rangeID, guestID)
	if !ok {
		return nil, fmt.Errorf("no topology assignment for guest %s", guestID)
	}
	return &Result{
		DomainName:  domainName,
		IPAddresses: []string{ip},
		Method:      MethodTopology,
		Confidence:  confidence[MethodTopology],
	}, nil
}

func (d *Discoverer) lookupDomain(ctx context.Context, domainName, socketPath string) (*hypervisor.Domain, func(), error) {
	client, err := d.pool.Acquire(ctx, socketPath)
	if err != nil {
		return nil, func() {}, fmt.Errorf("ipdiscovery: failed to acquire libvirt connection: %w", err)
	}
	release := func() { d.pool.Release(client) }

	domain, err := hypervisor.LookupDomain(client.Libvirt(), domainName)
	if err != nil {
		return nil, release, err
	}
	return domain, release, nil
}

// viaLibvirtNative asks libvirt for the domain's own interface addresses
// from the DHCP-lease source: the native per-domain lookup, authoritative
// when it answers and requiring nothing installed in the guest.
func (d *Discoverer) viaLibvirtNative(ctx context.Context, domainName, socketPath string) (*Result, error) {
	domain, release, err := d.lookupDomain(ctx, domainName, socketPath)
	defer release()
	if err != nil {
		return nil, err
	}

	ips, err := domain.GetLeaseAddresses()
	if err != nil || len(ips) == 0 {
		return nil, fmt.Errorf("no native interface addresses for %s", domainName)
	}

	ifaces, err := domain.GetNetworkInterfaces()
	if err != nil {
		return nil, err
	}
	macs := make([]string, 0, len(ifaces))
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.MAC != "" {
			macs = append(macs, iface.MAC)
		}
		if iface.Target != "" {
			names = append(names, iface.Target)
		}
	}

	return &Result{
		DomainName:     domainName,
		IPAddresses:    ips,
		MACAddresses:   macs,
		InterfaceNames: names,
		Method:         MethodLibvirtNative,
		Confidence:     confidence[MethodLibvirtNative],
	}, nil
}

// viaLibvirtDHCPLeases enumerates every active network on the connection
// and matches their DHCP lease tables against the domain's MAC addresses.
// Wider than the per-domain native lookup: it finds leases on networks the
// domain's own interface report misses (e.g. after a reattach).
func (d *Discoverer) viaLibvirtDHCPLeases(ctx context.Context, domainName, socketPath string) (*Result, error) {
	client, err := d.pool.Acquire(ctx, socketPath)
	if err != nil {
		return nil, fmt.Errorf("ipdiscovery: failed to acquire libvirt connection: %w", err)
	}
	defer d.pool.Release(client)

	domain, err := hypervisor.LookupDomain(client.Libvirt(), domainName)
	if err != nil {
		return nil, err
	}
	macs, err := domain.GetMACAddresses()
	if err != nil || len(macs) == 0 {
		return nil, fmt.Errorf("no MAC addresses known for %s", domainName)
	}

	networks, err := hypervisor.ListNetworks(client.Libvirt(), true)
	if err != nil {
		return nil, err
	}

	var ips []string
	seen := make(map[string]bool)
	for _, network := range networks {
		leases, err := network.GetDHCPLeases("")
		if err != nil {
			continue
		}
		for _, ip := range leaseIPsForMACs(leases, macs) {
			if !seen[ip] {
				seen[ip] = true
				ips = append(ips, ip)
			}
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no DHCP leases on any network matched %s's MAC addresses", domainName)
	}

	return &Result{
		DomainName:   domainName,
		IPAddresses:  ips,
		MACAddresses: macs,
		Method:       MethodLibvirtDHCP,
		Confidence:   confidence[MethodLibvirtDHCP],
	}, nil
}

// leaseIPsForMACs filters a network's lease table down to the addresses
// held by one of the given MACs. MAC comparison is case-insensitive.
func leaseIPsForMACs(leases []libvirt.NetworkDhcpLease, macs []string) []string {
	want := make(map[string]bool, len(macs))
	for _, mac := range macs {
		want[strings.ToLower(mac)] = true
	}

	var ips []string
	for _, lease := range leases {
		if len(lease.Mac) == 0 || lease.Ipaddr == "" {
			continue
		}
		if want[strings.ToLower(lease.Mac[0])] {
			ips = append(ips, lease.Ipaddr)
		}
	}
	return ips
}

var domifaddrLineRE = regexp.MustCompile(`^\s*(\S+)\s+(\S+)\s+\S+\s+(\S+)\s*$`)

// viaVirshFallback shells out to `virsh domifaddr` when the RPC-based
// methods have all come up empty.
func (d *Discoverer) viaVirshFallback(ctx context.Context, domainName string) (*Result, error) {
	result, err := d.runner.Run(ctx, cmdexec.Command{
		Name:    "virsh",
		Args:    []string{"domifaddr", domainName},
		Timeout: 30 * time.Second,
	})
	if err != nil || !result.Success {
		return nil, fmt.Errorf("virsh domifaddr failed for %s", domainName)
	}

	var ips, macs, ifaces []string
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	for _, line := range lines {
		match := domifaddrLineRE.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		ifaceName, mac, ipWithPrefix := match[1], match[2], match[3]
		if !strings.Contains(mac, ":") {
			continue
		}
		ip := strings.SplitN(ipWithPrefix, "/", 2)[0]
		ifaces = append(ifaces, ifaceName)
		macs = append(macs, mac)
		ips = append(ips, ip)
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses parsed from virsh domifaddr output for %s", domainName)
	}

	return &Result{
		DomainName:     domainName,
		IPAddresses:    ips,
		MACAddresses:   macs,
		InterfaceNames: ifaces,
		Method:         MethodVirshDomifaddr,
		Confidence:     confidence[MethodVirshDomifaddr],
	}, nil
}

var arpLineRE = regexp.MustCompile(`\(([0-9]+\.[0-9]+\.[0-9]+\.[0-9]+)\)`)

// viaARPTable scans the host ARP table for the domain's MAC addresses.
func (d *Discoverer) viaARPTable(ctx context.Context, domainName, socketPath string) (*Result, error) {
	domain, release, err := d.lookupDomain(ctx, domainName, socketPath)
	if err != nil {
		release()
		return nil, err
	}
	macs, err := domain.GetMACAddresses()
	release()
	if err != nil || len(macs) == 0 {
		return nil, fmt.Errorf("no MAC addresses known for %s", domainName)
	}

	result, err := d.runner.Run(ctx, cmdexec.Command{
		Name:    "arp",
		Args:    []string{"-a"},
		Timeout: 15 * time.Second,
	})
	if err != nil || !result.Success {
		return nil, fmt.Errorf("arp -a failed")
	}

	var ips, foundMACs []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(result.Stdout, "\n") {
		lower := strings.ToLower(line)
		for _, mac := range macs {
			if strings.Contains(lower, strings.ToLower(mac)) {
				if match := arpLineRE.FindStringSubmatch(line); match != nil && !seen[match[1]] {
					seen[match[1]] = true
					ips = append(ips, match[1])
					foundMACs = append(foundMACs, mac)
				}
			}
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no ARP entries matched %s's MAC addresses", domainName)
	}

	return &Result{
		DomainName:   domainName,
		IPAddresses:  ips,
		MACAddresses: foundMACs,
		Method:       MethodARPTable,
		Confidence:   confidence[MethodARPTable],
	}, nil
}

var dhcpLeaseRE = `lease\s+(\d+\.\d+\.\d+\.\d+).*?hardware ethernet\s+%s`

// viaDHCPLeaseFiles parses the host's ISC DHCP lease files for entries
// matching the domain's MAC addresses.
func (d *Discoverer) viaDHCPLeaseFiles(ctx context.Context, domainName, socketPath string) (*Result, error) {
	domain, release, err := d.lookupDomain(ctx, domainName, socketPath)
	if err != nil {
		release()
		return nil, err
	}
	macs, err := domain.GetMACAddresses()
	release()
	if err != nil || len(macs) == 0 {
		return nil, fmt.Errorf("no MAC addresses known for %s", domainName)
	}

	var ips []string
	seen := make(map[string]bool)
	for _, leaseFile := range d.dhcpLeaseFiles {
		content, err := os.ReadFile(leaseFile)
		if err != nil {
			continue
		}
		for _, mac := range macs {
			pattern := regexp.MustCompile(fmt.Sprintf(dhcpLeaseRE, regexp.QuoteMeta(mac)))
			for _, match := range pattern.FindAllStringSubmatch(string(content), -1) {
				if ip := match[1]; !seen[ip] {
					seen[ip] = true
					ips = append(ips, ip)
				}
			}
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no DHCP lease file entries matched %s's MAC addresses", domainName)
	}

	return &Result{
		DomainName:   domainName,
		IPAddresses:  ips,
		MACAddresses: macs,
		Method:       MethodDHCPLeaseFiles,
		Confidence:   confidence[MethodDHCPLeaseFiles],
	}, nil
}

// viaBridgeScan is the last resort: derive a candidate address from each
// interface's MAC by inverting naming.MACFromIP. The address is not checked
// against the bridge's CIDR (it is decoded against 0.0.0.0/0). Low
// confidence, since it only shows the address the MAC encodes, not that the
// guest actually holds it.
func (d *Discoverer) viaBridgeScan(domainName, socketPath string, ctx context.Context) (*Result, error) {
	domain, release, err := d.lookupDomain(ctx, domainName, socketPath)
	if err != nil {
		release()
		return nil, err
	}
	ifaces, err := domain.GetNetworkInterfaces()
	release()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.MAC == "" {
			continue
		}
		// without the guest's network CIDR in scope here, the widest
		// possible range is used: this only recovers the raw octets, it
		// cannot validate that the address belongs to any particular bridge.
		if !strings.HasPrefix(strings.ToLower(iface.MAC), "be:ef:") {
			continue
		}
		candidate, err := naming.IPFromMAC(iface.MAC, "0.0.0.0/0")
		if err != nil {
			continue
		}
		return &Result{
			DomainName:     domainName,
			IPAddresses:    []string{candidate},
			MACAddresses:   []string{iface.MAC},
			InterfaceNames: []string{iface.Target},
			Method:         MethodBridgeScan,
			Confidence:     confidence[MethodBridgeScan],
		}, nil
	}

	return nil, fmt.Errorf("no be:ef:-derived MAC found for %s", domainName)
}
