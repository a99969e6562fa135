package hypervisor

import (
	"fmt"
	"net"

	"libvirt.org/go/libvirtxml"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
	"github.com/cyrange-project/cyrange/internal/naming"
)

// DefaultStoragePool is the pool name used when a Range's provider config
// does not override it.
const DefaultStoragePool = "cyrange-vms"

// StoragePool returns the storage pool a guest's volumes live in.
func StoragePool(r *v1alpha1.Range) string {
	if pool, ok := r.Spec.ProviderConfig["storagePool"]; ok && pool != "" {
		return pool
	}
	return DefaultStoragePool
}

// GuestAddress pairs a guest interface with the IP it was assigned by the
// Topology Manager (or its StaticIP override), the only input domain XML
// generation needs beyond the Guest/Range specs themselves.
type GuestAddress struct {
	Interface string
	Bridge    string
	IP        string
}

// GenerateDomainXML builds the libvirt domain XML for one guest within a
// range. addresses must have one entry per network interface the guest
// joins, in the same order as guest.Spec.Interfaces.
func GenerateDomainXML(r *v1alpha1.Range, guest *v1alpha1.Guest, addresses []GuestAddress) (string, error) {
	domainName := guest.DomainName(r.RangeID)

	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: domainName,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(guest.Spec.MemoryGiB),
			Unit:  "GiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(guest.Spec.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Firmware: "efi",
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BIOS: &libvirtxml.DomainBIOS{
				UseSerial: "yes",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
			PAE:  &libvirtxml.DomainFeature{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			Controllers: []libvirtxml.DomainController{
				{
					Type:  "pci",
					Index: func() *uint { i := uint(0); return &i }(),
					Model: "pci-root",
				},
			},
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	pool := StoragePool(r)

	bootDisk := libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{
			Name:  "qemu",
			Type:  "qcow2",
			Cache: "none",
		},
		Source: &libvirtxml.DomainDiskSource{
			Volume: &libvirtxml.DomainDiskSourceVolume{
				Pool:   pool,
				Volume: naming.VolumeNameBoot(domainName),
			},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: "vda",
			Bus: "virtio",
		},
		Boot: &libvirtxml.DomainDeviceBoot{
			Order: 1,
		},
	}
	domain.Devices.Disks = append(domain.Devices.Disks, bootDisk)

	if guest.RequiresAutoBuild() {
		cdrom := libvirtxml.DomainDisk{
			Device: "cdrom",
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: "raw",
			},
			Source: &libvirtxml.DomainDiskSource{
				Volume: &libvirtxml.DomainDiskSourceVolume{
					Pool:   pool,
					Volume: naming.VolumeNameCloudInit(domainName),
				},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: "sda",
				Bus: "sata",
			},
			ReadOnly: &libvirtxml.DomainDiskReadOnly{},
		}
		domain.Devices.Disks = append(domain.Devices.Disks, cdrom)
	}

	if len(addresses) != len(guest.Spec.Interfaces) {
		return "", fmt.Errorf("guest %s: %d addresses supplied for %d declared interfaces", guest.GuestID, len(addresses), len(guest.Spec.Interfaces))
	}

	for _, addr := range addresses {
		macAddr, err := naming.MACFromIP(addr.IP)
		if err != nil {
			return "", fmt.Errorf("guest %s: failed to derive MAC for %s: %w", guest.GuestID, addr.IP, err)
		}
		ifaceName, err := naming.InterfaceNameFromIP(addr.IP)
		if err != nil {
			return "", fmt.Errorf("guest %s: failed to derive tap name for %s: %w", guest.GuestID, addr.IP, err)
		}

		netIface := libvirtxml.DomainInterface{
			MAC: &libvirtxml.DomainInterfaceMAC{
				Address: macAddr,
			},
			Source: &libvirtxml.DomainInterfaceSource{
				Bridge: &libvirtxml.DomainInterfaceSourceBridge{
					Bridge: addr.Bridge,
				},
			},
			Model: &libvirtxml.DomainInterfaceModel{
				Type: "virtio",
			},
			Target: &libvirtxml.DomainInterfaceTarget{
				Dev: ifaceName,
			},
		}
		domain.Devices.Interfaces = append(domain.Devices.Interfaces, netIface)
	}

	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainSerialTarget{
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "serial",
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML for guest %s: %w", guest.GuestID, err)
	}

	return xml, nil
}

// GenerateNetworkXML builds the libvirt network XML realizing one logical
// range network as a NAT'd bridge. dhcpStart/dhcpEnd declare the advertised
// DHCP pool (the Topology Manager spans the middle third of the subnet);
// guest addresses are nonetheless assigned deterministically, encoded in
// the MAC of each guest's domain XML and set statically through the
// guest's cloud-init network-config, so the DHCP pool exists for
// non-cyrange clients that join the bridge rather than for guest boot.
func GenerateNetworkXML(bridgeName, cidr, gateway, dhcpStart, dhcpEnd string) (string, error) {
	network := &libvirtxml.Network{
		Name: bridgeName,
		Forward: &libvirtxml.NetworkForward{
			Mode: "nat",
		},
		Bridge: &libvirtxml.NetworkBridge{
			Name:  bridgeName,
			STP:   "on",
			Delay: "0",
		},
		IPs: []libvirtxml.NetworkIP{
			{
				Address: gateway,
				Netmask: cidrToNetmask(cidr),
				DHCP:    networkDHCP(dhcpStart, dhcpEnd),
			},
		},
	}

	xml, err := network.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal network XML for %s: %w", bridgeName, err)
	}
	return xml, nil
}

// networkDHCP builds the DHCP range block, or nil if either bound is unset.
func networkDHCP(start, end string) *libvirtxml.NetworkDHCP {
	if start == "" || end == "" {
		return nil
	}
	return &libvirtxml.NetworkDHCP{
		Ranges: []libvirtxml.NetworkDHCPRange{
			{Start: start, End: end},
		},
	}
}

// cidrToNetmask converts a CIDR string's prefix length to a dotted netmask.
// Falls back to a /24 mask if cidr does not parse, since callers only reach
// here after the Topology Manager has already validated the CIDR.
func cidrToNetmask(cidr string) string {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "255.255.255.0"
	}
	mask := ipNet.Mask
	return net.IP(mask).String()
}
