package hypervisor

import (
	"fmt"

	"github.com/digitalocean/go-libvirt"
)

// libvirtNetworkClient defines the subset of *libvirt.Libvirt the Topology
// Manager needs to realize logical range networks as libvirt network
// objects. Mirrors the libvirtDomainClient narrow-interface pattern in
// wrapper.go.
type libvirtNetworkClient interface {
	NetworkDefineXML(XML string) (libvirt.Network, error)
	NetworkLookupByName(Name string) (libvirt.Network, error)
	NetworkCreate(Net libvirt.Network) error
	NetworkDestroy(Net libvirt.Network) error
	NetworkUndefine(Net libvirt.Network) error
	NetworkIsActive(Net libvirt.Network) (int32, error)
	NetworkGetDhcpLeases(Net libvirt.Network, Mac libvirt.OptString, NeedResults int32, Flags uint32) (rLeases []libvirt.NetworkDhcpLease, rRet uint32, err error)
	ConnectListAllNetworks(NeedResults int32, Flags libvirt.ConnectListAllNetworksFlags) (rNets []libvirt.Network, rRet uint32, err error)
}

// Network wraps one libvirt network object, giving the Topology Manager a
// typed start/stop/destroy surface instead of bare go-libvirt calls.
type Network struct {
	client libvirtNetworkClient
	handle libvirt.Network
}

// Name returns the network's libvirt name.
func (n *Network) Name() string {
	return n.handle.Name
}

// DefineNetwork creates a persistent (not yet started) network from XML.
func DefineNetwork(client libvirtNetworkClient, networkXML string) (*Network, error) {
	handle, err := client.NetworkDefineXML(networkXML)
	if err != nil {
		return nil, fmt.Errorf("hypervisor: failed to define network: %w", err)
	}
	return &Network{client: client, handle: handle}, nil
}

// LookupNetwork finds an existing network by name, so the Topology Manager
// can adopt a network a previous (possibly interrupted) run already created
// instead of failing on a duplicate-name define.
func LookupNetwork(client libvirtNetworkClient, name string) (*Network, error) {
	handle, err := client.NetworkLookupByName(name)
	if err != nil {
		return nil, fmt.Errorf("hypervisor: network %s not found: %w", name, err)
	}
	return &Network{client: client, handle: handle}, nil
}

// EnsureNetwork adopts an existing network named by the XML's <name> element
// if one is already defined, otherwise defines a new one. It never redefines
// an existing network, since reusing a range's bridge across interrupted
// create/destroy cycles must be idempotent.
func EnsureNetwork(client libvirtNetworkClient, name, networkXML string) (*Network, error) {
	if existing, err := LookupNetwork(client, name); err == nil {
		return existing, nil
	}
	return DefineNetwork(client, networkXML)
}

// Start activates a defined network.
func (n *Network) Start() error {
	if err := n.client.NetworkCreate(n.handle); err != nil {
		return fmt.Errorf("hypervisor: failed to start network %s: %w", n.handle.Name, err)
	}
	return nil
}

// IsActive reports whether the network is currently running.
func (n *Network) IsActive() (bool, error) {
	active, err := n.client.NetworkIsActive(n.handle)
	if err != nil {
		return false, fmt.Errorf("hypervisor: failed to query network %s state: %w", n.handle.Name, err)
	}
	return active != 0, nil
}

// Destroy stops the network.
func (n *Network) Destroy() error {
	if err := n.client.NetworkDestroy(n.handle); err != nil {
		return fmt.Errorf("hypervisor: failed to destroy network %s: %w", n.handle.Name, err)
	}
	return nil
}

// Undefine removes the network's persistent definition. Safe to call
// whether or not the network is currently active.
func (n *Network) Undefine() error {
	if err := n.client.NetworkUndefine(n.handle); err != nil {
		return fmt.Errorf("hypervisor: failed to undefine network %s: %w", n.handle.Name, err)
	}
	return nil
}

// StopAndUndefine stops (if active) and undefines the network, tolerating a
// network that is already inactive.
func (n *Network) StopAndUndefine() error {
	active, err := n.IsActive()
	if err != nil {
		return err
	}
	if active {
		if err := n.Destroy(); err != nil {
			return err
		}
	}
	return n.Undefine()
}

// GetDHCPLeases returns the network's current DHCP lease table. mac, when
// non-empty, restricts the answer to leases held by that MAC address.
func (n *Network) GetDHCPLeases(mac string) ([]libvirt.NetworkDhcpLease, error) {
	var filter libvirt.OptString
	if mac != "" {
		filter = libvirt.OptString{mac}
	}

	leases, _, err := n.client.NetworkGetDhcpLeases(n.handle, filter, -1, 0)
	if err != nil {
		return nil, fmt.Errorf("hypervisor: failed to query DHCP leases for network %s: %w", n.handle.Name, err)
	}
	return leases, nil
}

// ListNetworks returns every network known to the connection. activeOnly
// restricts the result to currently running networks.
func ListNetworks(client libvirtNetworkClient, activeOnly bool) ([]*Network, error) {
	var flags libvirt.ConnectListAllNetworksFlags
	if activeOnly {
		flags = libvirt.ConnectListNetworksActive
	}

	nets, _, err := client.ConnectListAllNetworks(-1, flags)
	if err != nil {
		return nil, fmt.Errorf("hypervisor: failed to list networks: %w", err)
	}

	out := make([]*Network, 0, len(nets))
	for _, handle := range nets {
		out = append(out, &Network{client: client, handle: handle})
	}
	return out, nil
}
