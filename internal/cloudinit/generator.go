// Package cloudinit provides cloud-init configuration generation for guest provisioning.
//
// This package generates cloud-init configuration files (user-data, meta-data, network-config)
// following the official cloud-init NoCloud datasource specification.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"net"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname          string    `yaml:"hostname"`
	FQDN              string    `yaml:"fqdn"`
	SSHAuthorizedKeys []string  `yaml:"ssh_authorized_keys,omitempty"`
	Chpasswd          *Chpasswd `yaml:"chpasswd,omitempty"`
	SSHPasswordAuth   bool      `yaml:"ssh_pwauth"`
	Output            *Output   `yaml:"output,omitempty"`
}

// Chpasswd configures user password settings.
type Chpasswd struct {
	Expire bool   `yaml:"expire"` // Whether to expire passwords on first login
	List   string `yaml:"list"`   // Format: "username:hash"
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig represents the netplan v2 network configuration.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig represents a single ethernet interface configuration.
type EthernetConfig struct {
	Match       MatchConfig   `yaml:"match"`
	Addresses   []string      `yaml:"addresses"`
	Routes      []RouteConfig `yaml:"routes,omitempty"`
	Nameservers *Nameservers  `yaml:"nameservers,omitempty"`
}

// MatchConfig matches an interface by MAC address.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

// RouteConfig represents a static route.
type RouteConfig struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

// Nameservers represents DNS server configuration.
type Nameservers struct {
	Addresses []string `yaml:"addresses"`
}

// InterfaceAddress is the resolved addressing for one guest interface, as
// assigned by the Topology Manager (or pinned by GuestSpec.StaticIP). It is
// the only input network-config generation needs beyond the Guest spec
// itself, mirroring how hypervisor.GuestAddress feeds domain XML generation.
type InterfaceAddress struct {
	// Network is the logical network name, matching a GuestNetworkInterfaceSpec.Network.
	Network string
	// CIDR is the interface address in address/prefix form, e.g. "10.0.1.5/24".
	CIDR string
	// Gateway is the next hop for this interface's default route, if any.
	Gateway string
	// DNSServers are the nameservers to configure on this interface.
	DNSServers []string
	// DefaultRoute marks this interface as the one carrying the default route.
	DefaultRoute bool
}

// calculateMACFromIP generates a MAC address from an IP address.
// Algorithm: IP 10.20.30.40 → MAC be:ef:0a:14:1e:28
func calculateMACFromIP(ipWithCIDR string) (string, error) {
	// Strip CIDR suffix if present
	ipStr := ipWithCIDR
	if strings.Contains(ipWithCIDR, "/") {
		ip, _, err := net.ParseCIDR(ipWithCIDR)
		if err != nil {
			return "", fmt.Errorf("invalid IP/CIDR format: %w", err)
		}
		ipStr = ip.String()
	}

	// Parse IP address
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", ipStr)
	}

	// Convert to IPv4
	ip = ip.To4()
	if ip == nil {
		return "", fmt.Errorf("only IPv4 addresses are supported: %s", ipStr)
	}

	// Generate MAC: be:ef:xx:xx:xx:xx
	return fmt.Sprintf("be:ef:%02x:%02x:%02x:%02x", ip[0], ip[1], ip[2], ip[3]), nil
}

// GenerateUserData generates the user-data YAML content for a guest.
//
// Returns the complete user-data file content including the "#cloud-config" header.
func GenerateUserData(rangeID string, guest *v1alpha1.Guest) (string, error) {
	if guest == nil {
		return "", fmt.Errorf("guest cannot be nil")
	}

	domainName := guest.DomainName(rangeID)
	hostname := guest.GuestID
	fqdn := domainName

	userData := UserData{
		Hostname:        hostname,
		FQDN:            fqdn,
		SSHPasswordAuth: false,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	if len(guest.Spec.SSHAuthorizedKeys) > 0 {
		userData.SSHAuthorizedKeys = guest.Spec.SSHAuthorizedKeys
	}

	for _, task := range guest.Spec.Tasks {
		if task.Kind == v1alpha1.TaskAddAccount && task.Account == "root" && task.Password != "" {
			userData.Chpasswd = &Chpasswd{
				Expire: false,
				List:   fmt.Sprintf("root:%s", task.Password),
			}
			break
		}
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// Prepend #cloud-config header (required by cloud-init spec)
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData generates the meta-data YAML content for a guest.
//
// The instance-id is set to the domain name. Cloud-init uses instance-id to
// determine if this is a first boot. Using the deterministic domain name
// means cloud-init will re-run if the guest is destroyed and recreated
// within the same range.
func GenerateMetaData(rangeID string, guest *v1alpha1.Guest) (string, error) {
	if guest == nil {
		return "", fmt.Errorf("guest cannot be nil")
	}

	domainName := guest.DomainName(rangeID)
	metaData := MetaData{
		InstanceID:    domainName,
		LocalHostname: guest.GuestID,
	}

	yamlBytes, err := yaml.Marshal(&metaData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}

// GenerateNetworkConfig generates the network-config YAML content for a guest.
//
// addresses must have one entry per network interface the guest joins, in
// the same order as guest.Spec.Interfaces.
//
// Uses netplan version 2 format with ethernet interfaces matched by MAC address.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
func GenerateNetworkConfig(guest *v1alpha1.Guest, addresses []InterfaceAddress) (string, error) {
	if guest == nil {
		return "", fmt.Errorf("guest cannot be nil")
	}

	if len(guest.Spec.Interfaces) == 0 {
		return "", fmt.Errorf("at least one network interface is required")
	}

	if len(addresses) != len(guest.Spec.Interfaces) {
		return "", fmt.Errorf("addresses length %d does not match interface count %d", len(addresses), len(guest.Spec.Interfaces))
	}

	networkConfig := NetworkConfig{
		Version:   2,
		Ethernets: make(map[string]EthernetConfig),
	}

	for i := range guest.Spec.Interfaces {
		ethName := fmt.Sprintf("eth%d", i)
		addr := addresses[i]

		macAddr, err := calculateMACFromIP(addr.CIDR)
		if err != nil {
			return "", fmt.Errorf("failed to calculate MAC address for %s: %w", addr.CIDR, err)
		}

		ethConfig := EthernetConfig{
			Match: MatchConfig{
				MACAddress: macAddr,
			},
			Addresses: []string{addr.CIDR},
		}

		if addr.DefaultRoute && addr.Gateway != "" {
			ethConfig.Routes = []RouteConfig{
				{
					To:  "0.0.0.0/0",
					Via: addr.Gateway,
				},
			}
		}

		if len(addr.DNSServers) > 0 {
			ethConfig.Nameservers = &Nameservers{
				Addresses: addr.DNSServers,
			}
		}

		networkConfig.Ethernets[ethName] = ethConfig
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}

	return string(yamlBytes), nil
}
