package cloudinit

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

// Test SSH keys (valid keys generated for testing)
const (
	testSSHKeyEd25519 = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIIbJKZscbOLzBsgY5y2QupKW4A2kSDjMBQGPb1dChr+S test@example.com"
	testSSHKeyRSA     = "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABAQCq7mGKPGMc36QAe7g1dJ8oGeDD1VnfBwdC3YAlp8zX3cQm8PEaaBUsKgVPigiFVWMwKTBpP2YWAjQaqyBIgFM7sneE8Ke3ouMS9GaOoFHMcorvX1N6oJtldL58D1vfGpHcBfwZiSFHxHZOZwG0Q0hCBJcoAiVtBUaubspLiXY/QgUZnw1JgbAsVuFdHxMsqSwi8NC6smVhg00T28TDubfgMZM02Uvd/qNZF6PzKxUhcCIY4zCHtsiMeN7njssKmjnuBLBlD51D19Rw6CbHsKOEskdpIHU+8o5debIwHk7c6Q0iOGTs/2lg/Rjzs+Us59NOTRB+jECEAbO0r19l//pr test-rsa@example.com"
)

func testGuest(guestID string) *v1alpha1.Guest {
	return &v1alpha1.Guest{
		GuestID: guestID,
		Spec: v1alpha1.GuestSpec{
			Kind: v1alpha1.GuestKindKVMAuto,
		},
	}
}

func TestGenerateUserData(t *testing.T) {
	tests := []struct {
		name         string
		rangeID      string
		guest        *v1alpha1.Guest
		expectErr    bool
		checkContent func(t *testing.T, content string)
	}{
		{
			name:      "nil guest",
			rangeID:   "cr01-aaaa",
			guest:     nil,
			expectErr: true,
		},
		{
			name:    "minimal guest - no tasks",
			rangeID: "cr01-aaaa",
			guest:   testGuest("desktop"),
			checkContent: func(t *testing.T, content string) {
				if !strings.HasPrefix(content, "#cloud-config\n") {
					t.Error("user-data must start with '#cloud-config'")
				}

				var userData UserData
				if err := yaml.Unmarshal([]byte(strings.TrimPrefix(content, "#cloud-config\n")), &userData); err != nil {
					t.Fatalf("Failed to parse user-data YAML: %v", err)
				}

				if userData.Hostname != "desktop" {
					t.Errorf("Expected hostname 'desktop', got %q", userData.Hostname)
				}
				if userData.SSHPasswordAuth != false {
					t.Errorf("Expected ssh_pwauth false, got %v", userData.SSHPasswordAuth)
				}
				if userData.Output == nil || userData.Output.All != "| tee -a /var/log/cloud-init-output.log" {
					t.Error("Expected output logging to be configured")
				}
			},
		},
		{
			name:    "FQDN derived from domain name",
			rangeID: "cr01-aaaa",
			guest:   testGuest("desktop"),
			checkContent: func(t *testing.T, content string) {
				var userData UserData
				if err := yaml.Unmarshal([]byte(strings.TrimPrefix(content, "#cloud-config\n")), &userData); err != nil {
					t.Fatalf("Failed to parse user-data YAML: %v", err)
				}

				want := testGuest("desktop").DomainName("cr01-aaaa")
				if userData.FQDN != want {
					t.Errorf("Expected fqdn %q, got %q", want, userData.FQDN)
				}
			},
		},
		{
			name:    "with SSH keys",
			rangeID: "cr01-aaaa",
			guest: func() *v1alpha1.Guest {
				g := testGuest("desktop")
				g.Spec.SSHAuthorizedKeys = []string{testSSHKeyEd25519, testSSHKeyRSA}
				return g
			}(),
			checkContent: func(t *testing.T, content string) {
				var userData UserData
				if err := yaml.Unmarshal([]byte(strings.TrimPrefix(content, "#cloud-config\n")), &userData); err != nil {
					t.Fatalf("Failed to parse user-data YAML: %v", err)
				}

				if len(userData.SSHAuthorizedKeys) != 2 {
					t.Errorf("Expected 2 SSH keys, got %d", len(userData.SSHAuthorizedKeys))
				}
				if userData.SSHAuthorizedKeys[0] != testSSHKeyEd25519 {
					t.Error("First SSH key doesn't match")
				}
				if userData.SSHAuthorizedKeys[1] != testSSHKeyRSA {
					t.Error("Second SSH key doesn't match")
				}
			},
		},
		{
			name:    "with root add_account task",
			rangeID: "cr01-aaaa",
			guest: func() *v1alpha1.Guest {
				g := testGuest("desktop")
				g.Spec.Tasks = []v1alpha1.Task{
					{Kind: v1alpha1.TaskAddAccount, Account: "root", Password: "$6$rounds=4096$salt$hashedpassword"},
				}
				return g
			}(),
			checkContent: func(t *testing.T, content string) {
				var userData UserData
				if err := yaml.Unmarshal([]byte(strings.TrimPrefix(content, "#cloud-config\n")), &userData); err != nil {
					t.Fatalf("Failed to parse user-data YAML: %v", err)
				}

				if userData.Chpasswd == nil {
					t.Fatal("Expected chpasswd to be set")
				}
				if userData.Chpasswd.Expire != false {
					t.Error("Expected chpasswd.expire to be false")
				}
				expectedList := "root:$6$rounds=4096$salt$hashedpassword"
				if userData.Chpasswd.List != expectedList {
					t.Errorf("Expected chpasswd.list %q, got %q", expectedList, userData.Chpasswd.List)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := GenerateUserData(tt.rangeID, tt.guest)
			if tt.expectErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if tt.checkContent != nil {
				tt.checkContent(t, content)
			}
		})
	}
}

func TestGenerateMetaData(t *testing.T) {
	tests := []struct {
		name         string
		rangeID      string
		guest        *v1alpha1.Guest
		expectErr    bool
		checkContent func(t *testing.T, content string)
	}{
		{
			name:      "nil guest",
			rangeID:   "cr01-aaaa",
			guest:     nil,
			expectErr: true,
		},
		{
			name:    "valid guest",
			rangeID: "cr01-aaaa",
			guest:   testGuest("desktop"),
			checkContent: func(t *testing.T, content string) {
				var metaData MetaData
				if err := yaml.Unmarshal([]byte(content), &metaData); err != nil {
					t.Fatalf("Failed to parse meta-data YAML: %v", err)
				}

				wantID := testGuest("desktop").DomainName("cr01-aaaa")
				if metaData.InstanceID != wantID {
					t.Errorf("Expected instance-id %q, got %q", wantID, metaData.InstanceID)
				}
				if metaData.LocalHostname != "desktop" {
					t.Errorf("Expected local-hostname 'desktop', got %q", metaData.LocalHostname)
				}
			},
		},
		{
			name:    "different guest id changes instance id",
			rangeID: "cr01-aaaa",
			guest:   testGuest("webserver"),
			checkContent: func(t *testing.T, content string) {
				var metaData MetaData
				if err := yaml.Unmarshal([]byte(content), &metaData); err != nil {
					t.Fatalf("Failed to parse meta-data YAML: %v", err)
				}

				if metaData.LocalHostname != "webserver" {
					t.Errorf("Expected local-hostname 'webserver', got %q", metaData.LocalHostname)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := GenerateMetaData(tt.rangeID, tt.guest)
			if tt.expectErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if tt.checkContent != nil {
				tt.checkContent(t, content)
			}
		})
	}
}

func TestGenerateNetworkConfig(t *testing.T) {
	oneIface := func() *v1alpha1.Guest {
		g := testGuest("desktop")
		g.Spec.Interfaces = []v1alpha1.GuestNetworkInterfaceSpec{{Network: "office", Interface: "eth0"}}
		return g
	}
	twoIface := func() *v1alpha1.Guest {
		g := testGuest("desktop")
		g.Spec.Interfaces = []v1alpha1.GuestNetworkInterfaceSpec{
			{Network: "office", Interface: "eth0"},
			{Network: "servers", Interface: "eth1"},
		}
		return g
	}

	tests := []struct {
		name         string
		guest        *v1alpha1.Guest
		addresses    []InterfaceAddress
		expectErr    bool
		checkContent func(t *testing.T, content string)
	}{
		{
			name:      "nil guest",
			guest:     nil,
			expectErr: true,
		},
		{
			name:      "no interfaces",
			guest:     testGuest("desktop"),
			addresses: nil,
			expectErr: true,
		},
		{
			name:  "address count mismatch",
			guest: oneIface(),
			addresses: []InterfaceAddress{
				{Network: "office", CIDR: "10.20.30.40/24"},
				{Network: "servers", CIDR: "10.20.31.40/24"},
			},
			expectErr: true,
		},
		{
			name:  "single interface with default route",
			guest: oneIface(),
			addresses: []InterfaceAddress{
				{
					Network:      "office",
					CIDR:         "10.20.30.40/24",
					Gateway:      "10.20.30.1",
					DNSServers:   []string{"8.8.8.8", "1.1.1.1"},
					DefaultRoute: true,
				},
			},
			checkContent: func(t *testing.T, content string) {
				var netConfig NetworkConfig
				if err := yaml.Unmarshal([]byte(content), &netConfig); err != nil {
					t.Fatalf("Failed to parse network-config YAML: %v", err)
				}

				if netConfig.Version != 2 {
					t.Errorf("Expected version 2, got %d", netConfig.Version)
				}

				eth0, ok := netConfig.Ethernets["eth0"]
				if !ok {
					t.Fatal("Expected eth0 interface")
				}

				if eth0.Match.MACAddress != "be:ef:0a:14:1e:28" {
					t.Errorf("Expected MAC 'be:ef:0a:14:1e:28', got %q", eth0.Match.MACAddress)
				}

				if len(eth0.Addresses) != 1 || eth0.Addresses[0] != "10.20.30.40/24" {
					t.Errorf("Expected address '10.20.30.40/24', got %v", eth0.Addresses)
				}

				if len(eth0.Routes) != 1 {
					t.Fatalf("Expected 1 route, got %d", len(eth0.Routes))
				}
				if eth0.Routes[0].To != "0.0.0.0/0" {
					t.Errorf("Expected route to '0.0.0.0/0', got %q", eth0.Routes[0].To)
				}
				if eth0.Routes[0].Via != "10.20.30.1" {
					t.Errorf("Expected route via '10.20.30.1', got %q", eth0.Routes[0].Via)
				}

				if eth0.Nameservers == nil || len(eth0.Nameservers.Addresses) != 2 {
					t.Error("Expected 2 DNS servers")
				}
			},
		},
		{
			name:  "single interface without default route",
			guest: oneIface(),
			addresses: []InterfaceAddress{
				{Network: "office", CIDR: "10.20.30.40/24", Gateway: "10.20.30.1", DefaultRoute: false},
			},
			checkContent: func(t *testing.T, content string) {
				var netConfig NetworkConfig
				if err := yaml.Unmarshal([]byte(content), &netConfig); err != nil {
					t.Fatalf("Failed to parse network-config YAML: %v", err)
				}

				eth0 := netConfig.Ethernets["eth0"]
				if len(eth0.Routes) != 0 {
					t.Errorf("Expected no routes when default route is false, got %d", len(eth0.Routes))
				}
			},
		},
		{
			name:  "interface without DNS servers",
			guest: oneIface(),
			addresses: []InterfaceAddress{
				{Network: "office", CIDR: "10.20.30.40/24", Gateway: "10.20.30.1", DefaultRoute: true},
			},
			checkContent: func(t *testing.T, content string) {
				var netConfig NetworkConfig
				if err := yaml.Unmarshal([]byte(content), &netConfig); err != nil {
					t.Fatalf("Failed to parse network-config YAML: %v", err)
				}

				eth0 := netConfig.Ethernets["eth0"]
				if eth0.Nameservers != nil {
					t.Error("Expected no nameservers when DNS servers not configured")
				}
			},
		},
		{
			name:  "multiple interfaces",
			guest: twoIface(),
			addresses: []InterfaceAddress{
				{Network: "office", CIDR: "10.20.30.40/24", Gateway: "10.20.30.1", DNSServers: []string{"8.8.8.8"}, DefaultRoute: true},
				{Network: "servers", CIDR: "192.168.1.50/24", Gateway: "192.168.1.1", DNSServers: []string{"192.168.1.1"}, DefaultRoute: false},
			},
			checkContent: func(t *testing.T, content string) {
				var netConfig NetworkConfig
				if err := yaml.Unmarshal([]byte(content), &netConfig); err != nil {
					t.Fatalf("Failed to parse network-config YAML: %v", err)
				}

				if len(netConfig.Ethernets) != 2 {
					t.Errorf("Expected 2 interfaces, got %d", len(netConfig.Ethernets))
				}

				eth0, ok := netConfig.Ethernets["eth0"]
				if !ok {
					t.Fatal("Expected eth0 interface")
				}
				if len(eth0.Routes) != 1 {
					t.Error("Expected eth0 to have default route")
				}

				eth1, ok := netConfig.Ethernets["eth1"]
				if !ok {
					t.Fatal("Expected eth1 interface")
				}
				if eth1.Match.MACAddress != "be:ef:c0:a8:01:32" {
					t.Errorf("Expected eth1 MAC 'be:ef:c0:a8:01:32', got %q", eth1.Match.MACAddress)
				}
				if len(eth1.Routes) != 0 {
					t.Error("Expected eth1 to have no default route")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := GenerateNetworkConfig(tt.guest, tt.addresses)
			if tt.expectErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if tt.checkContent != nil {
				tt.checkContent(t, content)
			}
		})
	}
}

// TestGenerateAll tests generating all three cloud-init files for the same guest.
func TestGenerateAll(t *testing.T) {
	rangeID := "cr01-aaaa"
	guest := testGuest("integration-test")
	guest.Spec.VCPUs = 4
	guest.Spec.MemoryGiB = 8
	guest.Spec.Interfaces = []v1alpha1.GuestNetworkInterfaceSpec{{Network: "office", Interface: "eth0"}}
	guest.Spec.SSHAuthorizedKeys = []string{testSSHKeyEd25519}
	guest.Spec.Tasks = []v1alpha1.Task{
		{Kind: v1alpha1.TaskAddAccount, Account: "root", Password: "$6$rounds=4096$salt$hashedpassword"},
	}

	addresses := []InterfaceAddress{
		{Network: "office", CIDR: "10.55.22.22/24", Gateway: "10.55.22.1", DNSServers: []string{"8.8.8.8", "1.1.1.1"}, DefaultRoute: true},
	}

	userData, err := GenerateUserData(rangeID, guest)
	if err != nil {
		t.Fatalf("GenerateUserData failed: %v", err)
	}

	metaData, err := GenerateMetaData(rangeID, guest)
	if err != nil {
		t.Fatalf("GenerateMetaData failed: %v", err)
	}

	networkConfig, err := GenerateNetworkConfig(guest, addresses)
	if err != nil {
		t.Fatalf("GenerateNetworkConfig failed: %v", err)
	}

	if len(userData) == 0 {
		t.Error("user-data is empty")
	}
	if len(metaData) == 0 {
		t.Error("meta-data is empty")
	}
	if len(networkConfig) == 0 {
		t.Error("network-config is empty")
	}

	if !strings.HasPrefix(userData, "#cloud-config\n") {
		t.Error("user-data missing #cloud-config header")
	}

	var parsedUserData UserData
	if err := yaml.Unmarshal([]byte(strings.TrimPrefix(userData, "#cloud-config\n")), &parsedUserData); err != nil {
		t.Fatalf("Failed to parse user-data: %v", err)
	}

	var parsedMetaData MetaData
	if err := yaml.Unmarshal([]byte(metaData), &parsedMetaData); err != nil {
		t.Fatalf("Failed to parse meta-data: %v", err)
	}

	var parsedNetworkConfig NetworkConfig
	if err := yaml.Unmarshal([]byte(networkConfig), &parsedNetworkConfig); err != nil {
		t.Fatalf("Failed to parse network-config: %v", err)
	}

	if parsedUserData.Hostname != "integration-test" {
		t.Errorf("user-data hostname mismatch: got %q", parsedUserData.Hostname)
	}
	if parsedMetaData.LocalHostname != "integration-test" {
		t.Errorf("meta-data local-hostname mismatch: got %q", parsedMetaData.LocalHostname)
	}

	eth0 := parsedNetworkConfig.Ethernets["eth0"]
	if eth0.Match.MACAddress != "be:ef:0a:37:16:16" {
		t.Errorf("network-config MAC mismatch: got %q", eth0.Match.MACAddress)
	}
}
