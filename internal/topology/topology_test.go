package topology

import (
	"context"
	"testing"

	"github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

type mockHVClient struct {
	defined map[string]bool
	active  map[string]bool

	defineErr error
	createErr error
}

func newMockHVClient() *mockHVClient {
	return &mockHVClient{defined: map[string]bool{}, active: map[string]bool{}}
}

func (m *mockHVClient) NetworkDefineXML(xml string) (libvirt.Network, error) {
	if m.defineErr != nil {
		return libvirt.Network{}, m.defineErr
	}
	// The test never inspects the generated XML's content beyond ensuring
	// define succeeds, so any name is fine here.
	name := "test-net"
	m.defined[name] = true
	return libvirt.Network{Name: name}, nil
}

func (m *mockHVClient) NetworkLookupByName(name string) (libvirt.Network, error) {
	if !m.defined[name] {
		return libvirt.Network{}, assert.AnError
	}
	return libvirt.Network{Name: name}, nil
}

func (m *mockHVClient) NetworkCreate(net libvirt.Network) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.active[net.Name] = true
	return nil
}

func (m *mockHVClient) NetworkDestroy(net libvirt.Network) error {
	delete(m.active, net.Name)
	return nil
}

func (m *mockHVClient) NetworkUndefine(net libvirt.Network) error {
	delete(m.defined, net.Name)
	return nil
}

func (m *mockHVClient) NetworkIsActive(net libvirt.Network) (int32, error) {
	if m.active[net.Name] {
		return 1, nil
	}
	return 0, nil
}

func (m *mockHVClient) NetworkGetDhcpLeases(net libvirt.Network, mac libvirt.OptString, needResults int32, flags uint32) ([]libvirt.NetworkDhcpLease, uint32, error) {
	return nil, 0, nil
}

func (m *mockHVClient) ConnectListAllNetworks(needResults int32, flags libvirt.ConnectListAllNetworksFlags) ([]libvirt.Network, uint32, error) {
	var out []libvirt.Network
	for name := range m.defined {
		out = append(out, libvirt.Network{Name: name})
	}
	return out, uint32(len(out)), nil
}

func TestCreateTopology_DeterministicAssignment(t *testing.T) {
	spec := &v1alpha1.TopologySpec{
		Type: "custom",
		Networks: []v1alpha1.NetworkSpec{
			{Name: "office", Members: []string{"web.eth0"}},
		},
	}
	guests := []v1alpha1.Guest{
		{GuestID: "web"},
	}

	m1 := NewManager(newMockHVClient(), nil)
	a1, err := m1.CreateTopology(context.Background(), "42", spec, guests)
	require.NoError(t, err)

	m2 := NewManager(newMockHVClient(), nil)
	a2, err := m2.CreateTopology(context.Background(), "42", spec, guests)
	require.NoError(t, err)

	assert.Equal(t, a1.VMIPs["web"], a2.VMIPs["web"])
	assert.NotEmpty(t, a1.VMIPs["web"])

	require.Len(t, a1.Networks, 1)
	assert.Equal(t, "192.168.100.0/24", a1.Networks[0].CIDR)
	assert.Equal(t, "cyris-42-office", a1.Networks[0].Bridge)
}

func TestCreateTopology_StaticIPWins(t *testing.T) {
	spec := &v1alpha1.TopologySpec{
		Networks: []v1alpha1.NetworkSpec{{Name: "office", Members: []string{"web.eth0"}}},
	}
	guests := []v1alpha1.Guest{
		{GuestID: "web", Spec: v1alpha1.GuestSpec{StaticIP: "192.168.100.77"}},
	}

	m := NewManager(newMockHVClient(), nil)
	assignment, err := m.CreateTopology(context.Background(), "r1", spec, guests)
	require.NoError(t, err)
	assert.Equal(t, "192.168.100.77", assignment.VMIPs["web"])
}

func TestCreateTopology_ManagementFallback(t *testing.T) {
	spec := &v1alpha1.TopologySpec{
		Networks: []v1alpha1.NetworkSpec{{Name: "office"}},
	}
	guests := []v1alpha1.Guest{{GuestID: "isolated"}}

	m := NewManager(newMockHVClient(), nil)
	assignment, err := m.CreateTopology(context.Background(), "r1", spec, guests)
	require.NoError(t, err)
	assert.Contains(t, assignment.VMIPs["isolated"], "192.168.122.")
}

func TestCreateTopology_MalformedMember(t *testing.T) {
	spec := &v1alpha1.TopologySpec{
		Networks: []v1alpha1.NetworkSpec{{Name: "office", Members: []string{"not-a-valid-member"}}},
	}

	m := NewManager(newMockHVClient(), nil)
	_, err := m.CreateTopology(context.Background(), "r1", spec, nil)
	assert.Error(t, err)
}

func TestDestroyTopology_RemovesOnlyMatchingPrefix(t *testing.T) {
	client := newMockHVClient()
	client.defined["cyris-99-office"] = true
	client.active["cyris-99-office"] = true
	client.defined["cyris-100-servers"] = true

	m := NewManager(client, nil)
	err := m.DestroyTopology(context.Background(), "99")
	require.NoError(t, err)

	assert.False(t, client.defined["cyris-99-office"])
	assert.True(t, client.defined["cyris-100-servers"])
}
