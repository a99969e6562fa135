package rangeconfig

import (
	"testing"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

const validYAML = `
host_settings:
  - host_id: host_1
    mgmt_addr: 192.168.1.1
    virbr_addr: 192.168.122.1
    account: cyuser

guest_settings:
  - guest_id: desktop
    basevm_type: kvm-auto
    basevm_os_type: ubuntu_20
    image_name: ubuntu-20.04
    vcpus: 2
    memory: 2
    disk_size: 10
    root_passwd: s3cret
    tasks:
      - type: add_account
        account: trainee
        passwd: trainee123
      - type: install_package
        package: nmap

clone_settings:
  - range_id: "123"
    hosts:
      - host_id: host_1
        instance_number: 1
        guests:
          - guest_id: desktop
            entry_point: true
        topology:
          - type: custom
            networks:
              - name: office
                members:
                  - desktop.eth0
            forwarding_rules:
              - rule: "src=office dst=servers dport=22 proto=tcp"
`

func TestLoadFromYAML_Valid(t *testing.T) {
	r, err := LoadFromYAML([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromYAML() error = %v", err)
	}

	if r.RangeID != "123" {
		t.Errorf("RangeID = %q, want 123", r.RangeID)
	}
	if len(r.Spec.Hosts) != 1 || r.Spec.Hosts[0].HostID != "host_1" {
		t.Fatalf("unexpected Hosts: %+v", r.Spec.Hosts)
	}
	if len(r.Spec.Guests) != 1 {
		t.Fatalf("expected 1 guest, got %d", len(r.Spec.Guests))
	}

	guest := r.Spec.Guests[0]
	if guest.Spec.Kind != v1alpha1.GuestKindKVMAuto {
		t.Errorf("guest kind = %q, want kvm-auto", guest.Spec.Kind)
	}
	if guest.Spec.OSFamily != "linux" {
		t.Errorf("OSFamily = %q, want linux", guest.Spec.OSFamily)
	}
	if len(guest.Spec.Tasks) != 3 {
		t.Fatalf("expected 3 tasks (root_passwd + 2 declared), got %d", len(guest.Spec.Tasks))
	}
	if guest.Spec.Tasks[0].Kind != v1alpha1.TaskAddAccount || guest.Spec.Tasks[0].Account != "root" {
		t.Errorf("expected synthesized root add_account task first, got %+v", guest.Spec.Tasks[0])
	}
	if len(guest.Spec.Interfaces) != 1 || guest.Spec.Interfaces[0].Network != "office" {
		t.Errorf("expected guest joined to office network, got %+v", guest.Spec.Interfaces)
	}

	if len(r.Spec.Placements) != 1 {
		t.Fatalf("expected 1 placement, got %d", len(r.Spec.Placements))
	}
	placement := r.Spec.Placements[0]
	if placement.Topology == nil || len(placement.Topology.ForwardingRules) != 1 {
		t.Fatalf("expected 1 forwarding rule, got %+v", placement.Topology)
	}
}

func TestLoadFromYAML_DuplicateGuestID(t *testing.T) {
	yaml := `
guest_settings:
  - guest_id: a
    basevm_type: kvm
    basevm_config_file: a.xml
  - guest_id: a
    basevm_type: kvm
    basevm_config_file: b.xml
`
	_, err := LoadFromYAML([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate guest_id")
	}
}

func TestLoadFromYAML_KVMAutoMissingFields(t *testing.T) {
	yaml := `
guest_settings:
  - guest_id: a
    basevm_type: kvm-auto
`
	_, err := LoadFromYAML([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for kvm-auto missing required fields")
	}
}

func TestLoadFromYAML_KVMRequiresConfigFile(t *testing.T) {
	yaml := `
guest_settings:
  - guest_id: a
    basevm_type: kvm
`
	_, err := LoadFromYAML([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for kvm guest missing basevm_config_file")
	}
}

func TestLoadFromYAML_UnknownHostReference(t *testing.T) {
	yaml := `
host_settings:
  - host_id: host_1

guest_settings:
  - guest_id: a
    basevm_type: kvm
    basevm_config_file: a.xml

clone_settings:
  - hosts:
      - host_id: host_missing
        guests:
          - guest_id: a
`
	_, err := LoadFromYAML([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for unknown host_id reference")
	}
}

func TestLoadFromYAML_MalformedMember(t *testing.T) {
	yaml := `
guest_settings:
  - guest_id: a
    basevm_type: kvm
    basevm_config_file: a.xml

clone_settings:
  - hosts:
      - host_id: host_1
        topology:
          - type: custom
            networks:
              - name: office
                members:
                  - not-a-valid-member
`
	_, err := LoadFromYAML([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for malformed network member")
	}
}

func TestLoadFromYAML_UnrecognizedBasevmType(t *testing.T) {
	yaml := `
guest_settings:
  - guest_id: a
    basevm_type: bogus
`
	_, err := LoadFromYAML([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for unrecognized basevm_type")
	}
}
