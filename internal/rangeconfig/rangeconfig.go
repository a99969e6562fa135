// Package rangeconfig loads a cyber range description file (the
// host_settings/guest_settings/clone_settings YAML) into a *v1alpha1.Range.
// Loading applies defaults first, then validates required fields and
// cross-references.
//
// The wire format uses the description file's snake_case field names
// (host_id, guest_id, basevm_type, instance_number), which do not match
// the camelCase YAML tags on api/v1alpha1's Kubernetes-style types. This
// package is the explicit translation layer: it can never simply
// yaml.Unmarshal a description file straight into v1alpha1.RangeSpec.
package rangeconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

// wireDescription mirrors the top-level keys of a description file.
type wireDescription struct {
	HostSettings  []wireHost  `yaml:"host_settings"`
	GuestSettings []wireGuest `yaml:"guest_settings"`
	CloneSettings []wireClone `yaml:"clone_settings"`
}

type wireHost struct {
	HostID            string `yaml:"host_id"`
	ManagementAddress string `yaml:"mgmt_addr,omitempty"`
	BridgeAddress     string `yaml:"virbr_addr,omitempty"`
	Account           string `yaml:"account,omitempty"`
}

type wireGuest struct {
	GuestID           string     `yaml:"guest_id"`
	BasevmHost        string     `yaml:"basevm_host,omitempty"`
	BasevmConfigFile  string     `yaml:"basevm_config_file,omitempty"`
	BasevmOSType      string     `yaml:"basevm_os_type,omitempty"`
	BasevmType        string     `yaml:"basevm_type"`
	BasevmAddr        string     `yaml:"basevm_addr,omitempty"`
	RootPasswd        string     `yaml:"root_passwd,omitempty"`
	ImageName         string     `yaml:"image_name,omitempty"`
	VCPUs             int        `yaml:"vcpus,omitempty"`
	MemoryGiB         int        `yaml:"memory,omitempty"`
	DiskSizeGB        int        `yaml:"disk_size,omitempty"`
	SSHUser           string     `yaml:"ssh_user,omitempty"`
	SSHAuthorizedKeys []string   `yaml:"ssh_authorized_keys,omitempty"`
	Tasks             []wireTask `yaml:"tasks,omitempty"`
}

// wireTask is a flattened form of a description file task entry. A single
// "type" field selects which other fields apply; unused fields are zero.
type wireTask struct {
	Type           string   `yaml:"type"`
	Account        string   `yaml:"account,omitempty"`
	Passwd         string   `yaml:"passwd,omitempty"`
	PackageManager string   `yaml:"package_manager,omitempty"`
	Package        string   `yaml:"package,omitempty"`
	Version        string   `yaml:"version,omitempty"`
	Src            string   `yaml:"src,omitempty"`
	Dst            string   `yaml:"dst,omitempty"`
	Program        string   `yaml:"program,omitempty"`
	Args           []string `yaml:"args,omitempty"`
	RuleFile       string   `yaml:"rule_file,omitempty"`
}

type wireClone struct {
	RangeID string              `yaml:"range_id,omitempty"`
	Hosts   []wireHostPlacement `yaml:"hosts"`
}

type wireHostPlacement struct {
	HostID         string               `yaml:"host_id"`
	InstanceNumber int                  `yaml:"instance_number,omitempty"`
	Guests         []wireGuestPlacement `yaml:"guests,omitempty"`
	Topology       []wireTopologyEntry  `yaml:"topology,omitempty"`
}

type wireGuestPlacement struct {
	GuestID    string `yaml:"guest_id"`
	EntryPoint bool   `yaml:"entry_point,omitempty"`
}

type wireTopologyEntry struct {
	Type            string            `yaml:"type"`
	Networks        []wireNetwork     `yaml:"networks,omitempty"`
	ForwardingRules []wireForwardRule `yaml:"forwarding_rules,omitempty"`
}

type wireNetwork struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members,omitempty"`
	Gateway string   `yaml:"gateway,omitempty"`
}

type wireForwardRule struct {
	Rule string `yaml:"rule"`
}

// LoadFromFile reads and parses a description file at path.
func LoadFromFile(path string) (*v1alpha1.Range, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read description file %s: %w", path, err)
	}
	return LoadFromYAML(data)
}

// LoadFromYAML parses description YAML bytes into a *v1alpha1.Range.
// RangeID is left empty unless a clone_settings entry names one explicitly
// (the first entry that does wins); the orchestrator allocates it otherwise.
func LoadFromYAML(data []byte) (*v1alpha1.Range, error) {
	var wire wireDescription
	if err := yaml.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse description YAML: %w", err)
	}

	r := &v1alpha1.Range{}
	v1alpha1.SetDefaultAPIVersion(r)

	for _, wh := range wire.HostSettings {
		r.Spec.Hosts = append(r.Spec.Hosts, v1alpha1.HostSpec{
			HostID:            wh.HostID,
			ManagementAddress: wh.ManagementAddress,
			BridgeAddress:     wh.BridgeAddress,
			Account:           wh.Account,
		})
	}

	guestsByID := make(map[string]*v1alpha1.Guest, len(wire.GuestSettings))
	for _, wg := range wire.GuestSettings {
		guest, err := convertGuest(wg)
		if err != nil {
			return nil, err
		}
		r.Spec.Guests = append(r.Spec.Guests, *guest)
		guestsByID[guest.GuestID] = &r.Spec.Guests[len(r.Spec.Guests)-1]
	}

	for _, wc := range wire.CloneSettings {
		if wc.RangeID != "" && r.RangeID == "" {
			r.RangeID = wc.RangeID
		}
		for _, wh := range wc.Hosts {
			placement, err := convertPlacement(wh, guestsByID)
			if err != nil {
				return nil, err
			}
			r.Spec.Placements = append(r.Spec.Placements, *placement)
		}
	}

	applyDefaults(r)

	if err := validateRange(r); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return r, nil
}

func convertGuest(wg wireGuest) (*v1alpha1.Guest, error) {
	if wg.GuestID == "" {
		return nil, fmt.Errorf("guest_settings entry missing guest_id")
	}

	kind, err := guestKind(wg.BasevmType)
	if err != nil {
		return nil, fmt.Errorf("guest %q: %w", wg.GuestID, err)
	}

	guest := v1alpha1.NewGuest(wg.GuestID, kind)
	guest.Spec.OSFamily = osFamilyFromBasevmOSType(wg.BasevmOSType)
	guest.Spec.StaticIP = wg.BasevmAddr
	guest.Spec.BaseVMConfigPath = wg.BasevmConfigFile
	guest.Spec.ImageName = wg.ImageName
	guest.Spec.VCPUs = wg.VCPUs
	guest.Spec.MemoryGiB = wg.MemoryGiB
	guest.Spec.DiskSizeGB = wg.DiskSizeGB
	guest.Spec.SSHAuthorizedKeys = wg.SSHAuthorizedKeys
	if wg.SSHUser != "" {
		guest.Spec.SSHUser = wg.SSHUser
	}

	if wg.RootPasswd != "" {
		guest.Spec.Tasks = append(guest.Spec.Tasks, v1alpha1.Task{
			Kind:     v1alpha1.TaskAddAccount,
			Account:  "root",
			Password: wg.RootPasswd,
		})
	}

	for i, wt := range wg.Tasks {
		task, err := convertTask(wt)
		if err != nil {
			return nil, fmt.Errorf("guest %q: tasks[%d]: %w", wg.GuestID, i, err)
		}
		guest.Spec.Tasks = append(guest.Spec.Tasks, *task)
	}

	return guest, nil
}

func guestKind(basevmType string) (v1alpha1.GuestKind, error) {
	switch v1alpha1.GuestKind(basevmType) {
	case v1alpha1.GuestKindKVM, v1alpha1.GuestKindKVMAuto, v1alpha1.GuestKindAWS, v1alpha1.GuestKindDocker:
		return v1alpha1.GuestKind(basevmType), nil
	default:
		return "", fmt.Errorf("unrecognized basevm_type %q", basevmType)
	}
}

// osFamilyFromBasevmOSType maps the original enum (ubuntu, ubuntu_16,
// ubuntu_18, ubuntu_20, centos, red_hat, amazon_linux, amazon_linux2,
// windows.7, windows.8.1, windows.10) down to the two families
// internal/taskexec dispatches on.
func osFamilyFromBasevmOSType(osType string) string {
	if strings.HasPrefix(osType, "windows") {
		return "windows"
	}
	return "linux"
}

func convertTask(wt wireTask) (*v1alpha1.Task, error) {
	kind := v1alpha1.TaskKind(wt.Type)
	switch kind {
	case v1alpha1.TaskAddAccount, v1alpha1.TaskModifyAccount:
		return &v1alpha1.Task{Kind: kind, Account: wt.Account, Password: wt.Passwd}, nil
	case v1alpha1.TaskInstallPackage:
		return &v1alpha1.Task{Kind: kind, PackageManager: wt.PackageManager, Package: wt.Package, Version: wt.Version}, nil
	case v1alpha1.TaskCopyContent:
		return &v1alpha1.Task{Kind: kind, Source: wt.Src, Destination: wt.Dst}, nil
	case v1alpha1.TaskExecuteProgram, v1alpha1.TaskEmulateAttack, v1alpha1.TaskEmulateMalware:
		return &v1alpha1.Task{Kind: kind, Program: wt.Program, Args: wt.Args}, nil
	case v1alpha1.TaskFirewallRules:
		return &v1alpha1.Task{Kind: kind, RulesFile: wt.RuleFile}, nil
	default:
		return nil, fmt.Errorf("unrecognized task type %q", wt.Type)
	}
}

func convertPlacement(wh wireHostPlacement, guestsByID map[string]*v1alpha1.Guest) (*v1alpha1.HostPlacement, error) {
	placement := &v1alpha1.HostPlacement{
		HostID:         wh.HostID,
		InstanceNumber: wh.InstanceNumber,
	}

	for _, wg := range wh.Guests {
		placement.Guests = append(placement.Guests, v1alpha1.GuestPlacement{
			GuestID:    wg.GuestID,
			EntryPoint: wg.EntryPoint,
		})
	}

	if len(wh.Topology) > 1 {
		return nil, fmt.Errorf("host %q: topology must have exactly one entry, got %d", wh.HostID, len(wh.Topology))
	}
	if len(wh.Topology) == 1 {
		entry := wh.Topology[0]
		if entry.Type != "custom" {
			return nil, fmt.Errorf("host %q: unsupported topology type %q, only \"custom\" is implemented", wh.HostID, entry.Type)
		}

		topo := &v1alpha1.TopologySpec{Type: entry.Type}
		for _, wn := range entry.Networks {
			topo.Networks = append(topo.Networks, v1alpha1.NetworkSpec{
				Name:    wn.Name,
				Members: wn.Members,
				Gateway: wn.Gateway,
			})

			for _, member := range wn.Members {
				guestID, iface, ok := strings.Cut(member, ".")
				if !ok {
					return nil, fmt.Errorf("host %q: network %q: malformed member %q, expected guest_id.iface", wh.HostID, wn.Name, member)
				}
				guest, found := guestsByID[guestID]
				if !found {
					return nil, fmt.Errorf("host %q: network %q: member %q references unknown guest_id %q", wh.HostID, wn.Name, member, guestID)
				}
				guest.Spec.Interfaces = append(guest.Spec.Interfaces, v1alpha1.GuestNetworkInterfaceSpec{
					Network:   wn.Name,
					Interface: iface,
				})
			}
		}
		for _, wr := range entry.ForwardingRules {
			topo.ForwardingRules = append(topo.ForwardingRules, v1alpha1.NetworkRuleSpec{Rule: wr.Rule})
		}
		placement.Topology = topo
	}

	return placement, nil
}

// applyDefaults fills optional fields before validation runs.
func applyDefaults(r *v1alpha1.Range) {
	r.Normalize()
	for i := range r.Spec.Placements {
		if r.Spec.Placements[i].InstanceNumber == 0 {
			r.Spec.Placements[i].InstanceNumber = 1
		}
	}
}

// validateRange checks required fields and cross-reference coherence:
// guest base-VM field combinations, duplicate IDs, and host_id/guest_id
// references from clone_settings back to their declarations.
func validateRange(r *v1alpha1.Range) error {
	seenGuestIDs := make(map[string]bool, len(r.Spec.Guests))
	for _, g := range r.Spec.Guests {
		if seenGuestIDs[g.GuestID] {
			return fmt.Errorf("duplicate guest_id %q", g.GuestID)
		}
		seenGuestIDs[g.GuestID] = true

		if g.Spec.Kind == v1alpha1.GuestKindKVMAuto {
			if g.Spec.ImageName == "" || g.Spec.VCPUs <= 0 || g.Spec.MemoryGiB <= 0 || g.Spec.DiskSizeGB <= 0 {
				return fmt.Errorf("guest %q: kvm-auto requires image_name, vcpus, memory, and disk_size", g.GuestID)
			}
		}
		if g.Spec.Kind == v1alpha1.GuestKindKVM && g.Spec.BaseVMConfigPath == "" {
			return fmt.Errorf("guest %q: kvm requires basevm_config_file", g.GuestID)
		}
		if g.Spec.BaseVMConfigPath != "" && !strings.HasSuffix(g.Spec.BaseVMConfigPath, ".xml") && !strings.HasSuffix(g.Spec.BaseVMConfigPath, ".json") {
			return fmt.Errorf("guest %q: basevm_config_file must end in .xml or .json", g.GuestID)
		}
	}

	seenHostIDs := make(map[string]bool, len(r.Spec.Hosts))
	for _, h := range r.Spec.Hosts {
		if h.HostID == "" {
			return fmt.Errorf("host_settings entry missing host_id")
		}
		seenHostIDs[h.HostID] = true
	}

	for _, p := range r.Spec.Placements {
		if len(r.Spec.Hosts) > 0 && !seenHostIDs[p.HostID] {
			return fmt.Errorf("clone_settings references unknown host_id %q", p.HostID)
		}
		for _, gp := range p.Guests {
			if !seenGuestIDs[gp.GuestID] {
				return fmt.Errorf("host %q: placement references unknown guest_id %q", p.HostID, gp.GuestID)
			}
		}
	}

	return nil
}
