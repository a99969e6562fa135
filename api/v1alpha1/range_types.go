package v1alpha1

// RangePhase is the lifecycle phase of a Range.
//
// +kubebuilder:validation:Enum=creating;active;error;destroying;destroyed
type RangePhase string

const (
	RangePhaseCreating   RangePhase = "creating"
	RangePhaseActive     RangePhase = "active"
	RangePhaseError      RangePhase = "error"
	RangePhaseDestroying RangePhase = "destroying"
	RangePhaseDestroyed  RangePhase = "destroyed"
)

// HostSpec is a physical or logical deployment target for a Range's guests.
//
// +k8s:deepcopy-gen=true
type HostSpec struct {
	// HostID identifies the host within the description.
	HostID string `json:"hostID" yaml:"hostID"`
	// ManagementAddress is the address used to reach the host's hypervisor.
	ManagementAddress string `json:"managementAddress,omitempty" yaml:"managementAddress,omitempty"`
	// BridgeAddress is the host's address on the virtual bridge.
	BridgeAddress string `json:"bridgeAddress,omitempty" yaml:"bridgeAddress,omitempty"`
	// Account is used for remote commands against this host.
	Account string `json:"account,omitempty" yaml:"account,omitempty"`
	// InstanceNumber is the number of range instances to deploy on this host.
	// +optional
	// +kubebuilder:default=1
	InstanceNumber int `json:"instanceNumber,omitempty" yaml:"instanceNumber,omitempty"`
}

// DeepCopy creates a deep copy of HostSpec.
func (in *HostSpec) DeepCopy() *HostSpec {
	if in == nil {
		return nil
	}
	out := new(HostSpec)
	*out = *in
	return out
}

// NetworkSpec is the declared form of a per-range logical network, as it
// appears in the topology block of the description file.
//
// +k8s:deepcopy-gen=true
type NetworkSpec struct {
	// Name is the logical network name (e.g. "office", "servers", "dmz").
	Name string `json:"name" yaml:"name"`
	// Members lists "guest_id.iface" pairs that join this network.
	// +optional
	Members []string `json:"members,omitempty" yaml:"members,omitempty"`
	// Gateway overrides the computed gateway (first host address) if set.
	// +optional
	Gateway string `json:"gateway,omitempty" yaml:"gateway,omitempty"`
}

// DeepCopy creates a deep copy of NetworkSpec.
func (in *NetworkSpec) DeepCopy() *NetworkSpec {
	if in == nil {
		return nil
	}
	out := new(NetworkSpec)
	*out = *in
	if in.Members != nil {
		out.Members = make([]string, len(in.Members))
		copy(out.Members, in.Members)
	}
	return out
}

// NetworkRuleSpec is the declared ("rule: ...") form of one forwarding rule
// line before it is parsed into a NetworkRule by internal/l3policy.
//
// +k8s:deepcopy-gen=true
type NetworkRuleSpec struct {
	// Rule is the raw "key=value key=value ..." grammar string; see
	// internal/l3policy for the grammar.
	Rule string `json:"rule" yaml:"rule"`
}

// DeepCopy creates a deep copy of NetworkRuleSpec.
func (in *NetworkRuleSpec) DeepCopy() *NetworkRuleSpec {
	if in == nil {
		return nil
	}
	out := new(NetworkRuleSpec)
	*out = *in
	return out
}

// TopologySpec is the "topology" block of a host's placement: exactly one
// custom-type entry containing networks and forwarding rules.
//
// +k8s:deepcopy-gen=true
type TopologySpec struct {
	// Type is always "custom" in this implementation; reserved for future
	// topology generators (e.g. "auto").
	// +kubebuilder:default=custom
	Type string `json:"type" yaml:"type"`
	// Networks declares the per-range logical networks.
	Networks []NetworkSpec `json:"networks,omitempty" yaml:"networks,omitempty"`
	// ForwardingRules declares the layer-3 policy rules.
	ForwardingRules []NetworkRuleSpec `json:"forwardingRules,omitempty" yaml:"forwardingRules,omitempty"`
}

// DeepCopy creates a deep copy of TopologySpec.
func (in *TopologySpec) DeepCopy() *TopologySpec {
	if in == nil {
		return nil
	}
	out := new(TopologySpec)
	*out = *in
	if in.Networks != nil {
		out.Networks = make([]NetworkSpec, len(in.Networks))
		for i := range in.Networks {
			out.Networks[i] = *in.Networks[i].DeepCopy()
		}
	}
	if in.ForwardingRules != nil {
		out.ForwardingRules = make([]NetworkRuleSpec, len(in.ForwardingRules))
		for i := range in.ForwardingRules {
			out.ForwardingRules[i] = *in.ForwardingRules[i].DeepCopy()
		}
	}
	return out
}

// GuestPlacement places one Guest on a Host within a topology block.
//
// +k8s:deepcopy-gen=true
type GuestPlacement struct {
	GuestID    string `json:"guestID" yaml:"guestID"`
	EntryPoint bool   `json:"entryPoint,omitempty" yaml:"entryPoint,omitempty"`
}

// DeepCopy creates a deep copy of GuestPlacement.
func (in *GuestPlacement) DeepCopy() *GuestPlacement {
	if in == nil {
		return nil
	}
	out := new(GuestPlacement)
	*out = *in
	return out
}

// HostPlacement is one "hosts[]" entry of a clone_settings block: a host,
// the guests placed on it, and its topology.
//
// +k8s:deepcopy-gen=true
type HostPlacement struct {
	HostID         string           `json:"hostID" yaml:"hostID"`
	InstanceNumber int              `json:"instanceNumber,omitempty" yaml:"instanceNumber,omitempty"`
	Guests         []GuestPlacement `json:"guests,omitempty" yaml:"guests,omitempty"`
	Topology       *TopologySpec    `json:"topology,omitempty" yaml:"topology,omitempty"`
}

// DeepCopy creates a deep copy of HostPlacement.
func (in *HostPlacement) DeepCopy() *HostPlacement {
	if in == nil {
		return nil
	}
	out := new(HostPlacement)
	out.HostID = in.HostID
	out.InstanceNumber = in.InstanceNumber
	if in.Guests != nil {
		out.Guests = make([]GuestPlacement, len(in.Guests))
		for i := range in.Guests {
			out.Guests[i] = *in.Guests[i].DeepCopy()
		}
	}
	if in.Topology != nil {
		out.Topology = in.Topology.DeepCopy()
	}
	return out
}

// RangeSpec is the desired state of a Range, assembled from the description
// file's host_settings/guest_settings/clone_settings top-level keys.
//
// +k8s:deepcopy-gen=true
type RangeSpec struct {
	// Name is a human-friendly range name.
	// +optional
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Description is free-text documentation for the range.
	// +optional
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Owner identifies who requested the range.
	// +optional
	Owner string `json:"owner,omitempty" yaml:"owner,omitempty"`
	// Tags are arbitrary operator-supplied key/value labels.
	// +optional
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// ProviderConfig is an opaque map carrying the hypervisor URI and other
	// provider-specific settings.
	// +optional
	ProviderConfig map[string]string `json:"providerConfig,omitempty" yaml:"providerConfig,omitempty"`

	// Hosts lists the deployment targets ("host_settings").
	Hosts []HostSpec `json:"hosts,omitempty" yaml:"hosts,omitempty"`

	// Guests lists every guest's spec, keyed by GuestID ("guest_settings").
	Guests []Guest `json:"guests,omitempty" yaml:"guests,omitempty"`

	// Placements is the "clone_settings" list of host placements, each
	// carrying its own topology block.
	Placements []HostPlacement `json:"placements,omitempty" yaml:"placements,omitempty"`
}

// DeepCopy creates a deep copy of RangeSpec.
func (in *RangeSpec) DeepCopy() *RangeSpec {
	if in == nil {
		return nil
	}
	out := new(RangeSpec)
	*out = *in

	if in.Tags != nil {
		out.Tags = make(map[string]string, len(in.Tags))
		for k, v := range in.Tags {
			out.Tags[k] = v
		}
	}
	if in.ProviderConfig != nil {
		out.ProviderConfig = make(map[string]string, len(in.ProviderConfig))
		for k, v := range in.ProviderConfig {
			out.ProviderConfig[k] = v
		}
	}
	if in.Hosts != nil {
		out.Hosts = make([]HostSpec, len(in.Hosts))
		for i := range in.Hosts {
			out.Hosts[i] = *in.Hosts[i].DeepCopy()
		}
	}
	if in.Guests != nil {
		out.Guests = make([]Guest, len(in.Guests))
		for i := range in.Guests {
			out.Guests[i] = *in.Guests[i].DeepCopy()
		}
	}
	if in.Placements != nil {
		out.Placements = make([]HostPlacement, len(in.Placements))
		for i := range in.Placements {
			out.Placements[i] = *in.Placements[i].DeepCopy()
		}
	}

	return out
}

// RealizedNetwork is the observed state of one topology network after the
// Topology Manager has assigned a CIDR and created the hypervisor network.
//
// +k8s:deepcopy-gen=true
type RealizedNetwork struct {
	Name    string   `json:"name" yaml:"name"`
	CIDR    string   `json:"cidr" yaml:"cidr"`
	Gateway string   `json:"gateway" yaml:"gateway"`
	Bridge  string   `json:"bridge" yaml:"bridge"`
	Members []string `json:"members,omitempty" yaml:"members,omitempty"`
}

// DeepCopy creates a deep copy of RealizedNetwork.
func (in *RealizedNetwork) DeepCopy() *RealizedNetwork {
	if in == nil {
		return nil
	}
	out := new(RealizedNetwork)
	*out = *in
	if in.Members != nil {
		out.Members = make([]string, len(in.Members))
		copy(out.Members, in.Members)
	}
	return out
}

// RangeStatus is the observed state of a Range.
//
// +k8s:deepcopy-gen=true
type RangeStatus struct {
	// Phase is the range's current lifecycle phase.
	// +optional
	Phase RangePhase `json:"phase,omitempty" yaml:"phase,omitempty"`

	// Conditions represent the latest observations of the range's state.
	// +optional
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// HostIDs are the hosts this range was deployed to.
	// +optional
	HostIDs []string `json:"hostIDs,omitempty" yaml:"hostIDs,omitempty"`

	// DomainIDs are the libvirt domain names created for this range's
	// guests.
	// +optional
	DomainIDs []string `json:"domainIDs,omitempty" yaml:"domainIDs,omitempty"`

	// PolicyID is the layer-3 policy identifier, "layer3-<range_id>".
	// +optional
	PolicyID string `json:"policyID,omitempty" yaml:"policyID,omitempty"`

	// Networks are the realized per-range networks.
	// +optional
	Networks []RealizedNetwork `json:"networks,omitempty" yaml:"networks,omitempty"`

	// VMIPs maps guest_id to its assigned primary address.
	// +optional
	VMIPs map[string]string `json:"vmIPs,omitempty" yaml:"vmIPs,omitempty"`

	// Verdict is the human-facing creation/operation verdict: "SUCCESS",
	// "SUCCESS_WITH_WARNINGS", or "FAILURE".
	// +optional
	Verdict string `json:"verdict,omitempty" yaml:"verdict,omitempty"`

	// Warnings lists non-fatal task/operation failures when Verdict is
	// SUCCESS_WITH_WARNINGS.
	// +optional
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// ObservedGeneration reflects the generation most recently reconciled.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty" yaml:"observedGeneration,omitempty"`
}

// DeepCopy creates a deep copy of RangeStatus.
func (in *RangeStatus) DeepCopy() *RangeStatus {
	if in == nil {
		return nil
	}
	out := new(RangeStatus)
	*out = *in

	if in.Conditions != nil {
		out.Conditions = make([]Condition, len(in.Conditions))
		for i := range in.Conditions {
			out.Conditions[i] = *in.Conditions[i].DeepCopy()
		}
	}
	if in.HostIDs != nil {
		out.HostIDs = make([]string, len(in.HostIDs))
		copy(out.HostIDs, in.HostIDs)
	}
	if in.DomainIDs != nil {
		out.DomainIDs = make([]string, len(in.DomainIDs))
		copy(out.DomainIDs, in.DomainIDs)
	}
	if in.Networks != nil {
		out.Networks = make([]RealizedNetwork, len(in.Networks))
		for i := range in.Networks {
			out.Networks[i] = *in.Networks[i].DeepCopy()
		}
	}
	if in.VMIPs != nil {
		out.VMIPs = make(map[string]string, len(in.VMIPs))
		for k, v := range in.VMIPs {
			out.VMIPs[k] = v
		}
	}
	if in.Warnings != nil {
		out.Warnings = make([]string, len(in.Warnings))
		copy(out.Warnings, in.Warnings)
	}

	return out
}

// Standard condition types for Range resources.
const (
	ConditionReady              = "Ready"
	ConditionTopologyInstalled  = "TopologyInstalled"
	ConditionGuestsProvisioned  = "GuestsProvisioned"
	ConditionTasksCompleted     = "TasksCompleted"
	ConditionPolicyApplied      = "PolicyApplied"
	ConditionStorageProvisioned = "StorageProvisioned"
)

// Range is an isolated multi-VM training environment with a lifecycle
// managed as a unit.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=range;ranges
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
type Range struct {
	TypeMeta `json:",inline" yaml:",inline"`
	// +optional
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// RangeID is the stable identifier for this range; explicit or
	// auto-assigned integer-serialized-as-string.
	RangeID string `json:"rangeID" yaml:"rangeID"`

	Spec RangeSpec `json:"spec" yaml:"spec"`
	// +optional
	Status RangeStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// DeepCopy creates a deep copy of Range.
func (in *Range) DeepCopy() *Range {
	if in == nil {
		return nil
	}
	out := new(Range)
	out.TypeMeta = *in.TypeMeta.DeepCopy()
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	out.RangeID = in.RangeID
	out.Spec = *in.Spec.DeepCopy()
	out.Status = *in.Status.DeepCopy()
	return out
}
