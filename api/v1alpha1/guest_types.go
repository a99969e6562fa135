package v1alpha1

// GuestKind is the base-VM type of a Guest. A closed tagged variant:
// unrecognized values are a validation error at parse time, not a silent
// fallback.
//
// +kubebuilder:validation:Enum=kvm;kvm-auto;aws;docker
type GuestKind string

const (
	// GuestKindKVM is a pre-existing libvirt domain config supplied by the
	// caller (base-VM config path).
	GuestKindKVM GuestKind = "kvm"

	// GuestKindKVMAuto is built from a named base image by the Image Builder
	// (auto-build path). Requires ImageName, VCPUs, MemoryGiB, DiskSizeGB.
	GuestKindKVMAuto GuestKind = "kvm-auto"

	// GuestKindAWS is a cloud-provider guest. Accepted by the parser but has
	// no working provider in this repo; rejected with a PreconditionError at
	// orchestration time.
	GuestKindAWS GuestKind = "aws"

	// GuestKindDocker is a container guest. Same treatment as GuestKindAWS.
	GuestKindDocker GuestKind = "docker"
)

// TaskKind is a closed tagged variant of the provisioning task kinds a Guest
// may declare. Unknown kinds are a validation error, except build-time
// add_account/modify_account entries (see Config.AllowUnknownBuildTasks).
//
// +kubebuilder:validation:Enum=add_account;modify_account;install_package;copy_content;execute_program;emulate_attack;emulate_malware;firewall_rules
type TaskKind string

const (
	TaskAddAccount     TaskKind = "add_account"
	TaskModifyAccount  TaskKind = "modify_account"
	TaskInstallPackage TaskKind = "install_package"
	TaskCopyContent    TaskKind = "copy_content"
	TaskExecuteProgram TaskKind = "execute_program"
	TaskEmulateAttack  TaskKind = "emulate_attack"
	TaskEmulateMalware TaskKind = "emulate_malware"
	TaskFirewallRules  TaskKind = "firewall_rules"
)

// Task is one provisioning task entry on a Guest. Only the fields relevant
// to Kind are expected to be populated; unused fields are left zero.
//
// +k8s:deepcopy-gen=true
type Task struct {
	Kind TaskKind `json:"kind" yaml:"kind"`

	// Account is the account name for add_account/modify_account.
	// +optional
	Account string `json:"account,omitempty" yaml:"account,omitempty"`
	// Password is the account password for add_account/modify_account.
	// +optional
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// PackageManager is the package manager invocation for install_package
	// (e.g. "apt-get", "yum"). Defaults to the guest OS family's manager.
	// +optional
	PackageManager string `json:"packageManager,omitempty" yaml:"packageManager,omitempty"`
	// Package is the package name for install_package.
	// +optional
	Package string `json:"package,omitempty" yaml:"package,omitempty"`
	// Version pins the package version for install_package.
	// +optional
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Source is the local path for copy_content.
	// +optional
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	// Destination is the remote path for copy_content.
	// +optional
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Program is the script/executable path for execute_program, or the
	// helper script name for emulate_attack/emulate_malware.
	// +optional
	Program string `json:"program,omitempty" yaml:"program,omitempty"`
	// Args are positional parameters passed to Program.
	// +optional
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// RulesFile is the local path to a guest-local firewall rules file for
	// firewall_rules tasks.
	// +optional
	RulesFile string `json:"rulesFile,omitempty" yaml:"rulesFile,omitempty"`
}

// DeepCopy creates a deep copy of Task.
func (in *Task) DeepCopy() *Task {
	if in == nil {
		return nil
	}
	out := new(Task)
	*out = *in
	if in.Args != nil {
		out.Args = make([]string, len(in.Args))
		copy(out.Args, in.Args)
	}
	return out
}

// GuestNetworkInterfaceSpec binds a Guest interface to a range Network by
// name; the actual IP is assigned by the Topology Manager unless StaticIP is
// set on the Guest itself.
//
// +k8s:deepcopy-gen=true
type GuestNetworkInterfaceSpec struct {
	// Network is the logical network name (e.g. "office", "servers").
	Network string `json:"network" yaml:"network"`
	// Interface is the guest-local interface identifier, e.g. "eth0".
	Interface string `json:"interface" yaml:"interface"`
	// EntryPoint marks this guest as an ingress point for the range.
	// +optional
	EntryPoint bool `json:"entryPoint,omitempty" yaml:"entryPoint,omitempty"`
}

// DeepCopy creates a deep copy of GuestNetworkInterfaceSpec.
func (in *GuestNetworkInterfaceSpec) DeepCopy() *GuestNetworkInterfaceSpec {
	if in == nil {
		return nil
	}
	out := new(GuestNetworkInterfaceSpec)
	*out = *in
	return out
}

// GuestSpec defines the desired state of a Guest VM within a Range.
//
// +k8s:deepcopy-gen=true
type GuestSpec struct {
	// Kind is the base-VM type. See GuestKind.
	Kind GuestKind `json:"kind" yaml:"kind"`

	// OSFamily is the guest operating system family (e.g. "linux",
	// "windows"); controls which account/package task dialect is used.
	// +optional
	// +kubebuilder:default=linux
	OSFamily string `json:"osFamily,omitempty" yaml:"osFamily,omitempty"`

	// StaticIP, if set, pins the guest's primary address instead of letting
	// the Topology Manager derive one.
	// +optional
	StaticIP string `json:"staticIP,omitempty" yaml:"staticIP,omitempty"`

	// BaseVMConfigPath is the path to a pre-existing libvirt domain XML
	// config, used when Kind is GuestKindKVM.
	// +optional
	BaseVMConfigPath string `json:"baseVMConfigPath,omitempty" yaml:"baseVMConfigPath,omitempty"`

	// ImageName is the named base image for the auto-build path. Required
	// when Kind is GuestKindKVMAuto.
	// +optional
	ImageName string `json:"imageName,omitempty" yaml:"imageName,omitempty"`
	// VCPUs is the vCPU count for the auto-build path.
	// +optional
	VCPUs int `json:"vcpus,omitempty" yaml:"vcpus,omitempty"`
	// MemoryGiB is the memory size in GiB for the auto-build path.
	// +optional
	MemoryGiB int `json:"memoryGiB,omitempty" yaml:"memoryGiB,omitempty"`
	// DiskSizeGB is the boot disk size in GB for the auto-build path.
	// +optional
	DiskSizeGB int `json:"diskSizeGB,omitempty" yaml:"diskSizeGB,omitempty"`

	// Interfaces lists the range networks this guest joins.
	// +optional
	Interfaces []GuestNetworkInterfaceSpec `json:"interfaces,omitempty" yaml:"interfaces,omitempty"`

	// Tasks is the ordered list of provisioning tasks for this guest.
	// +optional
	Tasks []Task `json:"tasks,omitempty" yaml:"tasks,omitempty"`

	// SSHAuthorizedKeys seeds cloud-init / post-boot SSH access.
	// +optional
	SSHAuthorizedKeys []string `json:"sshAuthorizedKeys,omitempty" yaml:"sshAuthorizedKeys,omitempty"`

	// SSHUser is the account the Task Executor connects as for post-boot
	// tasks. Defaults to "root".
	// +optional
	// +kubebuilder:default=root
	SSHUser string `json:"sshUser,omitempty" yaml:"sshUser,omitempty"`
}

// DeepCopy creates a deep copy of GuestSpec.
func (in *GuestSpec) DeepCopy() *GuestSpec {
	if in == nil {
		return nil
	}
	out := new(GuestSpec)
	*out = *in

	if in.Interfaces != nil {
		out.Interfaces = make([]GuestNetworkInterfaceSpec, len(in.Interfaces))
		for i := range in.Interfaces {
			out.Interfaces[i] = *in.Interfaces[i].DeepCopy()
		}
	}
	if in.Tasks != nil {
		out.Tasks = make([]Task, len(in.Tasks))
		for i := range in.Tasks {
			out.Tasks[i] = *in.Tasks[i].DeepCopy()
		}
	}
	if in.SSHAuthorizedKeys != nil {
		out.SSHAuthorizedKeys = make([]string, len(in.SSHAuthorizedKeys))
		copy(out.SSHAuthorizedKeys, in.SSHAuthorizedKeys)
	}

	return out
}

// GuestPhase mirrors RangePhase but scoped to one guest's domain lifecycle.
type GuestPhase string

const (
	GuestPhasePending   GuestPhase = "Pending"
	GuestPhaseCreating  GuestPhase = "Creating"
	GuestPhaseRunning   GuestPhase = "Running"
	GuestPhaseStopping  GuestPhase = "Stopping"
	GuestPhaseStopped   GuestPhase = "Stopped"
	GuestPhaseFailed    GuestPhase = "Failed"
	GuestPhaseDestroyed GuestPhase = "Destroyed"
)

// GuestStatus defines the observed state of a Guest.
//
// +k8s:deepcopy-gen=true
type GuestStatus struct {
	// Phase is the guest's current lifecycle phase.
	// +optional
	Phase GuestPhase `json:"phase,omitempty" yaml:"phase,omitempty"`

	// Conditions represent the latest observations of the guest's state.
	// +optional
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// DomainUUID is the libvirt domain UUID, populated after definition.
	// +optional
	DomainUUID string `json:"domainUUID,omitempty" yaml:"domainUUID,omitempty"`

	// DomainName is the libvirt domain name, deterministically derived as
	// cyris-<range_id>-<guest_id>.
	// +optional
	DomainName string `json:"domainName,omitempty" yaml:"domainName,omitempty"`

	// Addresses are the discovered network addresses for this guest.
	// +optional
	Addresses []string `json:"addresses,omitempty" yaml:"addresses,omitempty"`

	// MACAddress is the deterministically derived MAC of the primary
	// interface.
	// +optional
	MACAddress string `json:"macAddress,omitempty" yaml:"macAddress,omitempty"`

	// DiscoveryMethod names the IP Discovery method that produced Addresses.
	// +optional
	DiscoveryMethod string `json:"discoveryMethod,omitempty" yaml:"discoveryMethod,omitempty"`

	// TaskResults records the outcome of each provisioning task, in order.
	// +optional
	TaskResults []TaskResult `json:"taskResults,omitempty" yaml:"taskResults,omitempty"`

	// ObservedGeneration reflects the generation most recently reconciled.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty" yaml:"observedGeneration,omitempty"`
}

// TaskResult is the recorded outcome of one Task execution.
//
// +k8s:deepcopy-gen=true
type TaskResult struct {
	Kind     TaskKind `json:"kind" yaml:"kind"`
	Success  bool     `json:"success" yaml:"success"`
	Message  string   `json:"message,omitempty" yaml:"message,omitempty"`
	Duration string   `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// DeepCopy creates a deep copy of TaskResult.
func (in *TaskResult) DeepCopy() *TaskResult {
	if in == nil {
		return nil
	}
	out := new(TaskResult)
	*out = *in
	return out
}

// DeepCopy creates a deep copy of GuestStatus.
func (in *GuestStatus) DeepCopy() *GuestStatus {
	if in == nil {
		return nil
	}
	out := new(GuestStatus)
	*out = *in

	if in.Conditions != nil {
		out.Conditions = make([]Condition, len(in.Conditions))
		for i := range in.Conditions {
			out.Conditions[i] = *in.Conditions[i].DeepCopy()
		}
	}
	if in.Addresses != nil {
		out.Addresses = make([]string, len(in.Addresses))
		copy(out.Addresses, in.Addresses)
	}
	if in.TaskResults != nil {
		out.TaskResults = make([]TaskResult, len(in.TaskResults))
		for i := range in.TaskResults {
			out.TaskResults[i] = *in.TaskResults[i].DeepCopy()
		}
	}

	return out
}

// Guest is one VM within a Range.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Kind",type=string,JSONPath=`.spec.kind`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
type Guest struct {
	TypeMeta `json:",inline" yaml:",inline"`
	// +optional
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// GuestID is the identifier unique within the owning Range.
	GuestID string `json:"guestID" yaml:"guestID"`

	Spec GuestSpec `json:"spec" yaml:"spec"`
	// +optional
	Status GuestStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// DeepCopy creates a deep copy of Guest.
func (in *Guest) DeepCopy() *Guest {
	if in == nil {
		return nil
	}
	out := new(Guest)
	out.TypeMeta = *in.TypeMeta.DeepCopy()
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	out.GuestID = in.GuestID
	out.Spec = *in.Spec.DeepCopy()
	out.Status = *in.Status.DeepCopy()
	return out
}
