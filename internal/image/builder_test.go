package image

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
	"github.com/cyrange-project/cyrange/internal/cmdexec"
)

// withCustomizeTool swaps the virt-customize binary for the duration of one
// test. "true" and "false" stand in for a succeeding/failing toolchain.
func withCustomizeTool(t *testing.T, tool string) {
	t.Helper()
	old := customizeTool
	customizeTool = tool
	t.Cleanup(func() { customizeTool = old })
}

func autoGuest() *v1alpha1.Guest {
	g := v1alpha1.NewGuest("desktop", v1alpha1.GuestKindKVMAuto)
	g.Spec.ImageName = "ubuntu-22.04"
	g.Spec.VCPUs = 2
	g.Spec.MemoryGiB = 4
	g.Spec.DiskSizeGB = 20
	return g
}

func TestBuild_RejectsNonAutoGuest(t *testing.T) {
	b := NewBuilder(nil, cmdexec.NewRunner(), 0)

	g := v1alpha1.NewGuest("desktop", v1alpha1.GuestKindKVM)
	result := b.Build(context.Background(), "9", g)

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "not kvm-auto")
}

func TestBuild_RequiresImageNameAndDiskSize(t *testing.T) {
	b := NewBuilder(nil, cmdexec.NewRunner(), 0)

	g := autoGuest()
	g.Spec.ImageName = ""
	result := b.Build(context.Background(), "9", g)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "requires imageName")

	g = autoGuest()
	g.Spec.DiskSizeGB = 0
	result = b.Build(context.Background(), "9", g)
	assert.False(t, result.Success)
}

func TestNeedsCustomize(t *testing.T) {
	assert.False(t, needsCustomize(nil))
	assert.False(t, needsCustomize([]v1alpha1.Task{
		{Kind: v1alpha1.TaskInstallPackage, Package: "nginx"},
	}))
	assert.True(t, needsCustomize([]v1alpha1.Task{
		{Kind: v1alpha1.TaskAddAccount, Account: "trainee", Password: "secret"},
	}))
	assert.True(t, needsCustomize([]v1alpha1.Task{
		{Kind: v1alpha1.TaskModifyAccount, Account: "root", Password: "secret"},
	}))
}

func TestApplyBuildTimeTasks_RunsAccountTasks(t *testing.T) {
	withCustomizeTool(t, "true")
	b := NewBuilder(nil, cmdexec.NewRunner(), 0)

	err := b.applyBuildTimeTasks(context.Background(), "/tmp/disk.qcow2", []v1alpha1.Task{
		{Kind: v1alpha1.TaskAddAccount, Account: "trainee", Password: "secret"},
		{Kind: v1alpha1.TaskModifyAccount, Account: "root", Password: "changed"},
	})
	assert.NoError(t, err)
}

func TestApplyBuildTimeTasks_SurfacesToolFailure(t *testing.T) {
	withCustomizeTool(t, "false")
	b := NewBuilder(nil, cmdexec.NewRunner(), 0)

	err := b.applyBuildTimeTasks(context.Background(), "/tmp/disk.qcow2", []v1alpha1.Task{
		{Kind: v1alpha1.TaskAddAccount, Account: "trainee", Password: "secret"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trainee")
}

func TestApplyBuildTimeTasks_IgnoresPostBootTasks(t *testing.T) {
	// Post-boot task kinds are not build-time work; they must not invoke
	// the customize tool at all, even when it would fail.
	withCustomizeTool(t, "false")
	b := NewBuilder(nil, cmdexec.NewRunner(), 0)

	err := b.applyBuildTimeTasks(context.Background(), "/tmp/disk.qcow2", []v1alpha1.Task{
		{Kind: v1alpha1.TaskInstallPackage, Package: "nginx"},
		{Kind: v1alpha1.TaskExecuteProgram, Program: "/opt/setup.sh"},
	})
	assert.NoError(t, err)
}
