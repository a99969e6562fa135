package image

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
	"github.com/cyrange-project/cyrange/internal/cmdexec"
	"github.com/cyrange-project/cyrange/internal/naming"
	"github.com/cyrange-project/cyrange/internal/rangeerr"
	"github.com/cyrange-project/cyrange/internal/storage"
)

// customizeTool is the host binary the build-time add_account/modify_account
// step shells out to. Named as a var, not a const, so tests can point it at
// a stub.
var customizeTool = "virt-customize"

// buildSlots caps concurrent disk builds across every Builder in the
// process. Image building is I/O-heavy; letting a large range build all
// its disks at once saturates the host.
var buildSlots = make(chan struct{}, 2)

// BuildResult is the outcome of one disk build: the produced path on
// success, the failure message otherwise, and how long the build took.
type BuildResult struct {
	Path         string
	Success      bool
	ErrorMessage string
	BuildTime    time.Duration
}

// Builder drives the kvm-auto disk pipeline: clone a base image into a
// guest-specific boot volume, then apply any build-time tasks.
type Builder struct {
	storage          *storage.Manager
	runner           *cmdexec.Runner
	customizeTimeout time.Duration
}

// NewBuilder constructs a Builder. customizeTimeout bounds each
// virt-customize invocation; zero defaults to 5 minutes.
func NewBuilder(mgr *storage.Manager, runner *cmdexec.Runner, customizeTimeout time.Duration) *Builder {
	if customizeTimeout == 0 {
		customizeTimeout = 5 * time.Minute
	}
	return &Builder{storage: mgr, runner: runner, customizeTimeout: customizeTimeout}
}

// BuildDisk produces the boot volume for a kvm-auto guest and returns its
// filesystem path. Preconditions (missing base image, missing virt-customize
// when build-time tasks are declared) surface as *rangeerr.Error of kind
// Precondition before any volume is created.
func (b *Builder) BuildDisk(ctx context.Context, rangeID string, guest *v1alpha1.Guest) (string, error) {
	result := b.build(ctx, rangeID, guest)
	if !result.Success {
		return "", rangeerr.New(rangeerr.Precondition, result.ErrorMessage)
	}
	return result.Path, nil
}

// Build runs the full pipeline and always returns a BuildResult, even on
// failure: a
// failed build leaves the partial volume in place for the orchestrator's
// rollback to remove via CleanupBuildFiles.
func (b *Builder) Build(ctx context.Context, rangeID string, guest *v1alpha1.Guest) BuildResult {
	return b.build(ctx, rangeID, guest)
}

func (b *Builder) build(ctx context.Context, rangeID string, guest *v1alpha1.Guest) BuildResult {
	start := time.Now()

	select {
	case buildSlots <- struct{}{}:
		defer func() { <-buildSlots }()
	case <-ctx.Done():
		return BuildResult{Success: false, ErrorMessage: ctx.Err().Error(), BuildTime: time.Since(start)}
	}

	if guest.Spec.Kind != v1alpha1.GuestKindKVMAuto {
		return BuildResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("guest %q is not kvm-auto, nothing to build", guest.GuestID),
			BuildTime:    time.Since(start),
		}
	}
	if guest.Spec.ImageName == "" || guest.Spec.DiskSizeGB <= 0 {
		return BuildResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("guest %q: kvm-auto requires imageName and diskSizeGB", guest.GuestID),
			BuildTime:    time.Since(start),
		}
	}

	if err := b.storage.EnsureDefaultPools(ctx); err != nil {
		return BuildResult{Success: false, ErrorMessage: err.Error(), BuildTime: time.Since(start)}
	}

	imagePath, err := b.resolveBaseImage(ctx, guest.Spec.ImageName)
	if err != nil {
		return BuildResult{Success: false, ErrorMessage: err.Error(), BuildTime: time.Since(start)}
	}

	if needsCustomize(guest.Spec.Tasks) {
		if _, err := exec.LookPath(customizeTool); err != nil {
			return BuildResult{
				Success:      false,
				ErrorMessage: fmt.Sprintf("%s not found in PATH: %v", customizeTool, err),
				BuildTime:    time.Since(start),
			}
		}
	}

	domainName := guest.DomainName(rangeID)
	bootVolume := naming.VolumeNameBoot(domainName)

	spec := storage.VolumeSpec{
		Name:          bootVolume,
		Type:          storage.VolumeTypeBoot,
		Format:        storage.VolumeFormatQCOW2,
		CapacityGB:    uint64(guest.Spec.DiskSizeGB),
		BackingVolume: imagePath,
	}

	if err := b.storage.CreateVolume(ctx, storage.DefaultVMsPool, spec); err != nil {
		return BuildResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("failed to build boot disk for %s: %v", domainName, err),
			BuildTime:    time.Since(start),
		}
	}

	bootPath, err := b.storage.GetVolumePath(ctx, storage.DefaultVMsPool, bootVolume)
	if err != nil {
		return BuildResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("boot disk created but path lookup failed: %v", err),
			BuildTime:    time.Since(start),
		}
	}

	if err := b.applyBuildTimeTasks(ctx, bootPath, guest.Spec.Tasks); err != nil {
		return BuildResult{
			Success:      false,
			Path:         bootPath,
			ErrorMessage: err.Error(),
			BuildTime:    time.Since(start),
		}
	}

	return BuildResult{Path: bootPath, Success: true, BuildTime: time.Since(start)}
}

// resolveBaseImage finds the base image volume in the images pool, trying
// the name as given and then the qcow2/raw extensions ImportImage appends.
func (b *Builder) resolveBaseImage(ctx context.Context, imageName string) (string, error) {
	candidates := []string{imageName, imageName + ".qcow2", imageName + ".raw"}
	for _, candidate := range candidates {
		exists, err := b.storage.ImageExists(ctx, candidate)
		if err != nil {
			continue
		}
		if exists {
			return b.storage.GetImagePath(ctx, candidate)
		}
	}
	return "", fmt.Errorf("base image %q not found in %s pool", imageName, storage.DefaultImagesPool)
}

// needsCustomize reports whether any declared task requires shelling out to
// virt-customize at build time.
func needsCustomize(tasks []v1alpha1.Task) bool {
	for _, t := range tasks {
		if t.Kind == v1alpha1.TaskAddAccount || t.Kind == v1alpha1.TaskModifyAccount {
			return true
		}
	}
	return false
}

// applyBuildTimeTasks runs add_account/modify_account tasks against the
// volume at diskPath via virt-customize, in declaration order. All other
// task kinds are left for internal/taskexec to run post-boot and are not
// treated as errors here.
func (b *Builder) applyBuildTimeTasks(ctx context.Context, diskPath string, tasks []v1alpha1.Task) error {
	for _, task := range tasks {
		var args []string
		switch task.Kind {
		case v1alpha1.TaskAddAccount:
			args = []string{
				"-a", diskPath,
				"--run-command", fmt.Sprintf("useradd -m %s", task.Account),
				"--password", fmt.Sprintf("%s:password:%s", task.Account, task.Password),
			}
		case v1alpha1.TaskModifyAccount:
			args = []string{
				"-a", diskPath,
				"--password", fmt.Sprintf("%s:password:%s", task.Account, task.Password),
			}
		default:
			continue
		}

		cmd := cmdexec.Command{
			Name:    customizeTool,
			Args:    args,
			Timeout: b.customizeTimeout,
		}
		result, err := b.runner.Run(ctx, cmd)
		if err != nil {
			return fmt.Errorf("%s task for account %q: %w", task.Kind, task.Account, err)
		}
		if !result.Success {
			return fmt.Errorf("%s task for account %q exited %d: %s", task.Kind, task.Account, result.ExitCode, result.Stderr)
		}
	}
	return nil
}

// CleanupBuildFiles removes the boot volume produced by BuildDisk/Build,
// Safe to call on a volume that was
// never created or already removed.
func (b *Builder) CleanupBuildFiles(ctx context.Context, rangeID string, guest *v1alpha1.Guest) error {
	domainName := guest.DomainName(rangeID)
	bootVolume := naming.VolumeNameBoot(domainName)

	exists, err := b.storage.VolumeExists(ctx, storage.DefaultVMsPool, bootVolume)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return b.storage.DeleteVolume(ctx, storage.DefaultVMsPool, bootVolume)
}
