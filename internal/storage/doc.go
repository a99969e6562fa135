// Package storage provides libvirt storage pool and volume management.
//
// This package handles all storage operations including:
//   - Pool lifecycle (create, delete, refresh, list)
//   - Volume operations (create, delete, clone, list)
//   - Image management (import, list, delete, validation)
//   - Format detection and validation (QCOW2, RAW)
//
// Storage Architecture:
//
// Cyrange uses a pool-based storage architecture with two default pools:
//   - cyrange-images: Base OS images shared across guests
//   - cyrange-vms: guest-specific volumes (boot disks, data disks, cloud-init ISOs)
//
// Volume Naming Convention:
//
// Volumes follow a predictable naming pattern (see internal/naming package):
//   - Boot disk: {domain-name}_boot.qcow2
//   - Data disk: {domain-name}_data-{device}.qcow2
//   - Cloud-init: {domain-name}_cloudinit.iso
//
// Format Validation:
//
// DetectImageFormat performs pure Go magic byte detection of image formats:
//   - QCOW2: Magic bytes "QFI\xfb" at offset 0
//   - RAW: MBR signature 0x55aa at offset 510
//   - Anything else is rejected as unsupported
//
// ImportImage chooses the format from the file extension (.raw and .img are
// raw, anything else qcow2) and does not call DetectImageFormat, so a file
// whose content does not match its extension is not rejected.
//
// Consumer-Side Interface:
//
// storage.LibvirtClient is the narrow interface this package uses for its
// own libvirt operations, so tests can substitute a mock. Consumers
// (internal/image, internal/orchestrator) use *Manager directly.
//
// Example usage:
//
//	// Connect to libvirt
//	client, err := libvirt.Connect()
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	// Create storage manager
//	mgr := storage.NewManager(client.Libvirt())
//
//	// Ensure default pools exist
//	if err := mgr.EnsureDefaultPools(ctx); err != nil {
//	    return err
//	}
//
//	// Import an image
//	if err := mgr.ImportImage(ctx, "/path/to/image.qcow2", "fedora-43.qcow2"); err != nil {
//	    return err
//	}
//
//	// Create a boot volume from the image
//	spec := storage.VolumeSpec{
//	    Name:       "myvm_boot",
//	    Type:       storage.VolumeTypeBoot,
//	    Format:     storage.VolumeFormatQCOW2,
//	    CapacityGB: 20,
//	    // BackingVolume is the backing image's filesystem path
//	    BackingVolume: "/var/lib/libvirt/images/cyrange/images/fedora-43.qcow2",
//	}
//	if err := mgr.CreateVolume(ctx, "cyrange-vms", spec); err != nil {
//	    return err
//	}
package storage
