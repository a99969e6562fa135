package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyrange-project/cyrange/internal/hypervisor"
	"github.com/cyrange-project/cyrange/internal/storage"
)

// Base image management commands
var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage base images",
	Long: `Manage base OS images in the cyrange-images storage pool.

Base images are used as backing files for guest boot disks, allowing
quick range creation without duplicating disk space. A kvm-auto guest's
image_name must match an image imported here.`,
}

func init() {
	rootCmd.AddCommand(imageCmd)
	imageCmd.AddCommand(imageImportCmd)
	imageCmd.AddCommand(imageListCmd)
	imageCmd.AddCommand(imageDeleteCmd)
}

// imageStorageManager connects to libvirt, ensures the default pools exist,
// and returns a storage manager plus the connection's closer.
func imageStorageManager(cmd *cobra.Command) (*storage.Manager, func(), error) {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return nil, nil, err
	}

	client, err := hypervisor.Connect(cfg.socketPath(), 5*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	closeConn := func() {
		if closeErr := client.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
		}
	}

	mgr := storage.NewManager(client.Libvirt())
	if err := mgr.EnsureDefaultPools(cmd.Context()); err != nil {
		closeConn()
		return nil, nil, fmt.Errorf("failed to ensure default pools: %w", err)
	}

	return mgr, closeConn, nil
}

var imageImportCmd = &cobra.Command{
	Use:   "import <source-path> <name>",
	Short: "Import an image into the cyrange-images pool",
	Long: `Import a base OS image from a local file into the cyrange-images pool.

The image can then be referenced by name from a kvm-auto guest's
image_name field.

Example:
  cyrange image import /path/to/ubuntu-22.04.qcow2 ubuntu-22.04`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourcePath := args[0]
		imageName := args[1]

		fmt.Printf("Importing image from %s as %s...\n", sourcePath, imageName)

		mgr, closeConn, err := imageStorageManager(cmd)
		if err != nil {
			return err
		}
		defer closeConn()

		exists, err := mgr.ImageExists(cmd.Context(), imageName)
		if err != nil {
			return fmt.Errorf("failed to check if image exists: %w", err)
		}
		if exists {
			return fmt.Errorf("image %s already exists", imageName)
		}

		if err := mgr.ImportImage(cmd.Context(), sourcePath, imageName); err != nil {
			return fmt.Errorf("failed to import image: %w", err)
		}

		fmt.Printf("✓ Image %s imported successfully\n", imageName)
		return nil
	},
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all images in the cyrange-images pool",
	Long: `List all base OS images stored in the cyrange-images pool.

Shows image name, format, size, and path for each image.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeConn, err := imageStorageManager(cmd)
		if err != nil {
			return err
		}
		defer closeConn()

		images, err := mgr.ListImages(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list images: %w", err)
		}

		if len(images) == 0 {
			fmt.Println("No images found in cyrange-images pool")
			return nil
		}

		fmt.Printf("%-30s %-10s %10s  %s\n", "NAME", "FORMAT", "SIZE", "PATH")
		fmt.Println(strings.Repeat("-", 100))
		for _, img := range images {
			fmt.Printf("%-30s %-10s %8.1fGB  %s\n",
				img.Name,
				img.Format,
				img.CapacityGB(),
				img.Path,
			)
		}

		fmt.Printf("\nTotal: %d image(s)\n", len(images))
		return nil
	},
}

var imageDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an image from the cyrange-images pool",
	Long: `Delete a base OS image from the cyrange-images pool.

Warning: This will permanently delete the image. Guests that use this
image as a backing file may become unusable.

Example:
  cyrange image delete ubuntu-22.04`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		imageName := args[0]

		fmt.Printf("Deleting image %s...\n", imageName)

		mgr, closeConn, err := imageStorageManager(cmd)
		if err != nil {
			return err
		}
		defer closeConn()

		exists, err := mgr.ImageExists(cmd.Context(), imageName)
		if err != nil {
			return fmt.Errorf("failed to check if image exists: %w", err)
		}
		if !exists {
			return fmt.Errorf("image %s not found", imageName)
		}

		if err := mgr.DeleteImage(cmd.Context(), imageName, false); err != nil {
			return fmt.Errorf("failed to delete image: %w", err)
		}

		fmt.Printf("✓ Image %s deleted successfully\n", imageName)
		return nil
	},
}
