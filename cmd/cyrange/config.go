package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cyrange-project/cyrange/internal/cmdexec"
)

// appConfig is the operator-facing configuration file. Every field has a
// working default, so a missing file at the default location is not an
// error; a missing file at an explicitly given path is.
type appConfig struct {
	// CyberRangeDir holds the metadata index and per-range directories.
	CyberRangeDir string `yaml:"cyber_range_dir"`

	// NetworkMode selects the libvirt connection: "bridge" (system socket)
	// or "user" (per-user session socket).
	NetworkMode string `yaml:"network_mode"`

	// LogLevel is the zerolog level name.
	LogLevel string `yaml:"log_level"`

	// CIDRTable overrides the built-in network-name to CIDR defaults.
	CIDRTable map[string]string `yaml:"cidr_table,omitempty"`
}

func defaultConfig() *appConfig {
	home, _ := os.UserHomeDir()
	return &appConfig{
		CyberRangeDir: filepath.Join(home, ".local", "share", "cyrange"),
		NetworkMode:   "bridge",
		LogLevel:      "info",
	}
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cyrange", "config.yaml")
}

// loadConfig reads the config file at path (or the default location), then
// layers the persistent CLI flags on top. A missing file at the default
// location yields defaults; a missing file at an explicit path is an error.
func loadConfig(path string) (*appConfig, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if path == "" {
		path = defaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if flagNetworkMode != "" {
		cfg.NetworkMode = flagNetworkMode
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	switch cfg.NetworkMode {
	case "bridge", "user":
	default:
		return nil, fmt.Errorf("invalid network mode %q (valid: bridge, user)", cfg.NetworkMode)
	}

	return cfg, nil
}

// socketPath maps the network mode to the libvirt socket: the system socket
// for bridge mode, the per-user session socket for user mode.
func (c *appConfig) socketPath() string {
	if c.NetworkMode == "user" {
		runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
		if runtimeDir == "" {
			runtimeDir = fmt.Sprintf("/run/user/%d", os.Getuid())
		}
		return filepath.Join(runtimeDir, "libvirt", "libvirt-sock")
	}
	return "/var/run/libvirt/libvirt-sock"
}

func (c *appConfig) logLevel() string {
	if c.LogLevel == "" {
		return "info"
	}
	return c.LogLevel
}

var configShowCmd = &cobra.Command{
	Use:   "config-show",
	Short: "Show the effective configuration",
	Long: `Print the effective configuration after merging the config file,
built-in defaults and command-line overrides.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

var flagConfigInitOutput string

func init() {
	configInitCmd.Flags().StringVar(&flagConfigInitOutput, "output", "", "write the config file here instead of the default location")
}

var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Write a starter configuration file",
	Long:  `Write a configuration file populated with the built-in defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfigInitOutput
		if path == "" {
			path = defaultConfigPath()
		}

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}

		data, err := yaml.Marshal(defaultConfig())
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Printf("✓ Wrote %s\n", path)
		return nil
	},
}

var flagSetupDryRun bool

func init() {
	setupPermissionsCmd.Flags().BoolVar(&flagSetupDryRun, "dry-run", false, "print the commands without running them")
}

var setupPermissionsCmd = &cobra.Command{
	Use:   "setup-permissions",
	Short: "Grant the current user access to libvirt",
	Long: `Add the current user to the libvirt group and make the storage pool
directories traversable, so bridge-mode ranges work without running cyrange
as root.

With --dry-run the commands are printed but not executed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user := os.Getenv("USER")
		if user == "" {
			user = fmt.Sprintf("%d", os.Getuid())
		}

		cmds := []cmdexec.Command{
			{Name: "sudo", Args: []string{"usermod", "-aG", "libvirt", user}},
			{Name: "sudo", Args: []string{"chmod", "g+rx", "/var/lib/libvirt"}},
			{Name: "sudo", Args: []string{"systemctl", "enable", "--now", "libvirtd"}},
		}

		if flagSetupDryRun {
			for _, c := range cmds {
				fmt.Printf("would run: %s %v\n", c.Name, c.Args)
			}
			return nil
		}

		runner := cmdexec.NewRunner()
		results, err := runner.Batch(cmd.Context(), cmds, true)
		for _, r := range results {
			if r.Success {
				fmt.Printf("✓ %s\n", r.Command)
			} else {
				fmt.Fprintf(os.Stderr, "✗ %s: %s\n", r.Command, r.Stderr)
			}
		}
		if err != nil {
			return fmt.Errorf("permission setup failed: %w", err)
		}
		fmt.Println("✓ Permissions configured; log out and back in for group membership to apply")
		return nil
	},
}
