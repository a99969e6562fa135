package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyrange-project/cyrange/internal/hypervisor"
	"github.com/cyrange-project/cyrange/internal/orchestrator"
	"github.com/cyrange-project/cyrange/internal/output"
	"github.com/cyrange-project/cyrange/internal/rangeconfig"
	"github.com/cyrange-project/cyrange/internal/rangelog"
)

var (
	version = "dev"
	commit  = "unknown"
)

const exitSIGINT = 130

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "Interrupted")
		os.Exit(exitSIGINT)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cyrange",
	Short: "cyrange - cyber range instantiation tool",
	Long: `cyrange builds isolated multi-VM training environments on a local
libvirt hypervisor from declarative YAML descriptions.

A description declares hosts, guest VMs, a network topology and per-guest
provisioning tasks; cyrange materializes the disks, wires the virtual
networks, applies layer-3 forwarding policy, runs in-guest customization,
and tracks each range through its lifecycle.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagConfig      string
	flagNetworkMode string
	flagLogLevel    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to the cyrange config file")
	rootCmd.PersistentFlags().StringVar(&flagNetworkMode, "network-mode", "", "libvirt connection mode: bridge (system) or user (session)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(sshInfoCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(legacyCmd)
	rootCmd.AddCommand(testConnCmd)
	rootCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(setupPermissionsCmd)
}

// newOrchestrator builds an Orchestrator from the resolved config and the
// --network-mode override. The caller must Close() it.
func newOrchestrator(cfg *appConfig) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(orchestrator.Config{
		MetadataDir:  cfg.CyberRangeDir,
		SocketPath:   cfg.socketPath(),
		DialTimeout:  5 * time.Second,
		IdleTimeout:  time.Minute,
		CIDRTable:    cfg.CIDRTable,
		Logger:       rangelog.Console(cfg.logLevel()),
		SkipFirewall: os.Geteuid() != 0,
	})
}

var (
	flagCreateRangeID string
	flagDryRun        bool
	flagCleanup       bool
)

func init() {
	createCmd.Flags().StringVar(&flagCreateRangeID, "range-id", "", "explicit range identifier (auto-assigned if empty)")
	createCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "validate the description without touching the hypervisor")
	createCmd.Flags().BoolVar(&flagCleanup, "cleanup-on-failure", false, "roll back every created resource if creation fails partway")
}

var createCmd = &cobra.Command{
	Use:   "create <description-file>",
	Short: "Create a cyber range from a description file",
	Long: `Create a cyber range from a YAML description file.

The description declares hosts, guests, the network topology and per-guest
tasks. Creation installs the topology, builds and starts every guest,
confirms addresses, runs provisioning tasks and applies the forwarding
policy. On failure, already-created resources are rolled back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}

		desc, err := rangeconfig.LoadFromFile(args[0])
		if err != nil {
			return err
		}
		if flagCreateRangeID != "" {
			desc.RangeID = flagCreateRangeID
		}

		orch, err := newOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer closeQuietly(orch)

		rng, err := orch.CreateRange(cmd.Context(), desc, orchestrator.CreateOptions{
			DryRun:           flagDryRun,
			CleanupOnFailure: flagCleanup,
		})
		if err != nil {
			fmt.Println("FAILURE")
			if rng != nil {
				fmt.Printf("Range %s: %s\n", rng.RangeID, rng.Status.Verdict)
			}
			return err
		}

		if flagDryRun {
			fmt.Printf("✓ Description is valid; range %s would be created\n", rng.RangeID)
			return nil
		}

		fmt.Println(rng.Status.Verdict)
		fmt.Printf("✓ Range %s is %s\n", rng.RangeID, rng.GetPhase())
		for _, w := range rng.Status.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		return nil
	},
}

var (
	flagListRangeID string
	flagListAll     bool
	flagListVerbose bool
	flagListOutput  string
)

func init() {
	listCmd.Flags().StringVar(&flagListRangeID, "range-id", "", "show only this range")
	listCmd.Flags().BoolVar(&flagListAll, "all", false, "include destroyed ranges")
	listCmd.Flags().BoolVarP(&flagListVerbose, "verbose", "v", false, "include per-guest detail")
	listCmd.Flags().StringVarP(&flagListOutput, "output", "o", "table", "output format: table, yaml, json")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cyber ranges",
	Long: `List the cyber ranges tracked in the metadata store.

Destroyed ranges are hidden unless --all is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}
		if err := output.ValidateFormat(flagListOutput); err != nil {
			return err
		}

		orch, err := newOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer closeQuietly(orch)

		ranges := orch.ListRanges(flagListAll)
		if flagListRangeID != "" {
			rng, err := orch.GetRange(flagListRangeID)
			if err != nil {
				return err
			}
			ranges = ranges[:0]
			ranges = append(ranges, rng)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:  output.Format(flagListOutput),
			Verbose: flagListVerbose,
		})
		if err != nil {
			return err
		}
		text, err := formatter.FormatRangeList(ranges)
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	},
}

var (
	flagStatusVerbose bool
	flagStatusOutput  string
)

func init() {
	statusCmd.Flags().BoolVarP(&flagStatusVerbose, "verbose", "v", false, "join live hypervisor state and SSH reachability")
	statusCmd.Flags().StringVarP(&flagStatusOutput, "output", "o", "table", "output format: table, yaml, json")
}

var statusCmd = &cobra.Command{
	Use:   "status <range-id>",
	Short: "Show one range's status",
	Long: `Show the stored status of a range.

With --verbose, each guest domain's live hypervisor state, discovered
addresses and SSH reachability are joined in.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}

		orch, err := newOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer closeQuietly(orch)

		if !flagStatusVerbose {
			rng, err := orch.GetRange(args[0])
			if err != nil {
				return err
			}
			formatter, err := output.NewFormatter(output.Options{Format: output.Format(flagStatusOutput)})
			if err != nil {
				return err
			}
			text, err := formatter.FormatRange(rng)
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		}

		detail, err := orch.GetRangeStatusDetailed(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Range %s: %s\n", detail.Range.RangeID, detail.Range.GetPhase())
		for _, g := range detail.Guests {
			ssh := "unreachable"
			if g.SSHReachable {
				ssh = "reachable"
			}
			fmt.Printf("  %-20s %-10s %-30v ssh: %s\n", g.DomainName, g.State, g.Addresses, ssh)
		}
		return nil
	},
}

var (
	flagDestroyForce bool
	flagDestroyRm    bool
)

func init() {
	destroyCmd.Flags().BoolVar(&flagDestroyForce, "force", false, "destroy regardless of the range's current phase")
	destroyCmd.Flags().BoolVar(&flagDestroyRm, "rm", false, "also remove the metadata record and on-disk files")
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <range-id>",
	Short: "Destroy a range",
	Long: `Destroy a range: stop and undefine every guest domain, delete its
storage, remove the range's virtual networks and forwarding rules.

The metadata record is kept (phase destroyed) for inspection unless --rm is
given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}

		orch, err := newOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer closeQuietly(orch)

		if err := orch.DestroyRange(cmd.Context(), args[0], orchestrator.DestroyOptions{Force: flagDestroyForce}); err != nil {
			if errors.Is(err, orchestrator.ErrRangeNotFound) {
				return fmt.Errorf("range %s not found", args[0])
			}
			return err
		}
		fmt.Printf("✓ Range %s destroyed\n", args[0])

		if flagDestroyRm {
			if err := orch.RemoveRange(cmd.Context(), args[0], false); err != nil {
				return err
			}
			fmt.Printf("✓ Range %s removed\n", args[0])
		}
		return nil
	},
}

var flagRmForce bool

func init() {
	rmCmd.Flags().BoolVar(&flagRmForce, "force", false, "destroy the range first if it is not already destroyed")
}

var rmCmd = &cobra.Command{
	Use:   "rm <range-id>",
	Short: "Remove a destroyed range's metadata and files",
	Long: `Remove a range's metadata record and its on-disk directory (logs,
disks, cloud-init seeds).

Refused unless the range is already destroyed; --force destroys it first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}

		orch, err := newOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer closeQuietly(orch)

		if err := orch.RemoveRange(cmd.Context(), args[0], flagRmForce); err != nil {
			if errors.Is(err, orchestrator.ErrRangeNotFound) {
				return fmt.Errorf("range %s not found", args[0])
			}
			return err
		}
		fmt.Printf("✓ Range %s removed\n", args[0])
		return nil
	},
}

var sshInfoCmd = &cobra.Command{
	Use:   "ssh-info <range-id>",
	Short: "Show SSH connection details for a range's guests",
	Long:  `Print a ready-to-paste ssh command line for each guest in the range.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}

		orch, err := newOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer closeQuietly(orch)

		detail, err := orch.GetRangeStatusDetailed(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, orchestrator.ErrRangeNotFound) {
				return fmt.Errorf("range %s not found", args[0])
			}
			return err
		}

		if len(detail.Guests) == 0 {
			fmt.Println("No guests recorded for this range")
			return nil
		}
		for _, g := range detail.Guests {
			if len(g.Addresses) == 0 {
				fmt.Printf("%-20s (no address discovered)\n", g.DomainName)
				continue
			}
			fmt.Printf("%-20s ssh root@%s\n", g.DomainName, g.Addresses[0])
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <description-file>",
	Short: "Validate a range description file",
	Long: `Parse and validate a range description without creating anything.

Checks YAML syntax, guest base-VM field coherence, topology references and
forwarding rule grammar.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := rangeconfig.LoadFromFile(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ %s is valid\n", args[0])
		return nil
	},
}

var legacyCmd = &cobra.Command{
	Use:   "legacy <description-file> [config-file]",
	Short: "Run a legacy-style invocation",
	Long: `Accept the legacy positional invocation (description file, optional
config file) and run it as a create.

Provided so existing wrapper scripts keep working unchanged.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 2 {
			flagConfig = args[1]
		}
		return createCmd.RunE(cmd, args[:1])
	},
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}

		fmt.Println("Testing libvirt connection...")
		client, err := hypervisor.Connect(cfg.socketPath(), 5*time.Second)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()

		if err := client.Ping(); err != nil {
			return fmt.Errorf("libvirt daemon did not respond: %w", err)
		}
		fmt.Println("✓ Connected to libvirt daemon")
		return nil
	},
}

type closer interface{ Close() error }

func closeQuietly(c closer) {
	if err := c.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}
