// Package orchestrator drives a cyber range through its full lifecycle:
// creation, status inspection, listing, and teardown, coordinating every
// other internal/ package. It is the single entry point composing storage,
// hypervisor, topology, policy and cleanup for a whole range of hosts,
// guests and networks.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/nftables"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
	"github.com/cyrange-project/cyrange/internal/cmdexec"
	"github.com/cyrange-project/cyrange/internal/firewall"
	"github.com/cyrange-project/cyrange/internal/hypervisor"
	"github.com/cyrange-project/cyrange/internal/image"
	"github.com/cyrange-project/cyrange/internal/ipdiscovery"
	"github.com/cyrange-project/cyrange/internal/metadata"
	"github.com/cyrange-project/cyrange/internal/rangeerr"
	"github.com/cyrange-project/cyrange/internal/storage"
	"github.com/cyrange-project/cyrange/internal/taskexec"
	"github.com/cyrange-project/cyrange/internal/topology"
)

// Config bounds the resources an Orchestrator opens on construction.
type Config struct {
	// MetadataDir holds the range metadata index (ranges_metadata.json).
	MetadataDir string

	// SocketPath is the libvirt connection URI/socket every range's guests
	// are provisioned against. Empty uses hypervisor.Connect's default.
	SocketPath string

	// DialTimeout/IdleTimeout bound the hypervisor connection pool.
	DialTimeout time.Duration
	IdleTimeout time.Duration

	// CIDRTable overrides the Topology Manager's network-name to CIDR
	// mapping. Nil uses topology.DefaultCIDRTable.
	CIDRTable map[string]string

	Logger zerolog.Logger

	// SkipFirewall disables nftables wiring entirely (e.g. running as a
	// non-root test user without CAP_NET_ADMIN).
	SkipFirewall bool
}

// Orchestrator composes the Range Metadata Store, the hypervisor connection
// pool, and the Bridge/Firewall Manager into the create/destroy/status
// operations. One Orchestrator serves every range on the host;
// per-range_id mutexes (not a single global lock) let unrelated ranges be
// created or destroyed concurrently.
type Orchestrator struct {
	store      *metadata.Store
	pool       *hypervisor.Pool
	socketPath string
	cidrTable  map[string]string
	firewall   *firewall.Manager
	logger     zerolog.Logger

	rangeLocksMu sync.Mutex
	rangeLocks   map[string]*sync.Mutex

	statusCacheMu sync.Mutex
	statusCache   map[string]statusCacheEntry
}

// New constructs an Orchestrator against cfg. The hypervisor connection pool
// and firewall manager are opened lazily/eagerly here; a range description
// is not required until Create/Destroy is called.
func New(cfg Config) (*Orchestrator, error) {
	store, err := metadata.NewStore(cfg.MetadataDir)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	o := &Orchestrator{
		store:      store,
		pool:       hypervisor.NewPool(cfg.DialTimeout, cfg.IdleTimeout),
		socketPath: cfg.SocketPath,
		cidrTable:  cfg.CIDRTable,
		logger:     cfg.Logger,
		rangeLocks:  make(map[string]*sync.Mutex),
		statusCache: make(map[string]statusCacheEntry),
	}

	if !cfg.SkipFirewall {
		conn, err := nftables.New()
		if err != nil {
			return nil, fmt.Errorf("open nftables connection: %w", err)
		}
		fw, err := firewall.NewManager(conn)
		if err != nil {
			return nil, fmt.Errorf("init firewall manager: %w", err)
		}
		o.firewall = fw
	}

	return o, nil
}

// lockRange serializes every operation against one range_id, while leaving
// other ranges free to proceed. The returned func releases the lock.
func (o *Orchestrator) lockRange(rangeID string) func() {
	o.rangeLocksMu.Lock()
	l, ok := o.rangeLocks[rangeID]
	if !ok {
		l = &sync.Mutex{}
		o.rangeLocks[rangeID] = l
	}
	o.rangeLocksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// acquireHypervisor opens (or reuses) the pooled libvirt connection this
// Orchestrator was configured with.
func (o *Orchestrator) acquireHypervisor(ctx context.Context) (*hypervisor.Client, error) {
	client, err := o.pool.Acquire(ctx, o.socketPath)
	if err != nil {
		return nil, rangeerr.Wrap(rangeerr.Hypervisor, "failed to acquire hypervisor connection", err)
	}
	return client, nil
}

// mintRangeID fills rng.RangeID with a fresh short identifier when none was
// supplied. It only chooses a candidate; the authoritative collision check
// happens in checkRangeIDCollision, under the per-range lock, so that two
// concurrent creates for the same id cannot both pass it.
func (o *Orchestrator) mintRangeID(rng *v1alpha1.Range) error {
	if rng.RangeID != "" {
		return nil
	}

	for attempt := 0; attempt < 10; attempt++ {
		candidate := uuid.NewString()[:8]
		if _, exists := o.store.Get(candidate); !exists {
			rng.RangeID = candidate
			return nil
		}
	}
	return rangeerr.New(rangeerr.Precondition, "failed to allocate a unique range id")
}

// checkRangeIDCollision rejects a range_id that is already tracked. Callers
// must hold the range's lock: the check is only race-free because the
// winning create persists its creating-phase record before releasing that
// same lock.
func (o *Orchestrator) checkRangeIDCollision(rangeID string) error {
	if _, exists := o.store.Get(rangeID); exists {
		return rangeerr.New(rangeerr.Precondition, fmt.Sprintf("range id %q already exists", rangeID))
	}
	return nil
}

// newImageBuilder constructs an Image Builder bound to the given libvirt
// connection.
func newImageBuilder(client *hypervisor.Client) *image.Builder {
	storageMgr := storage.NewManager(client.Libvirt())
	return image.NewBuilder(storageMgr, cmdexec.NewRunner(), 0)
}

// newTopologyManager constructs a Topology Manager bound to the given
// libvirt connection and this Orchestrator's CIDR table override.
func (o *Orchestrator) newTopologyManager(client *hypervisor.Client) *topology.Manager {
	return topology.NewManager(client.Libvirt(), o.cidrTable)
}

// newTaskExecutor constructs a Task Executor over a freshly-dialed SSH
// connection per call.
func newTaskExecutor() *taskexec.Executor {
	return taskexec.NewExecutor(taskexec.NewSSHRunner(0), taskexec.Config{})
}

// newIPDiscoverer constructs an IP Discoverer whose topology-lookup method
// reads the range's already-assigned addresses before falling through to
// the libvirt- and host-command-based discovery chain.
func (o *Orchestrator) newIPDiscoverer(rng *v1alpha1.Range) *ipdiscovery.Discoverer {
	lookup := func(rangeID, guestID string) (string, bool) {
		if rangeID != rng.RangeID {
			return "", false
		}
		ip, ok := rng.Status.VMIPs[guestID]
		return ip, ok
	}
	return ipdiscovery.New(o.pool, cmdexec.NewRunner(), lookup, 0)
}
