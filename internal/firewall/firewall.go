// Package firewall installs compiled layer-3 policy as nftables rules, one
// shared table owned by the Bridge/Firewall Manager across every range on
// the host. Each rule is tagged with its range_id so one range's rules can
// be removed without touching another's, even after the orchestrator loses
// in-memory state.
package firewall

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"github.com/cyrange-project/cyrange/internal/l3policy"
	"github.com/cyrange-project/cyrange/internal/rangeerr"
)

const (
	tableName = "cyrange"
	chainName = "forward"

	// rangeTagPrefix marks a rule's owning range in its comment/UserData,
	// since nftables has no native string-tag field on rules.
	rangeTagPrefix = "cyrange-range="
)

// conn is the narrow nftables surface the Manager needs; satisfied by
// *nftables.Conn, and by a fake in tests.
type conn interface {
	AddTable(*nftables.Table) *nftables.Table
	AddChain(*nftables.Chain) *nftables.Chain
	AddRule(*nftables.Rule) *nftables.Rule
	DelRule(*nftables.Rule) error
	GetRules(*nftables.Table, *nftables.Chain) ([]*nftables.Rule, error)
	ListTables() ([]*nftables.Table, error)
	DelTable(*nftables.Table)
	Flush() error
}

// Manager owns the "cyrange" nftables table and its forward chain, applying
// and removing per-range compiled policies against it.
type Manager struct {
	mu    sync.Mutex
	conn  conn
	table *nftables.Table
	chain *nftables.Chain
}

// NewManager creates (idempotently) the shared table and forward chain.
func NewManager(c conn) (*Manager, error) {
	m := &Manager{conn: c}

	m.table = c.AddTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   tableName,
	})
	m.chain = c.AddChain(&nftables.Chain{
		Name:     chainName,
		Table:    m.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookForward,
		Priority: nftables.ChainPriorityFilter,
	})

	if err := c.Flush(); err != nil {
		return nil, rangeerr.Wrap(rangeerr.Hypervisor, "failed to initialize nftables chain", err)
	}
	return m, nil
}

// ApplyPolicy installs every compiled rule tagged with rangeID and commits
// in one transaction. Re-applying the same policy is idempotent in effect:
// the prior rule set for rangeID is removed first so reapplying never
// duplicates rules.
func (m *Manager) ApplyPolicy(rangeID string, rules []l3policy.CompiledRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.removeRangeRulesLocked(rangeID); err != nil {
		return err
	}

	tag := []byte(rangeTagPrefix + rangeID)
	for _, rule := range rules {
		// A compiled rule may carry a comma-separated sport list; nftables
		// expressions AND together, so each sport value becomes its own
		// kernel rule rather than a single never-matching conjunction.
		for _, variant := range expandSPorts(rule) {
			exprs, err := buildExprs(variant)
			if err != nil {
				return rangeerr.New(rangeerr.NetworkPolicy, fmt.Sprintf("range %s: %v", rangeID, err))
			}
			m.conn.AddRule(&nftables.Rule{
				Table:    m.table,
				Chain:    m.chain,
				Exprs:    exprs,
				UserData: tag,
			})
		}
	}

	if err := m.conn.Flush(); err != nil {
		return rangeerr.Wrap(rangeerr.NetworkPolicy, fmt.Sprintf("failed to apply policy for range %s", rangeID), err)
	}
	return nil
}

// RemoveRangeRules deletes every rule tagged with rangeID. A range with no
// installed rules is a no-op.
func (m *Manager) RemoveRangeRules(rangeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.removeRangeRulesLocked(rangeID); err != nil {
		return err
	}
	if err := m.conn.Flush(); err != nil {
		return rangeerr.Wrap(rangeerr.NetworkPolicy, fmt.Sprintf("failed to remove rules for range %s", rangeID), err)
	}
	return nil
}

func (m *Manager) removeRangeRulesLocked(rangeID string) error {
	existing, err := m.conn.GetRules(m.table, m.chain)
	if err != nil {
		return rangeerr.Wrap(rangeerr.NetworkPolicy, "failed to list existing forward rules", err)
	}

	tag := rangeTagPrefix + rangeID
	for _, rule := range existing {
		if string(rule.UserData) != tag {
			continue
		}
		if err := m.conn.DelRule(rule); err != nil {
			return rangeerr.Wrap(rangeerr.NetworkPolicy, fmt.Sprintf("failed to remove rule for range %s", rangeID), err)
		}
	}
	return nil
}

// Cleanup deletes the entire managed table, reversing NewManager.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tables, err := m.conn.ListTables()
	if err != nil {
		return rangeerr.Wrap(rangeerr.NetworkPolicy, "failed to list tables for cleanup", err)
	}
	for _, t := range tables {
		if t.Name == tableName && t.Family == nftables.TableFamilyIPv4 {
			m.conn.DelTable(t)
			break
		}
	}
	return m.conn.Flush()
}

// expandSPorts splits a rule whose SPort is a comma-separated list into one
// variant per value. Each value may still be a single port or an a-b range;
// rules without a list pass through unchanged.
func expandSPorts(rule l3policy.CompiledRule) []l3policy.CompiledRule {
	if !strings.Contains(rule.SPort, ",") {
		return []l3policy.CompiledRule{rule}
	}

	parts := strings.Split(rule.SPort, ",")
	out := make([]l3policy.CompiledRule, 0, len(parts))
	for _, part := range parts {
		variant := rule
		variant.SPort = strings.TrimSpace(part)
		out = append(out, variant)
	}
	return out
}

// buildExprs compiles one l3policy.CompiledRule into the nftables match/
// verdict expression chain. The trailing stateful-reply rule (no src/dst)
// matches every forwarded packet and accepts unconditionally.
func buildExprs(rule l3policy.CompiledRule) ([]expr.Any, error) {
	var exprs []expr.Any

	if rule.Src != "" {
		matched, err := cidrMatch(rule.Src, 12) // IPv4 header: source address at offset 12
		if err != nil {
			return nil, fmt.Errorf("src: %w", err)
		}
		exprs = append(exprs, matched...)
	}
	if rule.Dst != "" {
		matched, err := cidrMatch(rule.Dst, 16) // IPv4 header: destination address at offset 16
		if err != nil {
			return nil, fmt.Errorf("dst: %w", err)
		}
		exprs = append(exprs, matched...)
	}

	if proto, ok := protoNumber(rule.Proto); ok {
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
		)
	}

	if rule.DPort != "" {
		portExprs, err := portMatch(rule.DPort, 2) // TCP/UDP header: destination port at offset 2
		if err != nil {
			return nil, fmt.Errorf("dport: %w", err)
		}
		exprs = append(exprs, portExprs...)
	}
	if rule.SPort != "" {
		portExprs, err := portMatch(rule.SPort, 0) // TCP/UDP header: source port at offset 0
		if err != nil {
			return nil, fmt.Errorf("sport: %w", err)
		}
		exprs = append(exprs, portExprs...)
	}

	exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictAccept})
	return exprs, nil
}

func protoNumber(p l3policy.Protocol) (byte, bool) {
	switch p {
	case l3policy.ProtoTCP:
		return unix.IPPROTO_TCP, true
	case l3policy.ProtoUDP:
		return unix.IPPROTO_UDP, true
	case l3policy.ProtoICMP:
		return unix.IPPROTO_ICMP, true
	case l3policy.ProtoAll, "":
		return 0, false
	default:
		return 0, false
	}
}

// cidrMatch builds the payload+bitwise+cmp sequence that matches an IPv4
// address against a CIDR, at the given network-header byte offset (12 for
// source, 16 for destination).
func cidrMatch(cidr string, offset uint32) ([]expr.Any, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	ip4 := ipNet.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("not an IPv4 CIDR: %s", cidr)
	}
	mask := net.IP(ipNet.Mask).To4()

	return []expr.Any{
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: offset, Len: 4},
		&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4, Mask: mask, Xor: []byte{0, 0, 0, 0}},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ip4},
	}, nil
}

// portMatch builds the payload+cmp (or range) sequence that matches a
// single port or an a-b range against the transport-header byte offset (0
// for source port, 2 for destination port).
func portMatch(spec string, offset uint32) ([]expr.Any, error) {
	low, high, isRange := strings.Cut(spec, "-")

	base := []expr.Any{
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: offset, Len: 2},
	}

	if !isRange {
		p, err := parsePortBytes(spec)
		if err != nil {
			return nil, err
		}
		return append(base, &expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: p}), nil
	}

	lowBytes, err := parsePortBytes(low)
	if err != nil {
		return nil, err
	}
	highBytes, err := parsePortBytes(high)
	if err != nil {
		return nil, err
	}
	return append(base, &expr.Range{
		Op:       expr.CmpOpEq,
		Register: 1,
		FromData: lowBytes,
		ToData:   highBytes,
	}), nil
}

// parsePortBytes converts one port number into network byte order. The whole
// token must be a port; trailing garbage (a stray comma list, units) is an
// error rather than a silent partial parse.
func parsePortBytes(token string) ([]byte, error) {
	p, err := strconv.Atoi(token)
	if err != nil || p < 1 || p > 65535 {
		return nil, fmt.Errorf("invalid port %q", token)
	}
	return []byte{byte(p >> 8), byte(p)}, nil
}
