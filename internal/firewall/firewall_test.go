package firewall

import (
	"testing"

	"github.com/google/nftables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrange-project/cyrange/internal/l3policy"
)

type fakeConn struct {
	table *nftables.Table
	chain *nftables.Chain
	rules []*nftables.Rule

	flushCalls int
	delTables  []*nftables.Table
}

func (f *fakeConn) AddTable(t *nftables.Table) *nftables.Table {
	f.table = t
	return t
}

func (f *fakeConn) AddChain(c *nftables.Chain) *nftables.Chain {
	f.chain = c
	return c
}

func (f *fakeConn) AddRule(r *nftables.Rule) *nftables.Rule {
	f.rules = append(f.rules, r)
	return r
}

func (f *fakeConn) DelRule(r *nftables.Rule) error {
	out := f.rules[:0]
	for _, existing := range f.rules {
		if existing != r {
			out = append(out, existing)
		}
	}
	f.rules = out
	return nil
}

func (f *fakeConn) GetRules(*nftables.Table, *nftables.Chain) ([]*nftables.Rule, error) {
	out := make([]*nftables.Rule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func (f *fakeConn) ListTables() ([]*nftables.Table, error) {
	if f.table == nil {
		return nil, nil
	}
	return []*nftables.Table{f.table}, nil
}

func (f *fakeConn) DelTable(t *nftables.Table) {
	f.delTables = append(f.delTables, t)
	f.table = nil
}

func (f *fakeConn) Flush() error {
	f.flushCalls++
	return nil
}

func TestApplyPolicy_TagsRulesByRange(t *testing.T) {
	fc := &fakeConn{}
	m, err := NewManager(fc)
	require.NoError(t, err)

	rules, errs := l3policy.Compile([]string{"src=10.0.0.0/24 dst=10.0.1.0/24 dport=22"}, nil)
	require.Empty(t, errs)

	require.NoError(t, m.ApplyPolicy("range-a", rules))
	assert.Len(t, fc.rules, len(rules))
	for _, r := range fc.rules {
		assert.Equal(t, "cyrange-range=range-a", string(r.UserData))
	}
}

func TestRemoveRangeRules_OnlyRemovesTaggedRange(t *testing.T) {
	fc := &fakeConn{}
	m, err := NewManager(fc)
	require.NoError(t, err)

	rulesA, _ := l3policy.Compile([]string{"src=10.0.0.0/24 dst=10.0.1.0/24"}, nil)
	rulesB, _ := l3policy.Compile([]string{"src=10.1.0.0/24 dst=10.1.1.0/24"}, nil)

	require.NoError(t, m.ApplyPolicy("range-a", rulesA))
	require.NoError(t, m.ApplyPolicy("range-b", rulesB))

	require.NoError(t, m.RemoveRangeRules("range-a"))

	for _, r := range fc.rules {
		assert.Equal(t, "cyrange-range=range-b", string(r.UserData))
	}
}

func TestRemoveRangeRules_UnknownRangeIsNoOp(t *testing.T) {
	fc := &fakeConn{}
	m, err := NewManager(fc)
	require.NoError(t, err)

	assert.NoError(t, m.RemoveRangeRules("does-not-exist"))
}

func TestApplyPolicy_ExpandsSPortList(t *testing.T) {
	fc := &fakeConn{}
	m, err := NewManager(fc)
	require.NoError(t, err)

	rules, errs := l3policy.Compile([]string{"src=10.0.0.0/24 dst=10.0.1.0/24 sport=80,443 dport=53 proto=udp"}, nil)
	require.Empty(t, errs)
	// one per-pair rule plus the trailing stateful-reply rule
	require.Len(t, rules, 2)

	require.NoError(t, m.ApplyPolicy("range-a", rules))
	// the sport list fans out into one kernel rule per value: 80 and 443,
	// plus the reply rule
	assert.Len(t, fc.rules, 3)
}

func TestExpandSPorts(t *testing.T) {
	single := l3policy.CompiledRule{SPort: "80"}
	assert.Equal(t, []l3policy.CompiledRule{single}, expandSPorts(single))

	list := l3policy.CompiledRule{SPort: "80,443", DPort: "53"}
	got := expandSPorts(list)
	require.Len(t, got, 2)
	assert.Equal(t, "80", got[0].SPort)
	assert.Equal(t, "443", got[1].SPort)
	assert.Equal(t, "53", got[0].DPort)
	assert.Equal(t, "53", got[1].DPort)

	ranged := l3policy.CompiledRule{SPort: "1024-65535"}
	assert.Equal(t, []l3policy.CompiledRule{ranged}, expandSPorts(ranged))
}

func TestParsePortBytes_RejectsPartialParses(t *testing.T) {
	for _, bad := range []string{"80,443", "80x", "", "0", "65536", "-1"} {
		_, err := parsePortBytes(bad)
		assert.Error(t, err, "token %q must not parse", bad)
	}

	got, err := parsePortBytes("443")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xbb}, got)
}

func TestCleanup_DeletesTable(t *testing.T) {
	fc := &fakeConn{}
	m, err := NewManager(fc)
	require.NoError(t, err)

	require.NoError(t, m.Cleanup())
	assert.Len(t, fc.delTables, 1)
}
