package l3policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ipMappings = map[string]string{
	"office":  "192.168.100.0/24",
	"servers": "192.168.200.0/24",
	"dmz":     "192.168.50.0/24",
}

func TestCompile_ThreeNetworkPolicy(t *testing.T) {
	rules := []string{
		"src=office dst=servers dport=80,443",
		"src=office dst=dmz dport=587 proto=tcp",
		"src=servers dst=office sport=1024-65535 dport=53 proto=udp",
		"src=office dst=servers proto=icmp",
	}

	compiled, errs := Compile(rules, ipMappings)
	require.Empty(t, errs)
	require.NotEmpty(t, compiled)

	last := compiled[len(compiled)-1]
	assert.Equal(t, statefulReply, last)

	for _, c := range compiled[:len(compiled)-1] {
		assert.Contains(t, c.String(), "state=new,established,related")
		assert.Contains(t, c.String(), "action=ACCEPT")
	}
}

func TestCompile_MissingDst(t *testing.T) {
	_, errs := Compile([]string{"src=office"}, ipMappings)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "rule 0")
}

func TestCompile_UnknownNetworkNamesTheToken(t *testing.T) {
	_, errs := Compile([]string{"src=bogus dst=servers"}, ipMappings)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "bogus")
}

func TestParsePortSpec_BoundaryBehaviors(t *testing.T) {
	cases := []struct {
		token   string
		wantErr bool
	}{
		{"1", false},
		{"65535", false},
		{"0", true},
		{"65536", true},
		{"10-20", false},
		{"20-10", true},
	}

	for _, tc := range cases {
		_, err := parsePortSpec(tc.token)
		if tc.wantErr {
			assert.Error(t, err, tc.token)
		} else {
			assert.NoError(t, err, tc.token)
		}
	}
}

func TestCompile_LiteralCIDRSrcDst(t *testing.T) {
	compiled, errs := Compile([]string{"src=10.0.0.0/24 dst=10.0.1.0/24 dport=22"}, nil)
	require.Empty(t, errs)
	require.Len(t, compiled, 2)
	assert.Equal(t, "10.0.0.0/24", compiled[0].Src)
	assert.Equal(t, "10.0.1.0/24", compiled[0].Dst)
	assert.Equal(t, "22", compiled[0].DPort)
}

func TestCompile_IdempotentOutput(t *testing.T) {
	rules := []string{"src=office dst=servers dport=80"}
	first, errs := Compile(rules, ipMappings)
	require.Empty(t, errs)
	second, errs := Compile(rules, ipMappings)
	require.Empty(t, errs)
	assert.Equal(t, first, second)
}
