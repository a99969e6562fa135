// Package l3policy parses and compiles the layer-3 forwarding rule grammar
// into the FORWARD rule set the Bridge/Firewall Manager installs.
package l3policy

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Protocol is the closed set of protocols a rule may declare.
type Protocol string

const (
	ProtoTCP  Protocol = "tcp"
	ProtoUDP  Protocol = "udp"
	ProtoICMP Protocol = "icmp"
	ProtoAll  Protocol = "all"
)

func validProtocol(p Protocol) bool {
	switch p {
	case ProtoTCP, ProtoUDP, ProtoICMP, ProtoAll:
		return true
	default:
		return false
	}
}

// PortSpec is a single port or an inclusive a-b range.
type PortSpec struct {
	Low, High int
}

func (p PortSpec) String() string {
	if p.Low == p.High {
		return strconv.Itoa(p.Low)
	}
	return fmt.Sprintf("%d-%d", p.Low, p.High)
}

func formatPorts(ports []PortSpec) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

// Rule is one parsed rule string, with src/dst already resolved to CIDRs.
type Rule struct {
	Src   []string
	Dst   []string
	SPort []PortSpec
	DPort []PortSpec
	Proto Protocol
}

// CompiledRule is one emitted FORWARD rule, in the compiled
// shape. Src/Dst/Proto/DPort/SPort are empty on the trailing stateful-reply
// rule.
type CompiledRule struct {
	State string
	Src   string
	Dst   string
	Proto Protocol
	DPort string
	SPort string
}

// String renders the rule in the "FORWARD: key=value ..." textual form
// of one declarative forwarding rule line.
func (c CompiledRule) String() string {
	var b strings.Builder
	b.WriteString("FORWARD: state=")
	b.WriteString(c.State)
	if c.Src != "" {
		fmt.Fprintf(&b, " src=%s", c.Src)
	}
	if c.Dst != "" {
		fmt.Fprintf(&b, " dst=%s", c.Dst)
	}
	if c.Proto != "" {
		fmt.Fprintf(&b, " proto=%s", c.Proto)
	}
	if c.DPort != "" {
		fmt.Fprintf(&b, " dport=%s", c.DPort)
	}
	if c.SPort != "" {
		fmt.Fprintf(&b, " sport=%s", c.SPort)
	}
	b.WriteString(" action=ACCEPT")
	return b.String()
}

// statefulReply is the trailing rule appended after every successful
// compile: a standalone reply-traffic allowance for the whole range.
var statefulReply = CompiledRule{State: "established,related"}

// Parse parses one raw "key=value key=value ..." rule string, resolving
// src/dst tokens against ipMappings (falling back to literal CIDR parsing).
func Parse(raw string, ipMappings map[string]string) (*Rule, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty rule")
	}

	rule := &Rule{Proto: ProtoTCP}
	var haveSrc, haveDst bool

	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("malformed token %q, expected key=value", field)
		}

		switch key {
		case "src":
			cidrs, err := resolveNetworks(value, ipMappings)
			if err != nil {
				return nil, err
			}
			rule.Src = cidrs
			haveSrc = true
		case "dst":
			cidrs, err := resolveNetworks(value, ipMappings)
			if err != nil {
				return nil, err
			}
			rule.Dst = cidrs
			haveDst = true
		case "sport":
			ports, err := parsePortList(value)
			if err != nil {
				return nil, fmt.Errorf("sport: %w", err)
			}
			rule.SPort = ports
		case "dport":
			ports, err := parsePortList(value)
			if err != nil {
				return nil, fmt.Errorf("dport: %w", err)
			}
			rule.DPort = ports
		case "proto":
			proto := Protocol(value)
			if !validProtocol(proto) {
				return nil, fmt.Errorf("proto: unrecognized protocol %q", value)
			}
			rule.Proto = proto
		default:
			return nil, fmt.Errorf("unrecognized rule key %q", key)
		}
	}

	if !haveSrc {
		return nil, fmt.Errorf("rule %q: missing required src=", raw)
	}
	if !haveDst {
		return nil, fmt.Errorf("rule %q: missing required dst=", raw)
	}

	return rule, nil
}

// resolveNetworks resolves each comma-separated token to a CIDR: a literal
// CIDR passes through unchanged, otherwise the token is looked up in
// ipMappings by name.
func resolveNetworks(value string, ipMappings map[string]string) ([]string, error) {
	tokens := strings.Split(value, ",")
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, _, err := net.ParseCIDR(token); err == nil {
			out = append(out, token)
			continue
		}
		cidr, ok := ipMappings[token]
		if !ok {
			return nil, fmt.Errorf("network name %q is not a literal CIDR and is not declared in ip_mappings", token)
		}
		out = append(out, cidr)
	}
	return out, nil
}

// parsePortList parses a comma-separated list of port specs ("80", "443",
// "1024-65535"), rejecting 0, 65536, and inverted ranges.
func parsePortList(value string) ([]PortSpec, error) {
	tokens := strings.Split(value, ",")
	out := make([]PortSpec, 0, len(tokens))
	for _, token := range tokens {
		spec, err := parsePortSpec(token)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func parsePortSpec(token string) (PortSpec, error) {
	if low, high, ok := strings.Cut(token, "-"); ok {
		a, err := parsePort(low)
		if err != nil {
			return PortSpec{}, err
		}
		b, err := parsePort(high)
		if err != nil {
			return PortSpec{}, err
		}
		if a > b {
			return PortSpec{}, fmt.Errorf("invalid port range %q: low bound exceeds high bound", token)
		}
		return PortSpec{Low: a, High: b}, nil
	}

	p, err := parsePort(token)
	if err != nil {
		return PortSpec{}, err
	}
	return PortSpec{Low: p, High: p}, nil
}

func parsePort(token string) (int, error) {
	p, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", token)
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", p)
	}
	return p, nil
}

// Compile parses and compiles every raw rule string into the FORWARD rule
// set. A parse/validation error in any rule aborts the compile:
// the full error list is returned and no rules are emitted.
func Compile(rawRules []string, ipMappings map[string]string) ([]CompiledRule, []error) {
	parsed := make([]*Rule, len(rawRules))
	var errs []error

	for i, raw := range rawRules {
		rule, err := Parse(raw, ipMappings)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i, err))
			continue
		}
		parsed[i] = rule
	}

	if len(errs) > 0 {
		return nil, errs
	}

	var compiled []CompiledRule
	for _, rule := range parsed {
		compiled = append(compiled, emit(rule)...)
	}
	compiled = append(compiled, statefulReply)

	return compiled, nil
}

// emit produces one compiled rule per (src × dst × dport) combination, or
// one without a dport if none was declared.
func emit(rule *Rule) []CompiledRule {
	sport := formatPorts(rule.SPort)

	var out []CompiledRule
	for _, src := range rule.Src {
		for _, dst := range rule.Dst {
			if len(rule.DPort) == 0 {
				out = append(out, CompiledRule{
					State: "new,established,related",
					Src:   src,
					Dst:   dst,
					Proto: rule.Proto,
					SPort: sport,
				})
				continue
			}
			for _, dport := range rule.DPort {
				out = append(out, CompiledRule{
					State: "new,established,related",
					Src:   src,
					Dst:   dst,
					Proto: rule.Proto,
					DPort: dport.String(),
					SPort: sport,
				})
			}
		}
	}
	return out
}
