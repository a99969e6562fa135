package output

import (
	"strings"
	"testing"
	"time"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

// createTestRange creates a Range for testing.
func createTestRange(id, name string, phase v1alpha1.RangePhase, guestIPs map[string]string) *v1alpha1.Range {
	r := &v1alpha1.Range{
		TypeMeta: v1alpha1.TypeMeta{
			APIVersion: "cyrange.cofront.xyz/v1alpha1",
			Kind:       "Range",
		},
		ObjectMeta: v1alpha1.ObjectMeta{
			Name: name,
			CreationTimestamp: v1alpha1.Time{
				Time: time.Now().Add(-5 * time.Minute),
			},
		},
		RangeID: id,
		Spec: v1alpha1.RangeSpec{
			Name:  name,
			Owner: "student1",
		},
		Status: v1alpha1.RangeStatus{
			Phase: phase,
			VMIPs: map[string]string{},
		},
	}

	for guestID, ip := range guestIPs {
		r.Spec.Guests = append(r.Spec.Guests, v1alpha1.Guest{
			GuestID: guestID,
			Spec: v1alpha1.GuestSpec{
				Kind: v1alpha1.GuestKindKVM,
			},
		})
		if ip != "" {
			r.Status.VMIPs[guestID] = ip
		}
	}

	return r
}

func TestTableFormatter_FormatRange(t *testing.T) {
	tests := []struct {
		name      string
		r         *v1alpha1.Range
		wantName  string
		wantPhase string
	}{
		{
			name:      "active range with guest",
			r:         createTestRange("cr01-abcd1234", "test-range", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"}),
			wantName:  "test-range",
			wantPhase: "active",
		},
		{
			name:      "destroyed range without guests",
			r:         createTestRange("cr02-efgh5678", "stopped-range", v1alpha1.RangePhaseDestroyed, nil),
			wantName:  "stopped-range",
			wantPhase: "destroyed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{}
			output, err := formatter.FormatRange(tt.r)
			if err != nil {
				t.Fatalf("FormatRange() error = %v", err)
			}

			if !strings.Contains(output, tt.wantName) {
				t.Errorf("output missing range name %q: %s", tt.wantName, output)
			}
			if !strings.Contains(output, tt.wantPhase) {
				t.Errorf("output missing phase %q: %s", tt.wantPhase, output)
			}
		})
	}
}

func TestTableFormatter_FormatRangeList(t *testing.T) {
	tests := []struct {
		name       string
		ranges     []*v1alpha1.Range
		noHeaders  bool
		wantCount  int
		wantHeader bool
	}{
		{
			name:      "empty list",
			ranges:    []*v1alpha1.Range{},
			wantCount: 0,
		},
		{
			name: "single range",
			ranges: []*v1alpha1.Range{
				createTestRange("cr01-a", "range1", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"}),
			},
			wantCount:  1,
			wantHeader: true,
		},
		{
			name: "multiple ranges",
			ranges: []*v1alpha1.Range{
				createTestRange("cr01-a", "range1", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"}),
				createTestRange("cr02-b", "range2", v1alpha1.RangePhaseDestroyed, nil),
				createTestRange("cr03-c", "range3", v1alpha1.RangePhaseCreating, nil),
			},
			wantCount:  3,
			wantHeader: true,
		},
		{
			name: "no headers",
			ranges: []*v1alpha1.Range{
				createTestRange("cr01-a", "range1", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"}),
			},
			noHeaders:  true,
			wantCount:  1,
			wantHeader: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{NoHeaders: tt.noHeaders}
			output, err := formatter.FormatRangeList(tt.ranges)
			if err != nil {
				t.Fatalf("FormatRangeList() error = %v", err)
			}

			if tt.wantCount == 0 {
				if !strings.Contains(output, "No ranges found") {
					t.Errorf("expected 'No ranges found' message, got: %s", output)
				}
				return
			}

			hasHeader := strings.Contains(output, "RANGE-ID") && strings.Contains(output, "PHASE")
			if tt.wantHeader && !hasHeader {
				t.Errorf("expected header in output, got: %s", output)
			}
			if !tt.wantHeader && hasHeader {
				t.Errorf("expected no header in output, got: %s", output)
			}

			lines := strings.Split(strings.TrimSpace(output), "\n")
			expectedLines := tt.wantCount
			if tt.wantHeader {
				expectedLines++
			}
			if len(lines) != expectedLines {
				t.Errorf("expected %d lines, got %d: %s", expectedLines, len(lines), output)
			}
		})
	}
}

func TestTableFormatter_FormatRangeList_Verbose(t *testing.T) {
	r := createTestRange("cr01-a", "range1", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"})
	r.Status.Warnings = []string{"topology degraded"}

	formatter := &TableFormatter{Verbose: true}
	output, err := formatter.FormatRangeList([]*v1alpha1.Range{r})
	if err != nil {
		t.Fatalf("FormatRangeList() error = %v", err)
	}

	if !strings.Contains(output, "desktop") {
		t.Errorf("expected guest id in verbose output: %s", output)
	}
	if !strings.Contains(output, "10.0.0.1") {
		t.Errorf("expected guest IP in verbose output: %s", output)
	}
	if !strings.Contains(output, "topology degraded") {
		t.Errorf("expected warnings in verbose output: %s", output)
	}
}

func TestYAMLFormatter_FormatRange(t *testing.T) {
	r := createTestRange("cr01-a", "test-range", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"})

	formatter := &YAMLFormatter{}
	output, err := formatter.FormatRange(r)
	if err != nil {
		t.Fatalf("FormatRange() error = %v", err)
	}

	requiredFields := []string{
		"apiVersion:",
		"kind:",
		"metadata:",
		"name: test-range",
		"spec:",
		"status:",
		"phase: active",
	}

	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}
}

func TestYAMLFormatter_FormatRangeList(t *testing.T) {
	tests := []struct {
		name      string
		ranges    []*v1alpha1.Range
		wantEmpty bool
	}{
		{
			name:      "empty list",
			ranges:    []*v1alpha1.Range{},
			wantEmpty: true,
		},
		{
			name: "single range",
			ranges: []*v1alpha1.Range{
				createTestRange("cr01-a", "range1", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"}),
			},
		},
		{
			name: "multiple ranges",
			ranges: []*v1alpha1.Range{
				createTestRange("cr01-a", "range1", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"}),
				createTestRange("cr02-b", "range2", v1alpha1.RangePhaseDestroyed, nil),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &YAMLFormatter{}
			output, err := formatter.FormatRangeList(tt.ranges)
			if err != nil {
				t.Fatalf("FormatRangeList() error = %v", err)
			}

			if tt.wantEmpty {
				if output != "" {
					t.Errorf("expected empty output, got: %s", output)
				}
				return
			}

			if len(tt.ranges) > 1 {
				if !strings.Contains(output, "---") {
					t.Errorf("expected document separator '---' in output")
				}
			}

			for _, r := range tt.ranges {
				if !strings.Contains(output, r.Spec.Name) {
					t.Errorf("output missing range name %q", r.Spec.Name)
				}
			}
		})
	}
}

func TestJSONFormatter_FormatRange(t *testing.T) {
	r := createTestRange("cr01-a", "test-range", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"})

	formatter := &JSONFormatter{}
	output, err := formatter.FormatRange(r)
	if err != nil {
		t.Fatalf("FormatRange() error = %v", err)
	}

	requiredFields := []string{
		`"apiVersion"`,
		`"kind"`,
		`"metadata"`,
		`"name": "test-range"`,
		`"spec"`,
		`"status"`,
		`"phase": "active"`,
	}

	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}
}

func TestJSONFormatter_FormatRangeList(t *testing.T) {
	tests := []struct {
		name      string
		ranges    []*v1alpha1.Range
		wantEmpty bool
	}{
		{
			name:      "empty list",
			ranges:    []*v1alpha1.Range{},
			wantEmpty: true,
		},
		{
			name: "single range",
			ranges: []*v1alpha1.Range{
				createTestRange("cr01-a", "range1", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"}),
			},
		},
		{
			name: "multiple ranges",
			ranges: []*v1alpha1.Range{
				createTestRange("cr01-a", "range1", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"}),
				createTestRange("cr02-b", "range2", v1alpha1.RangePhaseDestroyed, nil),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &JSONFormatter{}
			output, err := formatter.FormatRangeList(tt.ranges)
			if err != nil {
				t.Fatalf("FormatRangeList() error = %v", err)
			}

			if tt.wantEmpty {
				expected := "[]\n"
				if output != expected {
					t.Errorf("expected %q, got: %q", expected, output)
				}
				return
			}

			if !strings.HasPrefix(strings.TrimSpace(output), "[") {
				t.Errorf("expected output to start with '[': %s", output)
			}

			for _, r := range tt.ranges {
				if !strings.Contains(output, r.Spec.Name) {
					t.Errorf("output missing range name %q", r.Spec.Name)
				}
			}
		})
	}
}

func TestJSONFormatter_FormatRangeListAsItems(t *testing.T) {
	ranges := []*v1alpha1.Range{
		createTestRange("cr01-a", "range1", v1alpha1.RangePhaseActive, map[string]string{"desktop": "10.0.0.1"}),
	}

	formatter := &JSONFormatter{}
	output, err := formatter.FormatRangeListAsItems(ranges)
	if err != nil {
		t.Fatalf("FormatRangeListAsItems() error = %v", err)
	}

	requiredFields := []string{
		`"apiVersion"`,
		`"kind": "RangeList"`,
		`"items"`,
		"range1",
	}
	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "table format",
			opts: Options{Format: FormatTable},
		},
		{
			name: "yaml format",
			opts: Options{Format: FormatYAML},
		},
		{
			name: "json format",
			opts: Options{Format: FormatJSON},
		},
		{
			name:    "invalid format",
			opts:    Options{Format: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, err := NewFormatter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && formatter == nil {
				t.Error("NewFormatter() returned nil formatter")
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		wantErr bool
	}{
		{
			name:   "valid table",
			format: "table",
		},
		{
			name:   "valid yaml",
			format: "yaml",
		},
		{
			name:   "valid json",
			format: "json",
		},
		{
			name:    "invalid format",
			format:  "xml",
			wantErr: true,
		},
		{
			name:    "empty format",
			format:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"5 seconds", 5 * time.Second, "5s"},
		{"30 seconds", 30 * time.Second, "30s"},
		{"2 minutes", 2 * time.Minute, "2m"},
		{"90 seconds", 90 * time.Second, "1m"},
		{"2 hours", 2 * time.Hour, "2h"},
		{"90 minutes", 90 * time.Minute, "1h"},
		{"2 days", 48 * time.Hour, "2d"},
		{"2 weeks", 14 * 24 * time.Hour, "2w"},
		{"50 days", 50 * 24 * time.Hour, "7w"},
		{"60 days", 60 * 24 * time.Hour, "60d"}, // >= 8 weeks shows as days
		{"400 days", 400 * 24 * time.Hour, "1y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatAge(tt.duration)
			if got != tt.want {
				t.Errorf("formatAge(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}
