package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
	// Verbose adds a per-guest detail block under each range row.
	Verbose bool
}

// FormatRange formats a single Range as a table row.
func (f *TableFormatter) FormatRange(r *v1alpha1.Range) (string, error) {
	return f.FormatRangeList([]*v1alpha1.Range{r})
}

// FormatRangeList formats a list of Ranges as a table.
func (f *TableFormatter) FormatRangeList(rs []*v1alpha1.Range) (string, error) {
	if len(rs) == 0 {
		return "No ranges found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "RANGE-ID\tNAME\tPHASE\tGUESTS\tOWNER\tAGE")
	}

	for _, r := range rs {
		name := r.Spec.Name
		if name == "" {
			name = "-"
		}
		phase := string(r.Status.Phase)
		if phase == "" {
			phase = "-"
		}
		owner := r.Spec.Owner
		if owner == "" {
			owner = "-"
		}

		age := "-"
		if !r.CreationTimestamp.IsZero() {
			age = formatAge(time.Since(r.CreationTimestamp.Time))
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.RangeID, name, phase, len(r.Spec.Guests), owner, age)

		if f.Verbose {
			for _, guest := range r.Spec.Guests {
				ip := r.Status.VMIPs[guest.GuestID]
				if ip == "" {
					ip = "-"
				}
				_, _ = fmt.Fprintf(w, "  ↳%s\t%s\t%s\t\t\t\n", guest.GuestID, string(guest.Spec.Kind), ip)
			}
			if len(r.Status.Warnings) > 0 {
				_, _ = fmt.Fprintf(w, "  warnings: %s\n", strings.Join(r.Status.Warnings, "; "))
			}
		}
	}

	_ = w.Flush()
	return buf.String(), nil
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())

	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	years := days / 365
	if years > 0 {
		return fmt.Sprintf("%dy", years)
	}

	return fmt.Sprintf("%dd", days)
}
