package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

// JSONFormatter formats resources as JSON.
type JSONFormatter struct{}

// FormatRange formats a single Range as JSON.
func (f *JSONFormatter) FormatRange(r *v1alpha1.Range) (string, error) {
	v1alpha1.SetDefaultAPIVersion(r)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal range to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatRangeList formats a list of Ranges as JSON.
// Outputs as a JSON array.
func (f *JSONFormatter) FormatRangeList(rs []*v1alpha1.Range) (string, error) {
	if len(rs) == 0 {
		return "[]\n", nil
	}

	for _, r := range rs {
		v1alpha1.SetDefaultAPIVersion(r)
	}

	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal ranges to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatRangeListAsItems formats a list of Ranges as a JSON object with an
// items array, mimicking Kubernetes List format:
//
//	{
//	  "apiVersion": "cyrange.cofront.xyz/v1alpha1",
//	  "kind": "RangeList",
//	  "items": [...]
//	}
func (f *JSONFormatter) FormatRangeListAsItems(rs []*v1alpha1.Range) (string, error) {
	for _, r := range rs {
		v1alpha1.SetDefaultAPIVersion(r)
	}

	wrapper := map[string]interface{}{
		"apiVersion": v1alpha1.GroupName + "/" + v1alpha1.Version,
		"kind":       "RangeList",
		"items":      rs,
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(wrapper); err != nil {
		return "", fmt.Errorf("failed to marshal range list to JSON: %w", err)
	}

	return buf.String(), nil
}
