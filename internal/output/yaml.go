package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatRange formats a single Range as YAML.
func (f *YAMLFormatter) FormatRange(r *v1alpha1.Range) (string, error) {
	v1alpha1.SetDefaultAPIVersion(r)

	data, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal range to YAML: %w", err)
	}

	return string(data), nil
}

// FormatRangeList formats a list of Ranges as YAML.
// Outputs as a YAML stream (multiple documents separated by ---).
func (f *YAMLFormatter) FormatRangeList(rs []*v1alpha1.Range) (string, error) {
	if len(rs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer

	for i, r := range rs {
		v1alpha1.SetDefaultAPIVersion(r)

		data, err := yaml.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("failed to marshal range %s to YAML: %w", r.RangeID, err)
		}

		if i > 0 {
			buf.WriteString("---\n")
		}

		buf.Write(data)
	}

	return buf.String(), nil
}
