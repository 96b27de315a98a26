package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/knadh/koanf/parsers/yaml"
)

// YAMLFormatter formats data as YAML.
//
// Data is first encoded as JSON so field names follow the json tags.
type YAMLFormatter struct{}

// Format formats data as YAML. Data must encode to a JSON object.
func (f *YAMLFormatter) Format(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("yaml output needs an object: %w", err)
	}
	out, err := yaml.Parser().Marshal(m)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
