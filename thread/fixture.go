package thread

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LoadTemplateYAML parses a ThreadTemplate from a YAML document, the
// convenient fixture format tests and example configs author templates
// in instead of hand-built Go literals.
func LoadTemplateYAML(data []byte) (Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return Template{}, fmt.Errorf("thread: load template yaml: %w", err)
	}
	return tpl, nil
}
