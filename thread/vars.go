package thread

import (
	"encoding/json"
	"fmt"

	"github.com/odinsync/core/node"
	"github.com/odinsync/core/tmpl"
)

// substituteParams round-trips p through JSON to get the generic tree
// shape tmpl.Substitute walks, resolves every `${name:type:default}`
// token against vars, and decodes the result back into Params.
func substituteParams(p node.Params, vars tmpl.Variables) (node.Params, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return node.Params{}, fmt.Errorf("thread: marshal params: %w", err)
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return node.Params{}, fmt.Errorf("thread: unmarshal params tree: %w", err)
	}

	out, err := json.Marshal(tmpl.Substitute(tree, vars))
	if err != nil {
		return node.Params{}, fmt.Errorf("thread: marshal substituted tree: %w", err)
	}
	var result node.Params
	if err := json.Unmarshal(out, &result); err != nil {
		return node.Params{}, fmt.Errorf("thread: unmarshal substituted params: %w", err)
	}
	return result, nil
}

// PostWithVars resolves template.Post[name]'s `${...}` tokens against
// vars (spec.md §4.3) before merging and posting, the templated
// counterpart of Post for callers that declared placeholders instead of
// fixed values in their thread templates.
func (t *Thread) PostWithVars(name string, vars tmpl.Variables) (*node.Node, error) {
	preset, err := substituteParams(t.Template.Post[name], vars)
	if err != nil {
		return nil, err
	}
	return t.Post(name, preset)
}

// PostLicenseWithVars is PostLicense's templated counterpart, resolving
// template.PostLicense[name]'s tokens against vars first.
func (t *Thread) PostLicenseWithVars(name string, target *node.Node, vars tmpl.Variables, now uint64) ([]*node.Node, error) {
	preset, err := substituteParams(t.Template.PostLicense[name], vars)
	if err != nil {
		return nil, err
	}
	return t.PostLicense(name, target, preset, now)
}
