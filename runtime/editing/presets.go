package editing

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"
)

// Presets maps preset names to strategy lists.
type Presets map[string][]Strategy

// LoadPresets reads named strategy lists from YAML and validates each one:
//
//	compact:
//	  - type: remove_tool_result
//	    params: {keep_recent_n_tool_results: 3}
//	  - type: token_limit
//	    params: {limit_tokens: 20000}
func LoadPresets(r io.Reader) (Presets, error) {
	var presets Presets
	if err := yaml.NewDecoder(r).Decode(&presets); err != nil {
		if errors.Is(err, io.EOF) {
			return Presets{}, nil
		}
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	for _, name := range slices.Sorted(maps.Keys(presets)) {
		if err := Validate(presets[name]); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
	}
	if presets == nil {
		presets = Presets{}
	}
	return presets, nil
}

// Lookup returns the strategies of the named preset.
func (p Presets) Lookup(name string) ([]Strategy, bool) {
	s, ok := p[name]
	return s, ok
}
