package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"einkpipe-go/types"
)

// DefaultPanel describes a 1872x1404 4-bit panel on an 8-bit bus.
func DefaultPanel() types.Panel {
	return types.Panel{
		Name:    "default-1872x1404",
		BitNum:  4,
		DataLen: 8,
		Width:   1872,
		Height:  1404,
		Timing: types.Timing{
			LBL: 4, LSL: 10, LDL: 234, LEL: 44,
			FBL: 4, FSL: 1, FDL: 1404, FEL: 12,
		},
	}
}

// LoadPanel reads a YAML panel profile.
func LoadPanel(path string) (types.Panel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Panel{}, fmt.Errorf("read panel profile: %w", err)
	}
	return ParsePanel(raw)
}

// ParsePanel decodes a YAML panel profile and validates it.
func ParsePanel(raw []byte) (types.Panel, error) {
	var p types.Panel
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return types.Panel{}, fmt.Errorf("parse panel profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return types.Panel{}, err
	}
	return p, nil
}
