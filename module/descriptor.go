package module

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Reserved file names. They describe the module itself and never appear in
// its file list.
const (
	ModInfoName = "modinfo.toml"
	IconName    = "modicon.png"
)

// Descriptor is the parsed content of modinfo.toml.
type Descriptor struct {
	Name        string  `toml:"name"`
	Version     Version `toml:"version"`
	Author      string  `toml:"author"`
	Description string  `toml:"description"`
	Category    string  `toml:"category"`

	// Priority orders modules in a load order; lower loads first, so higher
	// priorities win single-file lookups.
	Priority int `toml:"priority"`

	Dependencies []Reference `toml:"dependencies"`
	Conflicts    []Reference `toml:"conflicts"`
}

// Reference names another module, optionally with a minimum version.
type Reference struct {
	Name       string  `toml:"name"`
	MinVersion Version `toml:"min_version"`
	Note       string  `toml:"note"`
}

// SatisfiedBy reports whether a loaded module at version v meets the reference.
func (r Reference) SatisfiedBy(v Version) bool {
	return v.AtLeast(r.MinVersion)
}

// ParseDescriptor decodes a modinfo.toml document. Unknown keys are ignored.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := toml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	for _, group := range [][]Reference{d.Dependencies, d.Conflicts} {
		for i, ref := range group {
			if ref.Name == "" {
				return Descriptor{}, fmt.Errorf("%w: reference %d has no name", ErrInvalidFormat, i)
			}
		}
	}
	return d, nil
}

// Marshal encodes d as a modinfo.toml document.
func (d *Descriptor) Marshal() ([]byte, error) {
	return toml.Marshal(d)
}
