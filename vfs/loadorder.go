package vfs

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/meigma/pak/module"
)

// LoadOrder lists the base module and the modules to load on top of it.
//
//	base: data/base.pak
//	modules:
//	  - mods/ui
//	  - path: mods/weapons.pak
//	    enabled: false
type LoadOrder struct {
	Base    string           `yaml:"base"`
	Modules []LoadOrderEntry `yaml:"modules"`
}

// LoadOrderEntry is one module in a load order.
type LoadOrderEntry struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// UnmarshalYAML accepts either a bare path or a {path, enabled} mapping.
// Entries are enabled unless they say otherwise.
func (e *LoadOrderEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		e.Path = value.Value
		e.Enabled = true
		return nil
	}

	var raw struct {
		Path    string `yaml:"path"`
		Enabled *bool  `yaml:"enabled"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	e.Path = raw.Path
	e.Enabled = raw.Enabled == nil || *raw.Enabled
	return nil
}

// ParseLoadOrder decodes a load order document.
func ParseLoadOrder(data []byte) (*LoadOrder, error) {
	var order LoadOrder
	if err := yaml.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("failed to parse load order: %w", err)
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return &order, nil
}

// LoadLoadOrder reads a load order file. Relative module paths are resolved
// against the file's directory.
func LoadLoadOrder(path string) (*LoadOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read load order: %w", err)
	}
	order, err := ParseLoadOrder(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	order.Base = resolve(order.Base)
	for i := range order.Modules {
		order.Modules[i].Path = resolve(order.Modules[i].Path)
	}
	return order, nil
}

// Validate checks that the load order names a base module and that every
// entry has a path.
func (o *LoadOrder) Validate() error {
	if o.Base == "" {
		return errors.New("load order: base is required")
	}
	for i, e := range o.Modules {
		if e.Path == "" {
			return fmt.Errorf("load order: module %d: path is required", i)
		}
	}
	return nil
}

// Skipped describes a module that Apply did not load.
type Skipped struct {
	Path   string
	Name   string
	Reason error
}

// LoadReport summarizes Apply.
type LoadReport struct {
	// Loaded lists the loaded modules in load order, base first.
	Loaded []ModuleID

	// Skipped lists enabled modules that were left out.
	Skipped []Skipped
}

// Apply initializes the session from order.
//
// The base module is loaded first and must succeed. The enabled modules are
// then sorted by descriptor priority, keeping file order among equal
// priorities, and loaded one by one. A module is skipped when its mod info
// is malformed, when a dependency is not loaded or older than required, when
// it conflicts with a loaded module, or when it fails to load. Skipped
// modules are logged and reported; they never fail Apply.
//
// opts are passed to every module.New call.
func (s *Session) Apply(order *LoadOrder, opts ...module.Option) (LoadReport, error) {
	var report LoadReport
	if err := order.Validate(); err != nil {
		return report, err
	}
	if err := s.Init(module.New(order.Base, opts...)); err != nil {
		return report, err
	}
	report.Loaded = append(report.Loaded, 0)

	var candidates []*module.Module
	for _, entry := range order.Modules {
		if !entry.Enabled {
			s.log().Debug("module disabled", "path", entry.Path)
			continue
		}
		m := module.New(entry.Path, opts...)
		if err := m.LoadModInfo(); err != nil {
			report.skip(s, m, err)
			continue
		}
		candidates = append(candidates, m)
	}
	slices.SortStableFunc(candidates, func(a, b *module.Module) int {
		return cmp.Compare(a.Descriptor().Priority, b.Descriptor().Priority)
	})

	for _, m := range candidates {
		if err := s.checkReferences(m); err != nil {
			m.Close()
			report.skip(s, m, err)
			continue
		}
		id, err := s.LoadModule(m)
		if err != nil {
			report.skip(s, m, err)
			continue
		}
		report.Loaded = append(report.Loaded, id)
	}

	s.log().Info("applied load order", "loaded", len(report.Loaded), "skipped", len(report.Skipped))
	return report, nil
}

func (r *LoadReport) skip(s *Session, m *module.Module, reason error) {
	s.log().Warn("skipped module", "path", m.Path(), "name", m.Name(), "reason", reason)
	r.Skipped = append(r.Skipped, Skipped{Path: m.Path(), Name: m.Name(), Reason: reason})
}

// checkReferences verifies m's dependencies against the loaded modules'
// versions and that no conflict is declared in either direction.
func (s *Session) checkReferences(m *module.Module) error {
	desc := m.Descriptor()
	for _, dep := range desc.Dependencies {
		id, ok := s.names[dep.Name]
		if !ok {
			return fmt.Errorf("%w: %s is not loaded", ErrMissingDependency, dep.Name)
		}
		have := s.modules[id].Descriptor().Version
		if !dep.SatisfiedBy(have) {
			return fmt.Errorf("%w: %s %s is older than %s", ErrMissingDependency, dep.Name, have, dep.MinVersion)
		}
	}
	for _, c := range desc.Conflicts {
		if id, ok := s.names[c.Name]; ok && c.SatisfiedBy(s.modules[id].Descriptor().Version) {
			return fmt.Errorf("%w: %s", ErrConflict, c.Name)
		}
	}
	name := m.Name()
	for _, loaded := range s.modules {
		for _, c := range loaded.Descriptor().Conflicts {
			if c.Name == name && c.SatisfiedBy(desc.Version) {
				return fmt.Errorf("%w: %s conflicts with %s", ErrConflict, loaded.Name(), name)
			}
		}
	}
	return nil
}
