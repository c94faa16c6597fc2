// Package topology resolves the aggregation groups a device feeds into.
package topology

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("sensor not found")

// Lookup returns the ancestor group ids of a device, ordered from the
// immediate parent to the root.
type Lookup interface {
	AncestorsOf(identifier string) ([]string, error)
}

// Sensor is a node of the sensor tree as stored in the registry file.
// Nodes without children are machine sensors, all others are aggregated.
type Sensor struct {
	Identifier string   `yaml:"identifier" json:"identifier"`
	Name       string   `yaml:"name,omitempty" json:"name,omitempty"`
	Children   []Sensor `yaml:"children,omitempty" json:"children,omitempty"`
}

// Registry is an immutable index of a sensor tree.
type Registry struct {
	root      Sensor
	ancestors map[string][]string
}

var _ Lookup = (*Registry)(nil)

func New(root Sensor) (*Registry, error) {
	r := &Registry{
		root:      root,
		ancestors: make(map[string][]string),
	}
	seen := make(map[string]bool)
	if err := r.index(root, nil, seen); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) index(s Sensor, path []string, seen map[string]bool) error {
	if s.Identifier == "" {
		return fmt.Errorf("sensor without identifier below %v", path)
	}
	if seen[s.Identifier] {
		return fmt.Errorf("duplicate sensor identifier %q", s.Identifier)
	}
	seen[s.Identifier] = true

	if len(s.Children) == 0 {
		// path is root first, ancestors are parent first
		ancestors := make([]string, len(path))
		for i, id := range path {
			ancestors[len(path)-1-i] = id
		}
		r.ancestors[s.Identifier] = ancestors
		return nil
	}

	next := append(path[:len(path):len(path)], s.Identifier)
	for _, c := range s.Children {
		if err := r.index(c, next, seen); err != nil {
			return err
		}
	}
	return nil
}

// Parse reads a sensor tree in YAML (or JSON) form.
func Parse(raw []byte) (*Registry, error) {
	var root Sensor
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("invalid sensor registry: %w", err)
	}
	return New(root)
}

func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func (r *Registry) AncestorsOf(identifier string) ([]string, error) {
	a, ok := r.ancestors[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, identifier)
	}
	return a, nil
}

func (r *Registry) Root() Sensor {
	return r.root
}

// MachineSensors returns the number of leaf sensors.
func (r *Registry) MachineSensors() int {
	return len(r.ancestors)
}

// Proxy forwards lookups to a registry that can be replaced at runtime.
// Lookups before the first Set fail with ErrNotFound.
type Proxy struct {
	backing atomic.Pointer[Registry]
}

var _ Lookup = (*Proxy)(nil)

func (p *Proxy) Set(r *Registry) {
	p.backing.Store(r)
}

func (p *Proxy) AncestorsOf(identifier string) ([]string, error) {
	r := p.backing.Load()
	if r == nil {
		return nil, fmt.Errorf("%w: %s (no registry loaded)", ErrNotFound, identifier)
	}
	return r.AncestorsOf(identifier)
}
