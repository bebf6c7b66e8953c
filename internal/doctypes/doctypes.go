// Package doctypes maps the free-form document type labels shown by
// coordination portals onto the stable type catalog used by the local
// document store.
package doctypes

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/normalize"
)

// TypeDef describes one catalog document type and the portal labels
// that refer to it.
type TypeDef struct {
	ID      string      `yaml:"id"`
	Name    string      `yaml:"name"`
	Scope   model.Scope `yaml:"scope"`
	Aliases []string    `yaml:"aliases"`
}

// Registry resolves portal labels to type IDs. Lookups are over
// normalized text, so case, accents, and punctuation never matter.
type Registry struct {
	types   []TypeDef
	byID    map[string]TypeDef
	byAlias map[string]string
}

// NewRegistry builds a registry from type definitions. Later aliases
// win over earlier duplicates.
func NewRegistry(types []TypeDef) (*Registry, error) {
	r := &Registry{
		types:   types,
		byID:    make(map[string]TypeDef, len(types)),
		byAlias: make(map[string]string),
	}
	for _, td := range types {
		if td.ID == "" {
			return nil, eris.New("doctypes: type with empty id")
		}
		if !td.Scope.Valid() {
			return nil, eris.Errorf("doctypes: type %s has invalid scope %q", td.ID, td.Scope)
		}
		if _, dup := r.byID[td.ID]; dup {
			return nil, eris.Errorf("doctypes: duplicate type id %s", td.ID)
		}
		r.byID[td.ID] = td
		for _, alias := range append([]string{td.Name}, td.Aliases...) {
			key := normalize.Normalize(alias)
			if key == "" {
				continue
			}
			r.byAlias[key] = td.ID
		}
	}
	return r, nil
}

// Load reads type definitions from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "doctypes: read %s", path)
	}
	var wrapper struct {
		Types []TypeDef `yaml:"types"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "doctypes: parse types file")
	}
	if len(wrapper.Types) == 0 {
		return nil, eris.Errorf("doctypes: no types defined in %s", path)
	}
	return NewRegistry(wrapper.Types)
}

// Get returns the definition for a type ID.
func (r *Registry) Get(id string) (TypeDef, bool) {
	td, ok := r.byID[id]
	return td, ok
}

// IDs returns all known type IDs, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Types returns the definitions in registration order.
func (r *Registry) Types() []TypeDef {
	out := make([]TypeDef, len(r.types))
	copy(out, r.types)
	return out
}

// containsAlias reports whether the normalized label contains the alias
// on word boundaries, so "rnt" matches "rnt julio" but not "barnton".
func containsAlias(label, alias string) bool {
	return strings.Contains(" "+label+" ", " "+alias+" ")
}

// Resolve maps a portal label to the type IDs it may refer to. An exact
// normalized alias hit wins; otherwise aliases contained in the label
// are collected, longest first, so "rnt relacion nominal julio" still
// resolves. An empty result means the label is unknown.
func (r *Registry) Resolve(label string) []string {
	key := normalize.Normalize(label)
	if key == "" {
		return nil
	}
	if id, ok := r.byAlias[key]; ok {
		return []string{id}
	}

	type hit struct {
		alias string
		id    string
	}
	var hits []hit
	for alias, id := range r.byAlias {
		if containsAlias(key, alias) {
			hits = append(hits, hit{alias: alias, id: id})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if len(hits[i].alias) != len(hits[j].alias) {
			return len(hits[i].alias) > len(hits[j].alias)
		}
		return hits[i].alias < hits[j].alias
	})

	var ids []string
	seen := make(map[string]struct{})
	for _, h := range hits {
		if _, dup := seen[h.id]; dup {
			continue
		}
		seen[h.id] = struct{}{}
		ids = append(ids, h.id)
	}
	return ids
}

// ResolveScoped restricts Resolve to types of the given scope.
func (r *Registry) ResolveScoped(label string, scope model.Scope) []string {
	var ids []string
	for _, id := range r.Resolve(label) {
		if td, ok := r.byID[id]; ok && td.Scope == scope {
			ids = append(ids, id)
		}
	}
	return ids
}
