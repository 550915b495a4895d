package authz

import (
	"sort"
	"strings"
)

// Role names a privilege tier.
type Role string

// Permission names an atomic capability, conventionally "resource.action".
type Permission string

// InheritanceMode describes how the Inherits table of a CatalogSpec is written.
type InheritanceMode string

const (
	// InheritanceDirect lists only direct parents; ancestry is derived.
	InheritanceDirect InheritanceMode = "direct"
	// InheritanceFlattened lists every ancestor of a role explicitly.
	InheritanceFlattened InheritanceMode = "flattened"
)

// CatalogSpec is the raw role/permission table as supplied by configuration.
type CatalogSpec struct {
	Inheritance  InheritanceMode       `yaml:"inheritance" json:"inheritance"`
	TopRole      Role                  `yaml:"top_role" json:"top_role"`
	AdminRole    Role                  `yaml:"admin_role" json:"admin_role"`
	Ranks        map[Role]int          `yaml:"ranks" json:"ranks"`
	Permissions  map[Role][]Permission `yaml:"permissions" json:"permissions"`
	Inherits     map[Role][]Role       `yaml:"inherits" json:"inherits"`
	Descriptions map[Role]string       `yaml:"descriptions,omitempty" json:"descriptions,omitempty"`
}

// Catalog is the validated, immutable form of a CatalogSpec. Ancestry and
// effective permission sets are computed once in NewCatalog.
type Catalog struct {
	mode         InheritanceMode
	top          Role
	admin        Role
	ranks        map[Role]int
	base         map[Role][]Permission
	declared     map[Role][]Role
	ancestors    map[Role][]Role
	effective    map[Role]map[Permission]struct{}
	sorted       map[Role][]Permission
	byRank       []Role
	drift        []Role
	descriptions map[Role]string
}

// NewCatalog validates spec and builds a Catalog. Any structural problem is
// reported as a *ConfigurationError listing every problem found.
func NewCatalog(spec CatalogSpec) (*Catalog, error) {
	cfgErr := &ConfigurationError{}

	mode := spec.Inheritance
	switch mode {
	case "":
		mode = InheritanceDirect
	case InheritanceDirect, InheritanceFlattened:
	default:
		cfgErr.add("unknown inheritance mode %q", mode)
	}

	ranks := make(map[Role]int, len(spec.Ranks))
	seenRank := make(map[int]Role, len(spec.Ranks))
	for _, role := range sortedRoleKeys(spec.Ranks) {
		rank := spec.Ranks[role]
		if strings.TrimSpace(string(role)) == "" {
			cfgErr.add("blank role name")
			continue
		}
		if rank <= 0 {
			cfgErr.add("role %q has non-positive rank %d", role, rank)
			continue
		}
		if other, dup := seenRank[rank]; dup {
			cfgErr.add("roles %q and %q share rank %d", other, role, rank)
			continue
		}
		seenRank[rank] = role
		ranks[role] = rank
	}

	base := make(map[Role][]Permission, len(spec.Permissions))
	for _, role := range sortedRoleKeys(spec.Permissions) {
		if _, ok := spec.Ranks[role]; !ok {
			cfgErr.add("permissions declared for unranked role %q", role)
			continue
		}
		perms := make(map[Permission]struct{}, len(spec.Permissions[role]))
		for _, p := range spec.Permissions[role] {
			if strings.TrimSpace(string(p)) == "" {
				cfgErr.add("role %q lists a blank permission", role)
				continue
			}
			perms[p] = struct{}{}
		}
		base[role] = sortedPermissions(perms)
	}

	declared := make(map[Role][]Role, len(spec.Inherits))
	for _, role := range sortedRoleKeys(spec.Inherits) {
		rank, ok := spec.Ranks[role]
		if !ok {
			cfgErr.add("inheritance declared for unranked role %q", role)
			continue
		}
		parents := make([]Role, 0, len(spec.Inherits[role]))
		seen := make(map[Role]struct{}, len(spec.Inherits[role]))
		for _, parent := range spec.Inherits[role] {
			if _, dup := seen[parent]; dup {
				continue
			}
			seen[parent] = struct{}{}
			parentRank, ok := spec.Ranks[parent]
			if !ok {
				cfgErr.add("role %q inherits from unranked role %q", role, parent)
				continue
			}
			if parent == role {
				cfgErr.add("role %q inherits from itself", role)
				continue
			}
			if parentRank >= rank {
				cfgErr.add("role %q (rank %d) inherits from %q of equal or higher rank %d", role, rank, parent, parentRank)
			}
			parents = append(parents, parent)
		}
		declared[role] = parents
	}

	for _, cycle := range findCycles(declared) {
		cfgErr.add("inheritance cycle: %s", joinRoles(cycle, " -> "))
	}

	for _, sentinel := range []struct {
		name string
		role Role
	}{{"top role", spec.TopRole}, {"admin role", spec.AdminRole}} {
		if sentinel.role == "" {
			continue
		}
		if _, ok := ranks[sentinel.role]; !ok {
			cfgErr.add("%s %q is not ranked", sentinel.name, sentinel.role)
		}
	}

	if !cfgErr.empty() {
		return nil, cfgErr
	}

	c := &Catalog{
		mode:         mode,
		top:          spec.TopRole,
		admin:        spec.AdminRole,
		ranks:        ranks,
		base:         base,
		declared:     declared,
		ancestors:    make(map[Role][]Role, len(ranks)),
		effective:    make(map[Role]map[Permission]struct{}, len(ranks)),
		sorted:       make(map[Role][]Permission, len(ranks)),
		descriptions: make(map[Role]string, len(spec.Descriptions)),
	}
	for role, desc := range spec.Descriptions {
		if _, ok := ranks[role]; ok {
			c.descriptions[role] = desc
		}
	}

	c.byRank = make([]Role, 0, len(ranks))
	for role := range ranks {
		c.byRank = append(c.byRank, role)
	}
	sort.Slice(c.byRank, func(i, j int) bool { return ranks[c.byRank[i]] < ranks[c.byRank[j]] })

	for _, role := range c.byRank {
		closure := closureOf(role, declared)
		c.ancestors[role] = c.orderByRank(closure)

		perms := make(map[Permission]struct{})
		for _, p := range base[role] {
			perms[p] = struct{}{}
		}
		for ancestor := range closure {
			for _, p := range base[ancestor] {
				perms[p] = struct{}{}
			}
		}
		c.effective[role] = perms
		c.sorted[role] = sortedPermissions(perms)

		if mode == InheritanceFlattened && len(closure) != len(declared[role]) {
			c.drift = append(c.drift, role)
		}
	}

	return c, nil
}

// Mode reports how the source inheritance table was written.
func (c *Catalog) Mode() InheritanceMode { return c.mode }

// TopRole returns the role that may assign any role, or "" when unset.
func (c *Catalog) TopRole() Role { return c.top }

// AdminRole returns the role that may assign anything but TopRole, or "" when unset.
func (c *Catalog) AdminRole() Role { return c.admin }

// Has reports whether role is part of the catalog.
func (c *Catalog) Has(role Role) bool {
	_, ok := c.ranks[role]
	return ok
}

// Rank returns the rank of role and whether the role is known.
func (c *Catalog) Rank(role Role) (int, bool) {
	rank, ok := c.ranks[role]
	return rank, ok
}

// Roles returns every role ordered from least to most privileged.
func (c *Catalog) Roles() []Role {
	out := make([]Role, len(c.byRank))
	copy(out, c.byRank)
	return out
}

// BasePermissions returns the permissions granted directly to role.
func (c *Catalog) BasePermissions(role Role) []Permission {
	return clonePermissions(c.base[role])
}

// Ancestors returns every role whose permissions role inherits, ordered by rank.
func (c *Catalog) Ancestors(role Role) []Role {
	ancestors := c.ancestors[role]
	out := make([]Role, len(ancestors))
	copy(out, ancestors)
	return out
}

// Description returns the human readable description for role.
func (c *Catalog) Description(role Role) string {
	return c.descriptions[role]
}

// Permissions lists every permission granted by any role.
func (c *Catalog) Permissions() []Permission {
	all := make(map[Permission]struct{})
	for _, perms := range c.base {
		for _, p := range perms {
			all[p] = struct{}{}
		}
	}
	return sortedPermissions(all)
}

// Drift lists roles whose flattened inheritance list omitted part of their
// transitive ancestry. Always empty for direct-mode catalogs.
func (c *Catalog) Drift() []Role {
	out := make([]Role, len(c.drift))
	copy(out, c.drift)
	return out
}

// Spec rebuilds a CatalogSpec equivalent to the catalog, with inheritance
// written as declared.
func (c *Catalog) Spec() CatalogSpec {
	spec := CatalogSpec{
		Inheritance:  c.mode,
		TopRole:      c.top,
		AdminRole:    c.admin,
		Ranks:        make(map[Role]int, len(c.ranks)),
		Permissions:  make(map[Role][]Permission, len(c.base)),
		Inherits:     make(map[Role][]Role, len(c.declared)),
		Descriptions: make(map[Role]string, len(c.descriptions)),
	}
	for role, rank := range c.ranks {
		spec.Ranks[role] = rank
	}
	for role, perms := range c.base {
		spec.Permissions[role] = clonePermissions(perms)
	}
	for role, parents := range c.declared {
		spec.Inherits[role] = append([]Role(nil), parents...)
	}
	for role, desc := range c.descriptions {
		spec.Descriptions[role] = desc
	}
	return spec
}

func (c *Catalog) orderByRank(set map[Role]struct{}) []Role {
	out := make([]Role, 0, len(set))
	for role := range set {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return c.ranks[out[i]] < c.ranks[out[j]] })
	return out
}

// closureOf walks parents depth-first. Callers guarantee the graph is acyclic.
func closureOf(role Role, parents map[Role][]Role) map[Role]struct{} {
	seen := make(map[Role]struct{})
	stack := append([]Role(nil), parents[role]...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		stack = append(stack, parents[next]...)
	}
	return seen
}

// findCycles returns one representative path per inheritance cycle.
func findCycles(parents map[Role][]Role) [][]Role {
	const (
		white = iota
		grey
		black
	)
	color := make(map[Role]int, len(parents))
	var cycles [][]Role
	var path []Role

	var visit func(Role)
	visit = func(role Role) {
		color[role] = grey
		path = append(path, role)
		for _, parent := range parents[role] {
			switch color[parent] {
			case white:
				visit(parent)
			case grey:
				start := 0
				for i, r := range path {
					if r == parent {
						start = i
						break
					}
				}
				cycle := append(append([]Role(nil), path[start:]...), parent)
				cycles = append(cycles, cycle)
			}
		}
		path = path[:len(path)-1]
		color[role] = black
	}

	for _, role := range sortedRoleKeys(parents) {
		if color[role] == white {
			visit(role)
		}
	}
	return cycles
}

func sortedRoleKeys[V any](m map[Role]V) []Role {
	keys := make([]Role, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedPermissions(set map[Permission]struct{}) []Permission {
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func clonePermissions(perms []Permission) []Permission {
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

func joinRoles(roles []Role, sep string) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, sep)
}
