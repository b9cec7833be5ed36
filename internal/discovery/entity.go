package discovery

import "sort"

// Kind classifies a node in the discovery hierarchy.
type Kind int

const (
	KindDirectory Kind = iota
	KindFile
	KindGroup
	KindCase
)

// String returns the string representation of a kind
func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	case KindGroup:
		return "group"
	case KindCase:
		return "case"
	default:
		return "unknown"
	}
}

// Structural reports whether the kind is a container (directory/file) as
// opposed to a runnable leaf kind (group/case).
func (k Kind) Structural() bool {
	return k == KindDirectory || k == KindFile
}

// Location points at the source of an entity.
type Location struct {
	File string // path relative to the project root
	Line int    // 1-based declaration line
}

// Entity is a node in the discovery hierarchy. Entities are built once per
// scan and never mutated afterwards; re-discovery replaces whole file
// subtrees.
type Entity struct {
	Name        string
	Kind        Kind
	CanonicalID string
	Location    *Location
	Children    []*Entity
}

// IsLeaf returns true if the entity has no children.
func (e *Entity) IsLeaf() bool {
	return len(e.Children) == 0
}

// Find returns the descendant (or e itself) with the given canonical id.
func (e *Entity) Find(id string) *Entity {
	if e.CanonicalID == id {
		return e
	}
	for _, c := range e.Children {
		if found := c.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Walk invokes fn for e and every descendant, depth first.
func (e *Entity) Walk(fn func(*Entity)) {
	fn(e)
	for _, c := range e.Children {
		c.Walk(fn)
	}
}

// sortChildren orders children for presentation: structural kinds before
// leaf kinds, then lexically by name. Execution order never depends on this.
func sortChildren(children []*Entity) {
	sort.SliceStable(children, func(i, j int) bool {
		si, sj := children[i].Kind.Structural(), children[j].Kind.Structural()
		if si != sj {
			return si
		}
		return children[i].Name < children[j].Name
	})
}
