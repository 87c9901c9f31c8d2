package domain

import (
	"sort"
	"time"
)

// Record is the flat persisted shape of an object: links are stored as ids.
// Links to unpersisted objects are omitted.
type Record struct {
	Class     string             `json:"class"`
	ID        int64              `json:"id"`
	VersionID int64              `json:"version_id,omitempty"`
	ParentID  int64              `json:"parent_id,omitempty"`
	Values    map[string]any     `json:"values,omitempty"`
	Refs      map[string]int64   `json:"refs,omitempty"`
	RefLists  map[string][]int64 `json:"ref_lists,omitempty"`
	Active    bool               `json:"active"`
}

// Record flattens the object into its persisted shape.
func (o *Object) Record() Record {
	r := Record{
		Class:  o.class.name,
		ID:     o.id,
		Active: true,
	}
	if o.version != nil {
		r.VersionID, _ = o.version.ID()
	}
	if o.parent != nil && o.parent.hasID {
		r.ParentID = o.parent.id
	}
	if len(o.values) > 0 {
		r.Values = cloneValues(o.values)
	}
	for name, target := range o.refs {
		if target == nil || !target.hasID {
			continue
		}
		if r.Refs == nil {
			r.Refs = make(map[string]int64)
		}
		r.Refs[name] = target.id
	}
	for name, targets := range o.lists {
		ids := IDs(targets)
		if len(ids) == 0 {
			continue
		}
		if r.RefLists == nil {
			r.RefLists = make(map[string][]int64)
		}
		r.RefLists[name] = ids
	}
	return r
}

// IDs returns the ids of the persisted objects in list, preserving order.
func IDs(list []*Object) []int64 {
	var ids []int64
	for _, o := range list {
		if o != nil && o.hasID {
			ids = append(ids, o.id)
		}
	}
	return ids
}

// Action names the write performed for one object in a commit.
type Action string

// Commit actions recorded in change sets.
const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change is one write performed by a commit.
type Change struct {
	Action Action   `json:"action"`
	Record Record   `json:"record"`
	Fields []string `json:"fields,omitempty"`
}

// ChangeSet summarises a successful commit.
type ChangeSet struct {
	TransactionID string    `json:"transaction_id"`
	Sequence      int       `json:"sequence"`
	CommittedAt   time.Time `json:"committed_at"`
	Attempts      int       `json:"attempts"`
	Changes       []Change  `json:"changes"`
}

// Count returns how many changes of the given action the set holds.
func (c ChangeSet) Count(action Action) int {
	n := 0
	for _, ch := range c.Changes {
		if ch.Action == action {
			n++
		}
	}
	return n
}

// Classes returns the sorted distinct class names touched by the set.
func (c ChangeSet) Classes() []string {
	seen := make(map[string]struct{})
	for _, ch := range c.Changes {
		seen[ch.Record.Class] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
