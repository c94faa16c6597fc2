package aggregation

import (
	"github.com/ntentasd/nostradamus-history/pkg/types"
)

// Arena holds the states of the groups owned by one worker. Exactly one
// goroutine may use an Arena.
type Arena struct {
	states map[string]*State
	dirty  map[string]struct{}
	// held groups have local updates but no snapshot loaded yet, they are
	// never reported dirty so a checkpoint cannot overwrite the snapshot
	held map[string]struct{}
}

func NewArena() *Arena {
	return &Arena{
		states: make(map[string]*State),
		dirty:  make(map[string]struct{}),
		held:   make(map[string]struct{}),
	}
}

// Lookup returns the state of group, if the arena has one.
func (a *Arena) Lookup(group string) (*State, bool) {
	s, ok := a.states[group]
	return s, ok
}

// Get returns the state of group, creating an empty one on first use.
func (a *Arena) Get(group string) *State {
	s, ok := a.states[group]
	if !ok {
		s = NewState()
		a.states[group] = s
	}
	return s
}

// Restore installs a previously persisted state for group and releases a
// hold on it. Children updated locally while the group was held keep their
// local value. A nil s only releases the hold.
func (a *Arena) Restore(group string, s *State) {
	delete(a.held, group)
	if s == nil {
		a.Get(group)
		return
	}
	if cur, ok := a.states[group]; ok {
		for child, v := range cur.children {
			s.children[child] = v
		}
	}
	a.states[group] = s
}

// Hold excludes group from checkpoints until it is restored.
func (a *Arena) Hold(group string) {
	a.held[group] = struct{}{}
}

func (a *Arena) Held(group string) bool {
	_, ok := a.held[group]
	return ok
}

// Apply sets child's value in group and returns the updated aggregate.
func (a *Arena) Apply(group string, r types.ActivePowerRecord) types.AggregatedActivePowerRecord {
	s := a.Get(group)
	s.Update(r.Identifier, r.ValueInW)
	a.dirty[group] = struct{}{}
	return s.Record(group, r.Timestamp)
}

func (a *Arena) Len() int {
	return len(a.states)
}

// Dirty returns the groups changed since the previous call and resets the
// dirty set. Held groups stay dirty and are not returned.
func (a *Arena) Dirty() []string {
	groups := make([]string, 0, len(a.dirty))
	for g := range a.dirty {
		if _, ok := a.held[g]; ok {
			continue
		}
		groups = append(groups, g)
		delete(a.dirty, g)
	}
	return groups
}

// MarkDirty flags group for the next checkpoint again, used when saving
// its snapshot failed.
func (a *Arena) MarkDirty(group string) {
	a.dirty[group] = struct{}{}
}
