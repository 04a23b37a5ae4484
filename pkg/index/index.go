package index

import (
	"fmt"
	"sync"

	"github.com/graphkeep/triplestore/pkg/model"
)

// termRoleKey identifies one inverted list: a term acting in a given role.
type termRoleKey struct {
	term model.TermID
	role model.Role
}

// hashKey identifies the current live record for a logical statement,
// partitioned by explicit/inferred.
type hashKey struct {
	s, p, o, c model.TermID
	explicit   bool
}

// Index cross-references a List: four inverted lists per term/role and a
// hash index on (s,p,o,c,explicit) used to detect duplicate adds and
// locate the live record for removal.
//
// Inverted lists are allocated lazily on first use; the zero value of the
// backing slice is nil until appended to, an ordinary mutex-guarded map
// access rather than a lock-free publish, since contention here is
// dominated by the store-wide lock already held during mutation.
type Index struct {
	list *List

	mu      sync.RWMutex
	invert  map[termRoleKey][]int
	byHash  map[hashKey]int // statement index of the current live record
}

// NewIndex creates an index bound to list. The index does not own list's
// lifecycle; callers construct both together (see mvcc.Source).
func NewIndex(list *List) *Index {
	return &Index{
		list:   list,
		invert: make(map[termRoleKey][]int),
		byHash: make(map[hashKey]int),
	}
}

// Link records idx's statement under all four of its inverted lists. It
// must be called with the store's write lock held, in commit order,
// immediately after the record becomes visible: the inverted lists are
// append-only in commit order.
func (ix *Index) Link(idx int, s model.Statement) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.invert[termRoleKey{s.Subject, model.RoleSubject}] = append(ix.invert[termRoleKey{s.Subject, model.RoleSubject}], idx)
	ix.invert[termRoleKey{s.Predicate, model.RolePredicate}] = append(ix.invert[termRoleKey{s.Predicate, model.RolePredicate}], idx)
	ix.invert[termRoleKey{s.Object, model.RoleObject}] = append(ix.invert[termRoleKey{s.Object, model.RoleObject}], idx)
	ix.invert[termRoleKey{s.Context, model.RoleContext}] = append(ix.invert[termRoleKey{s.Context, model.RoleContext}], idx)
}

// hashKeyOf builds the dedup key for a statement.
func hashKeyOf(s model.Statement) hashKey {
	return hashKey{s.Subject, s.Predicate, s.Object, s.Context, s.Explicit}
}

// FindLive returns the statement-list index of the current live record
// for (s,p,o,c,explicit), if any.
func (ix *Index) FindLive(s model.Statement) (int, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	idx, ok := ix.byHash[hashKeyOf(s)]
	return idx, ok
}

// SetLive records idx as the current live record for its (s,p,o,c,explicit)
// key, called at flush time when a new record becomes visible.
func (ix *Index) SetLive(idx int, s model.Statement) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.byHash[hashKeyOf(s)] = idx
}

// ClearLive removes the live-record mapping for a statement that has just
// been tombstoned.
func (ix *Index) ClearLive(s model.Statement) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.byHash, hashKeyOf(s))
}

// driverList picks the smallest of the constrained inverted lists to use
// as the scan driver, filtering the remainder against it. ok is false
// when the pattern is fully unconstrained, in which case the caller falls
// back to the global list.
func (ix *Index) driverList(p model.Pattern) (candidates []int, ok bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var best []int
	found := false
	consider := func(term *model.TermID, role model.Role) {
		if term == nil {
			return
		}
		lst := ix.invert[termRoleKey{*term, role}]
		if !found || len(lst) < len(best) {
			best = lst
			found = true
		}
	}
	consider(p.Subject, model.RoleSubject)
	consider(p.Predicate, model.RolePredicate)
	consider(p.Object, model.RoleObject)
	consider(p.Context, model.RoleContext)
	if !found {
		return nil, false
	}
	// Copy out from under the lock; the driver list only grows (append-only
	// in commit order) so a snapshot copy never misses a visible entry
	// that existed when the scan started.
	out := make([]int, len(best))
	copy(out, best)
	return out, true
}

// Scan returns, via fn, every statement-list index satisfying pattern and
// visible at snapshot v, stopping early if fn returns false. Scan applies
// the statement's own visibility filter; it does not filter by explicit
// vs inferred, since that partitioning is done at the Source level (each
// partition has its own Index).
func (ix *Index) Scan(v uint64, p model.Pattern, fn func(idx int, s model.Statement) bool) {
	driver, ok := ix.driverList(p)
	if !ok {
		ix.list.IterateAt(v, func(idx int, s model.Statement) bool {
			if !p.Matches(&s) {
				return true
			}
			return fn(idx, s)
		})
		return
	}
	for _, idx := range driver {
		s, found := ix.list.At(idx)
		if !found {
			continue
		}
		if !s.VisibleAt(v) {
			continue
		}
		if !p.Matches(&s) {
			continue
		}
		if !fn(idx, s) {
			return
		}
	}
}

// Remap rewrites every inverted-list and hash-index entry that refers to
// an old statement-list index after a compaction; it is driven by the
// remap callback List.Compact invokes. Callers pass a *Index whose list
// was just compacted.
func (ix *Index) Remap(oldIdx, newIdx int, kept bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for key, lst := range ix.invert {
		changed := false
		out := lst[:0]
		for _, i := range lst {
			switch {
			case i == oldIdx && kept:
				out = append(out, newIdx)
				changed = true
			case i == oldIdx && !kept:
				changed = true
				// dropped
			default:
				out = append(out, i)
			}
		}
		if changed {
			cp := make([]int, len(out))
			copy(cp, out)
			ix.invert[key] = cp
		}
	}
	for key, i := range ix.byHash {
		if i == oldIdx {
			if kept {
				ix.byHash[key] = newIdx
			} else {
				delete(ix.byHash, key)
			}
		}
	}
}

// String renders a term-role key for debugging.
func (k termRoleKey) String() string {
	return fmt.Sprintf("term=%d role=%d", k.term, k.role)
}
