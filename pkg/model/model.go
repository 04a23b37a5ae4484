// Package model defines the term and statement data model shared by every
// layer of the triple store: the term dictionary, the statement index, the
// MVCC engine, and the persistence format all operate on the types here.
package model

import "fmt"

// TermID is the stable identity assigned to an interned term. Once a term
// is interned its TermID never changes for the lifetime of the store.
type TermID uint64

// NoTerm is the zero TermID; no interned term ever carries it.
const NoTerm TermID = 0

// NoContext is the distinguished TermID representing the default graph
// (the "null context").
const NoContext TermID = 0

// TermKind distinguishes the variants of the term tagged union.
type TermKind uint8

const (
	// KindIRI is an internationalised resource identifier.
	KindIRI TermKind = iota + 1
	// KindBlank is a locally scoped anonymous identifier.
	KindBlank
	// KindLiteral is a lexical value with optional language tag or datatype.
	KindLiteral
)

func (k TermKind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "blank"
	case KindLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// RDFLangString is the datatype IRI that must pair with a language tag;
// every other datatype is mutually exclusive with a language tag.
const RDFLangString = "http://www.w3.org/1999/02/22-rdf-syntax-ns#langString"

// Term is the canonical, in-memory form of an interned term. Terms are
// compared and deduplicated by their canonical key (see Key), never by
// pointer identity alone, though the term store does guarantee one
// instance per equivalence class.
type Term struct {
	ID   TermID
	Kind TermKind

	// IRI fields. Namespace is interned separately so that IRIs sharing
	// a namespace share the same backing string; namespaces are
	// themselves interned, giving structural sharing across IRIs.
	Namespace string
	Local     string

	// Blank node field.
	BlankLabel string

	// Literal fields.
	Lexical  string
	Lang     string // normalised to lowercase; empty if absent
	Datatype TermID // TermID of the datatype IRI term; NoTerm if absent
}

// IRI returns the full IRI string for a KindIRI term (namespace + local).
func (t *Term) IRI() string {
	return t.Namespace + t.Local
}

// Key returns the canonical equality key for a term: two terms are the
// same equivalence class iff their canonical forms are byte-equal.
func (t *Term) Key() string {
	switch t.Kind {
	case KindIRI:
		return "I\x00" + t.Namespace + t.Local
	case KindBlank:
		return "B\x00" + t.BlankLabel
	case KindLiteral:
		return fmt.Sprintf("L\x00%s\x00%s\x00%d", t.Lexical, t.Lang, t.Datatype)
	default:
		return ""
	}
}

func (t *Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.IRI() + ">"
	case KindBlank:
		return "_:" + t.BlankLabel
	case KindLiteral:
		if t.Lang != "" {
			return fmt.Sprintf("%q@%s", t.Lexical, t.Lang)
		}
		if t.Datatype != NoTerm {
			return fmt.Sprintf("%q^^#%d", t.Lexical, t.Datatype)
		}
		return fmt.Sprintf("%q", t.Lexical)
	default:
		return "<invalid term>"
	}
}

// Role identifies one of the four roles a term can occupy in a statement;
// the statement index keeps one inverted list per term per role.
type Role uint8

const (
	RoleSubject Role = iota
	RolePredicate
	RoleObject
	RoleContext
	roleCount
)

// TxState tags the transient visibility of a statement record.
type TxState uint8

const (
	// Committed records are visible subject to their added_at/removed_at
	// bounds.
	Committed TxState = iota
	// PendingAdd records belong to an uncommitted sink and are never
	// visible to other readers.
	PendingAdd
	// PendingRemove records are committed but reserved for removal by
	// an in-flight sink; still visible until that sink flushes.
	PendingRemove
)

// Statement is the 4-tuple of term identities plus the MVCC bookkeeping
// fields. Context == NoContext denotes the default graph.
type Statement struct {
	Subject   TermID
	Predicate TermID
	Object    TermID
	Context   TermID

	AddedAt   uint64 // snapshot version at which this became visible (>=1)
	RemovedAt uint64 // snapshot version at which this ceased to be visible (0 = still live)

	Explicit bool // asserted (true) vs inferred (false)
	TxState  TxState
	TxID     uint64 // owning transaction, meaningful only while TxState != Committed
}

// VisibleAt reports whether the statement is visible to a reader pinned at
// snapshot v.
func (s *Statement) VisibleAt(v uint64) bool {
	if s.TxState != Committed {
		return false
	}
	if s.AddedAt == 0 || s.AddedAt > v {
		return false
	}
	if s.RemovedAt != 0 && s.RemovedAt <= v {
		return false
	}
	return true
}

// Pattern constrains zero or more positions of a statement scan. A nil
// pointer means "unconstrained" for that position.
type Pattern struct {
	Subject   *TermID
	Predicate *TermID
	Object    *TermID
	Context   *TermID
}

// Matches reports whether the statement satisfies every constrained
// position of the pattern. It does not apply the visibility filter; callers
// combine Matches with Statement.VisibleAt.
func (p Pattern) Matches(s *Statement) bool {
	if p.Subject != nil && *p.Subject != s.Subject {
		return false
	}
	if p.Predicate != nil && *p.Predicate != s.Predicate {
		return false
	}
	if p.Object != nil && *p.Object != s.Object {
		return false
	}
	if p.Context != nil && *p.Context != s.Context {
		return false
	}
	return true
}

// IsolationLevel is the consistency level a caller requests for a Dataset
// or Sink.
type IsolationLevel string

const (
	// None takes no transactional lock; reads may observe concurrent
	// writes mid-flight.
	None IsolationLevel = "NONE"
	// ReadCommitted takes a read lock for the dataset's duration.
	ReadCommitted IsolationLevel = "READ_COMMITTED"
	// SnapshotRead takes a read lock and pins a snapshot.
	SnapshotRead IsolationLevel = "SNAPSHOT_READ"
	// Snapshot takes a read lock and pins a snapshot (write side:
	// staged changes validate against the pinned snapshot at prepare).
	Snapshot IsolationLevel = "SNAPSHOT"
	// Serializable takes the store-wide write lock at prepare and holds
	// it through commit or rollback.
	Serializable IsolationLevel = "SERIALIZABLE"
)

// AllIsolationLevels is the full set of isolation levels a store may offer.
var AllIsolationLevels = []IsolationLevel{None, ReadCommitted, SnapshotRead, Snapshot, Serializable}
