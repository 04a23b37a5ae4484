// Package term implements the term dictionary: it deduplicates and
// canonicalises IRIs, blank nodes, and literals, assigning each
// equivalence class a single stable TermID for the store's lifetime.
package term

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/graphkeep/triplestore/pkg/tserr"
)

// Store is the term dictionary. Lookups may proceed concurrently;
// insertion (the first occurrence of a term) takes the store's own
// mutex. The caller's Lock Manager additionally serialises insertion
// against statement-index mutation at a coarser grain, but Store is safe
// to use standalone.
type Store struct {
	mu      sync.RWMutex
	byKey   map[string]*model.Term
	byID    map[model.TermID]*model.Term
	nextID  model.TermID
	blankFn func() string
}

// New creates an empty term store.
func New() *Store {
	return &Store{
		byKey:   make(map[string]*model.Term),
		byID:    make(map[model.TermID]*model.Term),
		nextID:  model.NoTerm + 1,
		blankFn: func() string { return "b" + uuid.NewString() },
	}
}

// SetBlankLabelFactory overrides the label factory used by
// InternBlankAuto; tests use this for deterministic labels.
func (s *Store) SetBlankLabelFactory(fn func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blankFn = fn
}

// lookup returns the TermID of an already-interned term matching key,
// without creating one.
func (s *Store) lookup(key string) (model.TermID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.byKey[key]; ok {
		return t.ID, true
	}
	return model.NoTerm, false
}

// intern inserts build() under the write lock unless key is already
// present, in which case the existing TermID is returned. build is only
// invoked while holding the write lock, so it must not itself call back
// into the store.
func (s *Store) intern(key string, build func(id model.TermID) *model.Term) model.TermID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byKey[key]; ok {
		return t.ID
	}
	id := s.nextID
	s.nextID++
	t := build(id)
	s.byKey[key] = t
	s.byID[id] = t
	return id
}

// InternIRI returns the identity of the canonical IRI term, interning it
// if absent. namespace and local are stored separately so that IRIs
// sharing a namespace share the same backing string; callers that only
// have a whole IRI string should split it with a stable boundary (see
// SplitIRI) before calling this, or use InternIRIString.
func (s *Store) InternIRI(namespace, local string) (model.TermID, error) {
	if namespace == "" && local == "" {
		return model.NoTerm, tserr.New(tserr.InvalidTerm, "IRI must not be empty")
	}
	key := "I\x00" + namespace + local
	id := s.intern(key, func(id model.TermID) *model.Term {
		return &model.Term{ID: id, Kind: model.KindIRI, Namespace: namespace, Local: local}
	})
	return id, nil
}

// InternIRIString splits a full IRI at a stable boundary (the last '#' or
// '/') so that namespaces with a shared prefix intern to the same
// namespace string, then interns it. An IRI supplied whole by an external
// caller that does not respect this boundary still compares correctly:
// equality is defined on namespace+local concatenated, not on the split
// itself.
func (s *Store) InternIRIString(iri string) (model.TermID, error) {
	if iri == "" {
		return model.NoTerm, tserr.New(tserr.InvalidTerm, "IRI must not be empty")
	}
	ns, local := SplitIRI(iri)
	return s.InternIRI(ns, local)
}

// SplitIRI splits iri at the last '#' (if present) or the last '/',
// keeping the delimiter with the namespace half.
func SplitIRI(iri string) (namespace, local string) {
	if i := strings.LastIndexByte(iri, '#'); i >= 0 {
		return iri[:i+1], iri[i+1:]
	}
	if i := strings.LastIndexByte(iri, '/'); i >= 0 {
		return iri[:i+1], iri[i+1:]
	}
	return "", iri
}

// InternBlank interns a blank node by its externally supplied label.
func (s *Store) InternBlank(label string) (model.TermID, error) {
	if label == "" {
		return model.NoTerm, tserr.New(tserr.InvalidTerm, "blank node label must not be empty")
	}
	key := "B\x00" + label
	id := s.intern(key, func(id model.TermID) *model.Term {
		return &model.Term{ID: id, Kind: model.KindBlank, BlankLabel: label}
	})
	return id, nil
}

// InternBlankAuto generates a fresh, unique label via the store's blank
// label factory and interns it. Collisions are vanishingly unlikely (the
// factory uses a v4 UUID) but are retried defensively.
func (s *Store) InternBlankAuto() (model.TermID, error) {
	for i := 0; i < 8; i++ {
		s.mu.RLock()
		label := s.blankFn()
		_, exists := s.byKey["B\x00"+label]
		s.mu.RUnlock()
		if !exists {
			return s.InternBlank(label)
		}
	}
	return s.InternBlank(s.blankFn())
}

// InternLiteral canonicalises by (lex, lang normalised to lowercase,
// datatype). lang and datatype are mutually exclusive except for
// rdf:langString, which must pair with a non-empty lang.
func (s *Store) InternLiteral(lex, lang, datatypeIRI string) (model.TermID, error) {
	lang = strings.ToLower(lang)

	var datatypeID model.TermID
	if datatypeIRI != "" {
		if lang != "" && datatypeIRI != model.RDFLangString {
			return model.NoTerm, tserr.New(tserr.InvalidTerm,
				"literal has both a language tag and a non-langString datatype %q", datatypeIRI)
		}
		if lang == "" && datatypeIRI == model.RDFLangString {
			return model.NoTerm, tserr.New(tserr.InvalidTerm,
				"rdf:langString datatype requires a non-empty language tag")
		}
		id, err := s.InternIRIString(datatypeIRI)
		if err != nil {
			return model.NoTerm, err
		}
		datatypeID = id
	} else if lang != "" {
		// lang with no explicit datatype defaults to rdf:langString.
		id, err := s.InternIRIString(model.RDFLangString)
		if err != nil {
			return model.NoTerm, err
		}
		datatypeID = id
	}

	key := keyLiteral(lex, lang, datatypeID)
	id := s.intern(key, func(id model.TermID) *model.Term {
		return &model.Term{ID: id, Kind: model.KindLiteral, Lexical: lex, Lang: lang, Datatype: datatypeID}
	})
	return id, nil
}

func keyLiteral(lex, lang string, datatype model.TermID) string {
	var b strings.Builder
	b.WriteString("L\x00")
	b.WriteString(lex)
	b.WriteByte(0)
	b.WriteString(lang)
	b.WriteByte(0)
	writeUint(&b, uint64(datatype))
	return b.String()
}

func writeUint(b *strings.Builder, v uint64) {
	if v == 0 {
		b.WriteByte('0')
		return
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	b.Write(buf[i:])
}

// Lookup performs a non-creating lookup of an IRI.
func (s *Store) Lookup(namespace, local string) (model.TermID, bool) {
	return s.lookup("I\x00" + namespace + local)
}

// LookupBlank performs a non-creating lookup of a blank node by label.
func (s *Store) LookupBlank(label string) (model.TermID, bool) {
	return s.lookup("B\x00" + label)
}

// Resolve returns the Term for id, or nil if unknown.
func (s *Store) Resolve(id model.TermID) *model.Term {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// Len returns the number of distinct interned terms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Each calls fn for every interned term in unspecified order. fn must not
// call back into the store.
func (s *Store) Each(fn func(*model.Term)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.byID {
		fn(t)
	}
}

// Restore re-inserts a term with a caller-supplied ID, for use by the
// persistence engine's recovery replay. It bypasses nextID bookkeeping
// except to keep nextID ahead of every restored ID.
func (s *Store) Restore(t *model.Term) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[t.ID] = t
	s.byKey[t.Key()] = t
	if t.ID >= s.nextID {
		s.nextID = t.ID + 1
	}
}
