package persist

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/graphkeep/triplestore/pkg/tserr"
)

// magic identifies a data file produced by this package; version allows the
// tagged-record layout to evolve without breaking recovery of older files.
var magic = [4]byte{'T', 'S', 'D', 'B'}

const formatVersion = 1

// tag identifies the kind of record that follows in the tagged stream.
type tag byte

const (
	tagNamespace tag = iota + 1
	tagURI
	tagBNode
	tagLiteral
	tagStatement
	tagEOF
)

// writeHeader writes the file magic and format version.
func writeHeader(w io.Writer) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	return writeByte(w, formatVersion)
}

// readHeader validates the file magic and format version, returning
// PersistenceIO if either is wrong.
func readHeader(r io.Reader) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return tserr.Wrap(tserr.PersistenceIO, err, "read file magic")
	}
	if buf != magic {
		return tserr.New(tserr.PersistenceIO, "not a triplestore data file")
	}
	v, err := readByte(r)
	if err != nil {
		return tserr.Wrap(tserr.PersistenceIO, err, "read format version")
	}
	if v != formatVersion {
		return tserr.New(tserr.PersistenceIO, "unsupported data file version %d", v)
	}
	return nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func writeUvarint(w *bufio.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func readUvarint(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func writeString(w *bufio.Writer, s string) error {
	if err := writeUvarint(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func readString(r *bufio.Reader) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// namespaceTable interns namespace strings to small sequential ids so that
// URI records reference a namespace-id rather than repeating the string,
// split into a NAMESPACE(id, string) record and a URI(id, ns-id, local)
// record that references it.
type namespaceTable struct {
	ids  map[string]uint64
	next uint64
}

func newNamespaceTable() *namespaceTable {
	return &namespaceTable{ids: make(map[string]uint64)}
}

// intern returns ns's id, writing a fresh NAMESPACE record the first time
// a namespace is seen.
func (nt *namespaceTable) intern(w *bufio.Writer, ns string) (uint64, error) {
	if id, ok := nt.ids[ns]; ok {
		return id, nil
	}
	id := nt.next
	nt.next++
	nt.ids[ns] = id
	if err := writeByte(w, byte(tagNamespace)); err != nil {
		return 0, err
	}
	if err := writeUvarint(w, id); err != nil {
		return 0, err
	}
	if err := writeString(w, ns); err != nil {
		return 0, err
	}
	return id, nil
}

// writeTerm appends one term record, tagged by its kind, interning its
// namespace into nt first if it is an IRI. Datatype IDs on literals are
// written as plain term-id references and restored verbatim at load time,
// together with every term's own ID, so the order in which term records
// appear in the file does not matter.
func writeTerm(w *bufio.Writer, nt *namespaceTable, t *model.Term) error {
	switch t.Kind {
	case model.KindIRI:
		nsID, err := nt.intern(w, t.Namespace)
		if err != nil {
			return err
		}
		if err := writeByte(w, byte(tagURI)); err != nil {
			return err
		}
		if err := writeUvarint(w, uint64(t.ID)); err != nil {
			return err
		}
		if err := writeUvarint(w, nsID); err != nil {
			return err
		}
		return writeString(w, t.Local)
	case model.KindBlank:
		if err := writeByte(w, byte(tagBNode)); err != nil {
			return err
		}
		if err := writeUvarint(w, uint64(t.ID)); err != nil {
			return err
		}
		return writeString(w, t.BlankLabel)
	case model.KindLiteral:
		if err := writeByte(w, byte(tagLiteral)); err != nil {
			return err
		}
		if err := writeUvarint(w, uint64(t.ID)); err != nil {
			return err
		}
		if err := writeString(w, t.Lexical); err != nil {
			return err
		}
		if err := writeString(w, t.Lang); err != nil {
			return err
		}
		return writeUvarint(w, uint64(t.Datatype))
	default:
		return tserr.New(tserr.PersistenceIO, "term %d has unknown kind %d", t.ID, t.Kind)
	}
}

// readTerm reads one term record given its tag, already consumed by the
// caller's dispatch loop. namespaces maps namespace-id to string, populated
// by the caller as it encounters NAMESPACE records.
func readTerm(r *bufio.Reader, tg tag, namespaces map[uint64]string) (*model.Term, error) {
	id, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	switch tg {
	case tagURI:
		nsID, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		ns, ok := namespaces[nsID]
		if !ok {
			return nil, tserr.New(tserr.PersistenceIO, "URI term %d references unknown namespace id %d", id, nsID)
		}
		local, err := readString(r)
		if err != nil {
			return nil, err
		}
		return &model.Term{ID: model.TermID(id), Kind: model.KindIRI, Namespace: ns, Local: local}, nil
	case tagBNode:
		label, err := readString(r)
		if err != nil {
			return nil, err
		}
		return &model.Term{ID: model.TermID(id), Kind: model.KindBlank, BlankLabel: label}, nil
	case tagLiteral:
		lex, err := readString(r)
		if err != nil {
			return nil, err
		}
		lang, err := readString(r)
		if err != nil {
			return nil, err
		}
		dt, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		return &model.Term{ID: model.TermID(id), Kind: model.KindLiteral, Lexical: lex, Lang: lang, Datatype: model.TermID(dt)}, nil
	default:
		return nil, tserr.New(tserr.PersistenceIO, "unexpected term tag %d", tg)
	}
}

// writeStatement appends one statement record. partition is 1 for explicit,
// 0 for inferred; added_at/removed_at are written verbatim so replay can
// reconstruct the exact version history rather than re-stamping at the
// current clock value.
func writeStatement(w *bufio.Writer, partition byte, s model.Statement) error {
	if err := writeByte(w, byte(tagStatement)); err != nil {
		return err
	}
	if err := writeByte(w, partition); err != nil {
		return err
	}
	for _, id := range []model.TermID{s.Subject, s.Predicate, s.Object, s.Context} {
		if err := writeUvarint(w, uint64(id)); err != nil {
			return err
		}
	}
	if err := writeUvarint(w, s.AddedAt); err != nil {
		return err
	}
	return writeUvarint(w, s.RemovedAt)
}

// StatementRecord is a decoded on-disk statement, tagged with the
// partition it belongs to.
type StatementRecord struct {
	Explicit bool
	Stmt     model.Statement
}

func readStatement(r *bufio.Reader) (StatementRecord, error) {
	partition, err := readByte(r)
	if err != nil {
		return StatementRecord{}, err
	}
	var ids [4]model.TermID
	for i := range ids {
		v, err := readUvarint(r)
		if err != nil {
			return StatementRecord{}, err
		}
		ids[i] = model.TermID(v)
	}
	addedAt, err := readUvarint(r)
	if err != nil {
		return StatementRecord{}, err
	}
	removedAt, err := readUvarint(r)
	if err != nil {
		return StatementRecord{}, err
	}
	return StatementRecord{
		Explicit: partition == 1,
		Stmt: model.Statement{
			Subject: ids[0], Predicate: ids[1], Object: ids[2], Context: ids[3],
			AddedAt: addedAt, RemovedAt: removedAt, Explicit: partition == 1,
			TxState: model.Committed,
		},
	}, nil
}
