package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/necyber/elephie/pkg/retrieval"
)

const vectorKeyPrefix = "vec:"

// chunkVector is one embedded chunk of a document.
type chunkVector struct {
	Text   string
	Vector []float32
}

// vectorDoc holds every chunk of one document. It is never mutated once
// published in a snapshot.
type vectorDoc struct {
	ID      string
	Name    string
	DocTime string
	Chunks  []chunkVector
}

type vectorSnapshot struct {
	dimension int
	docs      map[string]*vectorDoc
}

// VectorIndex is a brute-force cosine index over document chunks. Readers
// use an immutable snapshot; writers serialize on a mutex and publish a new
// snapshot. When a Badger database is attached every write is persisted.
type VectorIndex struct {
	mu   sync.Mutex
	db   *badger.DB
	snap atomic.Pointer[vectorSnapshot]
}

// NewVectorIndex creates an empty index. db may be nil for a volatile index.
func NewVectorIndex(db *badger.DB) *VectorIndex {
	v := &VectorIndex{db: db}
	v.snap.Store(&vectorSnapshot{docs: map[string]*vectorDoc{}})
	return v
}

// Load replaces the in-memory state with what is persisted in Badger.
func (v *VectorIndex) Load(ctx context.Context) error {
	if v.db == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := &vectorSnapshot{docs: map[string]*vectorDoc{}}
	err := v.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vectorKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc *vectorDoc
			if err := it.Item().Value(func(val []byte) error {
				var err error
				doc, err = decodeVectorDoc(val)
				return err
			}); err != nil {
				return fmt.Errorf("vector: load %s: %w", it.Item().Key(), err)
			}
			if dim := doc.dimension(); dim > 0 {
				if snap.dimension == 0 {
					snap.dimension = dim
				} else if dim != snap.dimension {
					return fmt.Errorf("%w: stored %s has %d, index has %d", ErrDimensionMismatch, doc.ID, dim, snap.dimension)
				}
			}
			snap.docs[doc.ID] = doc
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.snap.Store(snap)
	return nil
}

// Upsert replaces all chunks of a document.
func (v *VectorIndex) Upsert(id, name, docTime string, texts []string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("vector: %d chunks but %d vectors", len(texts), len(vectors))
	}
	doc := &vectorDoc{ID: id, Name: name, DocTime: docTime, Chunks: make([]chunkVector, len(texts))}
	for i := range texts {
		doc.Chunks[i] = chunkVector{Text: texts[i], Vector: vectors[i]}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	cur := v.snap.Load()
	next := cur.without(id)
	if dim := doc.dimension(); dim > 0 {
		if next.dimension == 0 {
			next.dimension = dim
		}
		for _, c := range doc.Chunks {
			if len(c.Vector) != next.dimension {
				return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, next.dimension, len(c.Vector))
			}
		}
	}
	if err := v.persist(doc); err != nil {
		return err
	}
	next.docs[id] = doc
	v.snap.Store(next)
	return nil
}

// Remove deletes a document's chunks and reports whether it was indexed.
func (v *VectorIndex) Remove(id string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	cur := v.snap.Load()
	if _, ok := cur.docs[id]; !ok {
		return false, nil
	}
	if v.db != nil {
		if err := v.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(vectorKeyPrefix + id))
		}); err != nil {
			return false, err
		}
	}
	v.snap.Store(cur.without(id))
	return true, nil
}

// IDsByName returns the ids of documents derived from the named source.
func (v *VectorIndex) IDsByName(name string) []string {
	var ids []string
	for id, doc := range v.snap.Load().docs {
		if doc.Name == name {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of indexed documents.
func (v *VectorIndex) Len() int {
	return len(v.snap.Load().docs)
}

// Dimension returns the vector dimension, or 0 while the index is empty.
func (v *VectorIndex) Dimension() int {
	return v.snap.Load().dimension
}

// Search returns, per query vector, the k nearest documents by their best
// chunk, ordered by ascending cosine distance. Non-empty start and end
// restrict results to documents whose time lies in [start, end].
func (v *VectorIndex) Search(queries [][]float32, k int, start, end string) ([][]retrieval.Association, error) {
	snap := v.snap.Load()
	out := make([][]retrieval.Association, len(queries))

	for qi, q := range queries {
		if snap.dimension > 0 && len(q) != snap.dimension {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, snap.dimension, len(q))
		}
		results := make([]retrieval.Association, 0, len(snap.docs))
		for _, doc := range snap.docs {
			if start != "" && doc.DocTime < start {
				continue
			}
			if end != "" && doc.DocTime > end {
				continue
			}
			if len(doc.Chunks) == 0 {
				continue
			}
			best := math.Inf(1)
			for _, c := range doc.Chunks {
				if d := 1 - cosineSimilarity(q, c.Vector); d < best {
					best = d
				}
			}
			results = append(results, retrieval.Association{DocID: doc.ID, DocTime: doc.DocTime, Distance: best})
		}
		sort.Slice(results, func(i, j int) bool {
			if results[i].Distance != results[j].Distance {
				return results[i].Distance < results[j].Distance
			}
			return results[i].DocID < results[j].DocID
		})
		if k >= 0 && k < len(results) {
			results = results[:k]
		}
		out[qi] = results
	}
	return out, nil
}

func (v *VectorIndex) persist(doc *vectorDoc) error {
	if v.db == nil {
		return nil
	}
	data, err := encodeVectorDoc(doc)
	if err != nil {
		return err
	}
	return v.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(vectorKeyPrefix+doc.ID), data)
	})
}

// without returns a copy of s lacking id. The dimension resets once the
// index is empty.
func (s *vectorSnapshot) without(id string) *vectorSnapshot {
	next := &vectorSnapshot{dimension: s.dimension, docs: make(map[string]*vectorDoc, len(s.docs))}
	for k, d := range s.docs {
		if k != id {
			next.docs[k] = d
		}
	}
	if len(next.docs) == 0 {
		next.dimension = 0
	}
	return next
}

func (d *vectorDoc) dimension() int {
	for _, c := range d.Chunks {
		if len(c.Vector) > 0 {
			return len(c.Vector)
		}
	}
	return 0
}

// encodeVectorDoc writes:
// [id][name][docTime][count:uint32] then per chunk [text][dim:uint32][vector:float32*dim]
// where each string is [len:uint32][bytes].
func encodeVectorDoc(doc *vectorDoc) ([]byte, error) {
	var buf bytes.Buffer
	for _, s := range []string{doc.ID, doc.Name, doc.DocTime} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(doc.Chunks))); err != nil {
		return nil, err
	}
	for _, c := range doc.Chunks {
		if err := writeString(&buf, c.Text); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(c.Vector))); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, c.Vector); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeVectorDoc(data []byte) (*vectorDoc, error) {
	r := bytes.NewReader(data)
	doc := &vectorDoc{}
	for _, dst := range []*string{&doc.ID, &doc.Name, &doc.DocTime} {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		*dst = s
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	doc.Chunks = make([]chunkVector, count)
	for i := range doc.Chunks {
		text, err := readString(r)
		if err != nil {
			return nil, err
		}
		var dim uint32
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return nil, err
		}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, err
		}
		doc.Chunks[i] = chunkVector{Text: text, Vector: vec}
	}
	return doc, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a []float32, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dotProduct / denom
}
