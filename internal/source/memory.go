package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"sort"
	"sync"
)

// exportCollectionsKey holds nested collections in an export file.
const exportCollectionsKey = "__collections__"

type memDoc struct {
	fields map[string]any
	subs   map[string]map[string]*memDoc
}

// MemoryStore is an in-memory DocumentStore. Documents are listed in
// ascending id order.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memDoc
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]*memDoc)}
}

// Put stores a root document, replacing any previous version.
func (s *MemoryStore) Put(collection, id string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root(collection, id).fields = fields
}

// PutSub stores a document in the subcollection of a root document,
// creating the parent when it does not exist.
func (s *MemoryStore) PutSub(collection, parentID, subcollection, id string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := s.root(collection, parentID)
	if parent.subs == nil {
		parent.subs = make(map[string]map[string]*memDoc)
	}
	if parent.subs[subcollection] == nil {
		parent.subs[subcollection] = make(map[string]*memDoc)
	}
	parent.subs[subcollection][id] = &memDoc{fields: fields}
}

func (s *MemoryStore) root(collection, id string) *memDoc {
	docs := s.collections[collection]
	if docs == nil {
		docs = make(map[string]*memDoc)
		s.collections[collection] = docs
	}
	d := docs[id]
	if d == nil {
		d = &memDoc{}
		docs[id] = d
	}
	return d
}

func (s *MemoryStore) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.collections), nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, collection string) iter.Seq2[Document, error] {
	s.mu.RLock()
	docs := snapshot(s.collections[collection])
	s.mu.RUnlock()
	return listDocs(ctx, docs)
}

func (s *MemoryStore) ListSubcollections(_ context.Context, collection, documentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.collections[collection][documentID]
	if d == nil {
		return nil, nil
	}
	return sortedKeys(d.subs), nil
}

func (s *MemoryStore) ListSubDocuments(ctx context.Context, collection, documentID, subcollection string) iter.Seq2[Document, error] {
	s.mu.RLock()
	var docs []Document
	if d := s.collections[collection][documentID]; d != nil {
		docs = snapshot(d.subs[subcollection])
	}
	s.mu.RUnlock()
	return listDocs(ctx, docs)
}

func snapshot(docs map[string]*memDoc) []Document {
	out := make([]Document, 0, len(docs))
	for _, id := range sortedKeys(docs) {
		out = append(out, Document{ID: id, Fields: docs[id].fields})
	}
	return out
}

func listDocs(ctx context.Context, docs []Document) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for _, d := range docs {
			if err := ctx.Err(); err != nil {
				yield(Document{}, err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadExportFile reads a JSON export file into a MemoryStore.
func LoadExportFile(path string) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer f.Close()
	return LoadExport(f)
}

// LoadExport reads an export document of the form
//
//	{"__collections__": {"customers": {"C1": {"name": "Acme",
//	    "__collections__": {"jobs": {"J7": {...}}}}}}}
//
// Numbers are decoded as json.Number so large identifiers keep their digits.
func LoadExport(r io.Reader) (*MemoryStore, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var export struct {
		Collections map[string]map[string]map[string]any `json:"__collections__"`
	}
	if err := dec.Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode export: %w", err)
	}
	if export.Collections == nil {
		return nil, fmt.Errorf("failed to decode export: missing %q", exportCollectionsKey)
	}

	store := NewMemoryStore()
	for coll, docs := range export.Collections {
		for id, fields := range docs {
			nested, err := splitCollections(fields)
			if err != nil {
				return nil, fmt.Errorf("document %s/%s: %w", coll, id, err)
			}
			store.Put(coll, id, fields)
			for subName, subDocs := range nested {
				for subID, subFields := range subDocs {
					if _, deeper := subFields[exportCollectionsKey]; deeper {
						return nil, fmt.Errorf("document %s/%s/%s/%s: nesting deeper than one subcollection is not supported", coll, id, subName, subID)
					}
					store.PutSub(coll, id, subName, subID, subFields)
				}
			}
		}
	}
	return store, nil
}

// splitCollections removes the nested collections entry from fields and
// returns it.
func splitCollections(fields map[string]any) (map[string]map[string]map[string]any, error) {
	v, ok := fields[exportCollectionsKey]
	if !ok {
		return nil, nil
	}
	delete(fields, exportCollectionsKey)

	colls, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%q is not an object", exportCollectionsKey)
	}
	out := make(map[string]map[string]map[string]any, len(colls))
	for name, docsV := range colls {
		docs, ok := docsV.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("subcollection %q is not an object", name)
		}
		out[name] = make(map[string]map[string]any, len(docs))
		for id, fieldsV := range docs {
			f, ok := fieldsV.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("document %s/%s is not an object", name, id)
			}
			out[name][id] = f
		}
	}
	return out, nil
}
