// Package source reads documents from the hierarchical document store and
// tags each one with its origin.
package source

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"github.com/JonMunkholm/docmigrate/internal/model"
)

// Document is one stored document.
type Document struct {
	ID     string
	Fields map[string]any
}

// DocumentStore is the read-only view of the document store. Documents are
// listed in a stable order so repeated walks yield the same sequence.
type DocumentStore interface {
	ListCollections(ctx context.Context) ([]string, error)
	ListDocuments(ctx context.Context, collection string) iter.Seq2[Document, error]
	ListSubcollections(ctx context.Context, collection, documentID string) ([]string, error)
	ListSubDocuments(ctx context.Context, collection, documentID, subcollection string) iter.Seq2[Document, error]
}

// PathInfo is a distinct source path found in the store.
type PathInfo struct {
	Path      string `json:"path"`
	Documents int    `json:"documents"`
}

// Reader walks the document store for entity types.
type Reader struct {
	store DocumentStore
}

// NewReader creates a Reader over store.
func NewReader(store DocumentStore) *Reader {
	return &Reader{store: store}
}

// Records yields the source records of et. The sequence is lazy and can be
// ranged over again to restart the walk. Iteration stops at the first error.
func (r *Reader) Records(ctx context.Context, et *model.EntityType) iter.Seq2[model.SourceRecord, error] {
	return func(yield func(model.SourceRecord, error) bool) {
		path, err := et.SourcePath()
		if err != nil {
			yield(model.SourceRecord{}, &model.ConfigError{EntityType: et.Name, Msg: err.Error()})
			return
		}

		for doc, err := range r.store.ListDocuments(ctx, path.Collection) {
			if err != nil {
				yield(model.SourceRecord{}, fmt.Errorf("failed to list %s: %w", path.Collection, err))
				return
			}
			if ctx.Err() != nil {
				yield(model.SourceRecord{}, ctx.Err())
				return
			}

			if path.Subcollection == "" {
				origin := model.Origin{Collection: path.Collection, DocumentID: doc.ID}
				if !yield(model.NewSourceRecord(origin, doc.Fields), nil) {
					return
				}
				continue
			}

			for sub, err := range r.store.ListSubDocuments(ctx, path.Collection, doc.ID, path.Subcollection) {
				if err != nil {
					yield(model.SourceRecord{}, fmt.Errorf("failed to list %s/%s/%s: %w", path.Collection, doc.ID, path.Subcollection, err))
					return
				}
				origin := model.Origin{
					Collection:    path.Collection,
					ParentID:      doc.ID,
					Subcollection: path.Subcollection,
					DocumentID:    sub.ID,
				}
				if !yield(model.NewSourceRecord(origin, sub.Fields), nil) {
					return
				}
			}
		}
	}
}

// Discover walks every collection and subcollection and returns the distinct
// source paths with their document counts, sorted by path.
func (r *Reader) Discover(ctx context.Context) ([]PathInfo, error) {
	collections, err := r.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	counts := make(map[string]int)
	for _, coll := range collections {
		counts[coll] += 0
		for doc, err := range r.store.ListDocuments(ctx, coll) {
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", coll, err)
			}
			counts[coll]++

			subs, err := r.store.ListSubcollections(ctx, coll, doc.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to list subcollections of %s/%s: %w", coll, doc.ID, err)
			}
			for _, sub := range subs {
				path := model.SourcePath{Collection: coll, Subcollection: sub}.String()
				for _, err := range r.store.ListSubDocuments(ctx, coll, doc.ID, sub) {
					if err != nil {
						return nil, fmt.Errorf("failed to list %s/%s/%s: %w", coll, doc.ID, sub, err)
					}
					counts[path]++
				}
			}
		}
	}

	out := make([]PathInfo, 0, len(counts))
	for path, n := range counts {
		out = append(out, PathInfo{Path: path, Documents: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Unbound returns the discovered paths no entity type reads from.
func Unbound(paths []PathInfo, types []model.EntityType) []PathInfo {
	bound := make(map[string]bool, len(types))
	for i := range types {
		if p, err := types[i].SourcePath(); err == nil {
			bound[p.String()] = true
		}
	}
	var out []PathInfo
	for _, p := range paths {
		if !bound[p.Path] {
			out = append(out, p)
		}
	}
	return out
}
