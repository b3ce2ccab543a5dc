// Package mapper translates legacy document identifiers into surrogate ids.
//
// A Mapper is the single source of truth for identity during a migration run.
// Assignment is first-write-wins: once (entity type, legacy id) has a
// surrogate, every later Assign returns it. Mappings primed from the persisted
// mapping table take precedence over minting, which makes re-runs idempotent.
package mapper

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// KeyKind distinguishes legacy identifiers from the origin keys of anonymous records.
type KeyKind string

const (
	KindLegacy KeyKind = "legacy"
	KindOrigin KeyKind = "origin"
)

// Mapping is one (entity type, legacy id) -> surrogate id entry.
type Mapping struct {
	EntityType  string
	Kind        KeyKind
	LegacyID    string
	SurrogateID uuid.UUID
	CreatedAt   time.Time
}

// Status is the outcome of resolving a legacy reference.
type Status int

const (
	NotFound Status = iota
	Resolved
	Ambiguous
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Resolution is the result of Resolve.
type Resolution struct {
	Status     Status
	ID         uuid.UUID   // set when Resolved
	Candidates []uuid.UUID // set when Ambiguous, sorted
}

const shardCount = 32

type key struct {
	entityType string
	kind       KeyKind
	id         string
}

type shard struct {
	mu     sync.Mutex
	exact  map[key]uuid.UUID
	folded map[key][]uuid.UUID // distinct surrogates per folded legacy id
}

// Mapper assigns and looks up surrogate ids. It is safe for concurrent use.
type Mapper struct {
	shards [shardCount]*shard
	newID  func() uuid.UUID
	now    func() time.Time

	pendingMu sync.Mutex
	pending   map[string][]Mapping
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithIDGenerator replaces uuid.New as the surrogate id source.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(m *Mapper) { m.newID = fn }
}

// New creates an empty Mapper.
func New(opts ...Option) *Mapper {
	m := &Mapper{
		newID:   uuid.New,
		now:     time.Now,
		pending: make(map[string][]Mapping),
	}
	for i := range m.shards {
		m.shards[i] = &shard{
			exact:  make(map[key]uuid.UUID),
			folded: make(map[key][]uuid.UUID),
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fold normalizes a legacy value for ambiguity detection: surrounding
// whitespace is trimmed and Unicode case is folded.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// foldFor returns the folded form of id under kind. Origin keys are matched
// exactly, so they are their own folded form.
func foldFor(kind KeyKind, id string) string {
	if kind == KindOrigin {
		return id
	}
	return Fold(id)
}

// shardFor hashes the folded key so an exact key and its folded form share a shard.
func (m *Mapper) shardFor(entityType string, kind KeyKind, folded string) *shard {
	h := fnv.New32a()
	h.Write([]byte(entityType))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(folded))
	return m.shards[h.Sum32()%shardCount]
}

// Prime loads persisted mappings. Entries already present are kept.
func (m *Mapper) Prime(mappings []Mapping) {
	for _, mp := range mappings {
		kind := mp.Kind
		if kind == "" {
			kind = KindLegacy
		}
		folded := foldFor(kind, mp.LegacyID)
		s := m.shardFor(mp.EntityType, kind, folded)
		s.mu.Lock()
		s.put(key{mp.EntityType, kind, mp.LegacyID}, key{mp.EntityType, kind, folded}, mp.SurrogateID)
		s.mu.Unlock()
	}
}

func (s *shard) put(exact, folded key, id uuid.UUID) bool {
	if _, ok := s.exact[exact]; ok {
		return false
	}
	s.exact[exact] = id
	s.folded[folded] = append(s.folded[folded], id)
	return true
}

// Assign returns the surrogate id of (entityType, legacyID), minting and
// recording a new one on first use.
func (m *Mapper) Assign(entityType, legacyID string) uuid.UUID {
	return m.assign(entityType, KindLegacy, legacyID)
}

// AssignOrigin assigns a surrogate id to an anonymous record keyed by its
// origin path. Origin keys are never visible to Lookup or Resolve.
func (m *Mapper) AssignOrigin(entityType, originKey string) uuid.UUID {
	return m.assign(entityType, KindOrigin, originKey)
}

func (m *Mapper) assign(entityType string, kind KeyKind, legacyID string) uuid.UUID {
	folded := foldFor(kind, legacyID)
	s := m.shardFor(entityType, kind, folded)
	exact := key{entityType, kind, legacyID}

	s.mu.Lock()
	if id, ok := s.exact[exact]; ok {
		s.mu.Unlock()
		return id
	}
	id := m.newID()
	s.put(exact, key{entityType, kind, folded}, id)
	s.mu.Unlock()

	m.pendingMu.Lock()
	m.pending[entityType] = append(m.pending[entityType], Mapping{
		EntityType:  entityType,
		Kind:        kind,
		LegacyID:    legacyID,
		SurrogateID: id,
		CreatedAt:   m.now(),
	})
	m.pendingMu.Unlock()
	return id
}

// Lookup returns the surrogate id of an exact legacy id.
func (m *Mapper) Lookup(entityType, legacyID string) (uuid.UUID, bool) {
	s := m.shardFor(entityType, KindLegacy, foldFor(KindLegacy, legacyID))
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.exact[key{entityType, KindLegacy, legacyID}]
	return id, ok
}

// Resolve maps a legacy reference value to a surrogate id. The value is
// matched after folding; when the folded value maps to more than one
// surrogate (e.g. "C1" and "c1" were both assigned) the result is Ambiguous
// and no winner is picked.
func (m *Mapper) Resolve(entityType, legacyValue string) Resolution {
	folded := Fold(legacyValue)
	s := m.shardFor(entityType, KindLegacy, folded)

	s.mu.Lock()
	ids := s.folded[key{entityType, KindLegacy, folded}]
	candidates := make([]uuid.UUID, len(ids))
	copy(candidates, ids)
	s.mu.Unlock()

	switch len(candidates) {
	case 0:
		return Resolution{Status: NotFound}
	case 1:
		return Resolution{Status: Resolved, ID: candidates[0]}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].String() < candidates[j].String()
	})
	return Resolution{Status: Ambiguous, Candidates: candidates}
}

// Pending returns the mappings minted for entityType that are not yet persisted.
func (m *Mapper) Pending(entityType string) []Mapping {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	out := make([]Mapping, len(m.pending[entityType]))
	copy(out, m.pending[entityType])
	return out
}

// MarkPersisted clears the pending mappings of entityType once they are committed.
func (m *Mapper) MarkPersisted(entityType string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	delete(m.pending, entityType)
}

// Len returns the number of mappings held for entityType, both kinds included.
func (m *Mapper) Len(entityType string) int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k := range s.exact {
			if k.entityType == entityType {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}
