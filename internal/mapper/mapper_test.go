package mapper

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssign_Deterministic(t *testing.T) {
	m := New()

	first := m.Assign("customer", "C1")
	again := m.Assign("customer", "C1")
	other := m.Assign("customer", "C2")
	otherType := m.Assign("invoice", "C1")

	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)
	assert.NotEqual(t, first, otherType, "surrogates are unique across entity types")

	got, ok := m.Lookup("customer", "C1")
	require.True(t, ok)
	assert.Equal(t, first, got)

	_, ok = m.Lookup("customer", "C9")
	assert.False(t, ok)
}

func TestPrime_TakesPrecedence(t *testing.T) {
	persisted := uuid.New()
	m := New()
	m.Prime([]Mapping{{EntityType: "customer", Kind: KindLegacy, LegacyID: "C1", SurrogateID: persisted}})

	assert.Equal(t, persisted, m.Assign("customer", "C1"))
	assert.Empty(t, m.Pending("customer"), "primed mappings are not re-persisted")
}

func TestRerunWithPersistedMappings_IsIdempotent(t *testing.T) {
	first := New()
	ids := map[string]uuid.UUID{}
	for _, legacy := range []string{"C1", "C2", "C3"} {
		ids[legacy] = first.Assign("customer", legacy)
	}
	persisted := first.Pending("customer")
	require.Len(t, persisted, 3)

	second := New()
	second.Prime(persisted)
	for legacy, id := range ids {
		assert.Equal(t, id, second.Assign("customer", legacy))
	}
	assert.Empty(t, second.Pending("customer"))
}

func TestPrime_OriginKeysSurviveRerun(t *testing.T) {
	keys := []string{"notes/Straße", "notes/ n1 ", "notes/ÉTÉ"}

	first := New()
	ids := make(map[string]uuid.UUID, len(keys))
	for _, k := range keys {
		ids[k] = first.AssignOrigin("note", k)
	}

	second := New()
	second.Prime(first.Pending("note"))
	for _, k := range keys {
		assert.Equal(t, ids[k], second.AssignOrigin("note", k), k)
	}
	assert.Empty(t, second.Pending("note"))
	assert.Equal(t, len(keys), second.Len("note"))
}

func TestAssignOrigin_NotReachableByLookup(t *testing.T) {
	m := New()
	id := m.AssignOrigin("note", "notes/n1")

	assert.Equal(t, id, m.AssignOrigin("note", "notes/n1"))
	_, ok := m.Lookup("note", "notes/n1")
	assert.False(t, ok)
	assert.Equal(t, NotFound, m.Resolve("note", "notes/n1").Status)

	pending := m.Pending("note")
	require.Len(t, pending, 1)
	assert.Equal(t, KindOrigin, pending[0].Kind)
}

func TestResolve(t *testing.T) {
	m := New()
	c1 := m.Assign("customer", "C1")

	res := m.Resolve("customer", "C1")
	assert.Equal(t, Resolved, res.Status)
	assert.Equal(t, c1, res.ID)

	res = m.Resolve("customer", " c1 ")
	assert.Equal(t, Resolved, res.Status, "case and whitespace drift still resolves")
	assert.Equal(t, c1, res.ID)

	assert.Equal(t, NotFound, m.Resolve("customer", "C9").Status)
}

func TestResolve_AmbiguousCaseVariants(t *testing.T) {
	m := New()
	upper := m.Assign("customer", "CUS-1")
	lower := m.Assign("customer", "cus-1")
	require.NotEqual(t, upper, lower)

	res := m.Resolve("customer", "CUS-1")
	assert.Equal(t, Ambiguous, res.Status)
	assert.ElementsMatch(t, []uuid.UUID{upper, lower}, res.Candidates)
	assert.Equal(t, uuid.Nil, res.ID)
}

func TestMarkPersisted(t *testing.T) {
	m := New()
	m.Assign("customer", "C1")
	m.Assign("invoice", "I1")

	m.MarkPersisted("customer")
	assert.Empty(t, m.Pending("customer"))
	assert.Len(t, m.Pending("invoice"), 1)
	assert.Equal(t, 1, m.Len("customer"))
}

func TestAssign_ConcurrentMintingIsFirstWriteWins(t *testing.T) {
	m := New()

	const workers = 64
	results := make([]uuid.UUID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Assign("customer", "C1")
		}(i)
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, results[0], id)
	}
	assert.Len(t, m.Pending("customer"), 1)
}

func TestWithIDGenerator(t *testing.T) {
	fixed := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	m := New(WithIDGenerator(func() uuid.UUID { return fixed }))
	assert.Equal(t, fixed, m.Assign("customer", "C1"))
}
