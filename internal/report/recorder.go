package report

import (
	"sort"
	"sync"
	"time"
)

// Recorder is the concurrency-safe accumulator behind a Report. Workers of
// every pass record into the same Recorder; Report takes a sorted snapshot.
type Recorder struct {
	mu       sync.Mutex
	runID    string
	order    []string
	entities map[string]*EntityCounts
	report   Report
	now      func() time.Time
}

// NewRecorder creates an empty recorder for a run.
func NewRecorder(runID string) *Recorder {
	return &Recorder{
		runID:    runID,
		entities: make(map[string]*EntityCounts),
		now:      time.Now,
	}
}

// SetOrder records the entity type order of the run. Every listed type gets
// a counts entry, even when it produced no rows.
func (r *Recorder) SetOrder(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append([]string(nil), names...)
	for _, name := range names {
		r.counts(name)
	}
}

func (r *Recorder) counts(entityType string) *EntityCounts {
	c, ok := r.entities[entityType]
	if !ok {
		c = &EntityCounts{}
		r.entities[entityType] = c
	}
	return c
}

// Count applies fn to the counts of entityType under the recorder lock.
func (r *Recorder) Count(entityType string, fn func(c *EntityCounts)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.counts(entityType))
}

func (r *Recorder) AddUnresolved(u UnresolvedReference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Unresolved = append(r.report.Unresolved, u)
}

func (r *Recorder) AddAmbiguous(a AmbiguousReference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Ambiguous = append(r.report.Ambiguous, a)
}

func (r *Recorder) AddDuplicateLegacyID(d DuplicateLegacyID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.DuplicateLegacyIDs = append(r.report.DuplicateLegacyIDs, d)
}

func (r *Recorder) AddInvalidValue(v InvalidValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.InvalidValues = append(r.report.InvalidValues, v)
}

func (r *Recorder) AddDuplicateGroup(g DuplicateGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.DuplicateValues = append(r.report.DuplicateValues, g)
}

func (r *Recorder) AddOrphan(o OrphanReference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Orphans = append(r.report.Orphans, o)
}

func (r *Recorder) AddMissingPrimaryKey(m MissingPrimaryKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.MissingPrimaryKeys = append(r.report.MissingPrimaryKeys, m)
}

// Report returns a deterministic snapshot: lists are sorted and degraded row
// counts are derived from the unresolved references.
func (r *Recorder) Report() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := &Report{
		RunID:              r.runID,
		GeneratedAt:        r.now().UTC(),
		Order:              append([]string{}, r.order...),
		Entities:           make(map[string]*EntityCounts, len(r.entities)),
		Unresolved:         append([]UnresolvedReference{}, r.report.Unresolved...),
		Ambiguous:          append([]AmbiguousReference{}, r.report.Ambiguous...),
		DuplicateLegacyIDs: append([]DuplicateLegacyID{}, r.report.DuplicateLegacyIDs...),
		InvalidValues:      append([]InvalidValue{}, r.report.InvalidValues...),
		DuplicateValues:    append([]DuplicateGroup{}, r.report.DuplicateValues...),
		Orphans:            append([]OrphanReference{}, r.report.Orphans...),
		MissingPrimaryKeys: append([]MissingPrimaryKey{}, r.report.MissingPrimaryKeys...),
	}
	for name, c := range r.entities {
		cp := *c
		cp.DegradedRows = 0
		out.Entities[name] = &cp
	}

	degraded := make(map[[2]string]bool)
	for _, u := range out.Unresolved {
		k := [2]string{u.EntityType, u.SurrogateID}
		if degraded[k] {
			continue
		}
		degraded[k] = true
		if c, ok := out.Entities[u.EntityType]; ok {
			c.DegradedRows++
		} else {
			out.Entities[u.EntityType] = &EntityCounts{DegradedRows: 1}
		}
	}

	sort.Slice(out.Unresolved, func(i, j int) bool {
		a, b := out.Unresolved[i], out.Unresolved[j]
		return less(a.EntityType, b.EntityType, a.SurrogateID, b.SurrogateID, a.Column, b.Column)
	})
	sort.Slice(out.Ambiguous, func(i, j int) bool {
		a, b := out.Ambiguous[i], out.Ambiguous[j]
		return less(a.EntityType, b.EntityType, a.SurrogateID, b.SurrogateID, a.Column, b.Column)
	})
	sort.Slice(out.DuplicateLegacyIDs, func(i, j int) bool {
		a, b := out.DuplicateLegacyIDs[i], out.DuplicateLegacyIDs[j]
		return less(a.EntityType, b.EntityType, a.LegacyID, b.LegacyID, a.Origin, b.Origin)
	})
	sort.Slice(out.InvalidValues, func(i, j int) bool {
		a, b := out.InvalidValues[i], out.InvalidValues[j]
		return less(a.EntityType, b.EntityType, a.SurrogateID, b.SurrogateID, a.Column, b.Column)
	})
	sort.Slice(out.DuplicateValues, func(i, j int) bool {
		a, b := out.DuplicateValues[i], out.DuplicateValues[j]
		return less(a.EntityType, b.EntityType, a.Column, b.Column, a.Value, b.Value)
	})
	sort.Slice(out.Orphans, func(i, j int) bool {
		a, b := out.Orphans[i], out.Orphans[j]
		return less(a.EntityType, b.EntityType, a.Column, b.Column, a.SurrogateID, b.SurrogateID)
	})
	sort.Slice(out.MissingPrimaryKeys, func(i, j int) bool {
		a, b := out.MissingPrimaryKeys[i], out.MissingPrimaryKeys[j]
		return less(a.EntityType, b.EntityType, a.Reason, b.Reason, "", "")
	})
	return out
}

// less compares three string keys lexicographically.
func less(a1, b1, a2, b2, a3, b3 string) bool {
	if a1 != b1 {
		return a1 < b1
	}
	if a2 != b2 {
		return a2 < b2
	}
	return a3 < b3
}
