// Package depgraph orders entity types so that every referenced type is
// migrated before the types that reference it.
package depgraph

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/docmigrate/internal/model"
)

// CycleError reports a cycle in the entity reference graph. Path starts and
// ends with the same entity type.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "configuration error: entity reference cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Is(target error) bool { return target == model.ErrConfig }

// graph holds dependency edges by declaration index.
type graph struct {
	types []model.EntityType
	deps  [][]int // deps[i]: types i references
	out   [][]int // out[i]: types referencing i
}

func build(types []model.EntityType) (*graph, error) {
	index := make(map[string]int, len(types))
	for i, et := range types {
		if _, dup := index[et.Name]; dup {
			return nil, &model.ConfigError{EntityType: et.Name, Msg: "declared more than once"}
		}
		index[et.Name] = i
	}

	g := &graph{
		types: types,
		deps:  make([][]int, len(types)),
		out:   make([][]int, len(types)),
	}
	for i, et := range types {
		seen := make(map[int]bool)
		for _, fk := range et.ForeignKeys {
			j, ok := index[fk.References]
			if !ok {
				return nil, &model.ConfigError{
					EntityType: et.Name,
					Msg:        fmt.Sprintf("column %q references unknown entity type %q", fk.Column, fk.References),
				}
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			g.deps[i] = append(g.deps[i], j)
			g.out[j] = append(g.out[j], i)
		}
	}
	return g, nil
}

// Order returns the entity types in dependency order. Every type without
// dependencies comes first, in declaration order; the rest follow as they
// become ready, lowest declaration index first. Cycles, self references included, are rejected.
func Order(types []model.EntityType) ([]model.EntityType, error) {
	g, err := build(types)
	if err != nil {
		return nil, err
	}

	n := len(types)
	indeg := make([]int, n)
	for i := range g.deps {
		indeg[i] = len(g.deps[i])
	}

	done := make([]bool, n)
	order := make([]model.EntityType, 0, n)
	emit := func(i int) {
		done[i] = true
		order = append(order, types[i])
		for _, j := range g.out[i] {
			indeg[j]--
		}
	}

	// Roots first, so a dependent type never precedes a later declared root.
	for i := 0; i < n; i++ {
		if len(g.deps[i]) == 0 {
			emit(i)
		}
	}

	// Small graphs: a linear scan for the lowest ready index keeps the
	// declaration-order tie break obvious.
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, &CycleError{Path: g.findCycle(done)}
		}
		emit(next)
	}
	return order, nil
}

// findCycle walks dependency edges among the unfinished nodes until a node
// repeats. Every unfinished node has an unfinished dependency, so the walk
// always closes a cycle.
func (g *graph) findCycle(done []bool) []string {
	start := -1
	for i := range done {
		if !done[i] {
			start = i
			break
		}
	}

	pos := make(map[int]int)
	var walk []int
	for cur := start; ; {
		if p, ok := pos[cur]; ok {
			cycle := make([]string, 0, len(walk)-p+1)
			for _, i := range walk[p:] {
				cycle = append(cycle, g.types[i].Name)
			}
			return append(cycle, g.types[cur].Name)
		}
		pos[cur] = len(walk)
		walk = append(walk, cur)
		for _, d := range g.deps[cur] {
			if !done[d] {
				cur = d
				break
			}
		}
	}
}

// Levels returns the dependency depth of every entity type: 0 for types with
// no references, otherwise one more than the deepest referenced type.
func Levels(types []model.EntityType) (map[string]int, error) {
	ordered, err := Order(types)
	if err != nil {
		return nil, err
	}
	levels := make(map[string]int, len(ordered))
	for _, et := range ordered {
		level := 0
		for _, fk := range et.ForeignKeys {
			if l := levels[fk.References] + 1; l > level {
				level = l
			}
		}
		levels[et.Name] = level
	}
	return levels, nil
}
