// Package citymap is a concrete, in-memory implementation of the
// intersection core's Map collaborator: intersections, turns, and the
// geometric conflict predicate between turns at the same intersection.
// Production deployments would source this from the (out-of-scope)
// map/geometry layer; this package is the stand-in a running simhost
// needs to exist at all.
package citymap

import (
	"fmt"

	"github.com/citysim/intersection-core/internal/intersection"
)

// turn is citymap's Turn implementation: a static conflict set computed
// once at build time.
type turn struct {
	id        intersection.TurnID
	conflicts map[intersection.TurnID]bool
}

func (t *turn) ConflictsWith(other intersection.TurnID) bool {
	return t.conflicts[other]
}

// CityMap is a static, in-memory Map built once at startup and never
// mutated afterward: read-only for the lifetime of the simulation.
type CityMap struct {
	intersections []intersection.Intersection
	turns         map[intersection.TurnID]*turn
}

// Builder assembles a CityMap one intersection and turn at a time.
type Builder struct {
	m *CityMap
}

// NewBuilder starts an empty city map.
func NewBuilder() *Builder {
	return &Builder{m: &CityMap{turns: make(map[intersection.TurnID]*turn)}}
}

// AddIntersection registers an intersection. hasTrafficSignal selects
// whether IntersectionSimState builds a TrafficSignalPolicy or a
// StopSignPolicy for it.
func (b *Builder) AddIntersection(id intersection.IntersectionID, hasTrafficSignal bool) *Builder {
	b.m.intersections = append(b.m.intersections, intersection.Intersection{
		ID:               id,
		HasTrafficSignal: hasTrafficSignal,
	})
	return b
}

// AddTurn registers a turn at an already-added intersection.
func (b *Builder) AddTurn(id intersection.TurnID) *Builder {
	if _, exists := b.m.turns[id]; exists {
		return b
	}
	b.m.turns[id] = &turn{id: id, conflicts: make(map[intersection.TurnID]bool)}
	return b
}

// Conflict declares a and b as mutually conflicting turns. Both must share
// a parent intersection and must already have been added with AddTurn.
func (b *Builder) Conflict(a, other intersection.TurnID) *Builder {
	if a.Parent != other.Parent {
		panic(fmt.Sprintf("citymap: cannot declare a conflict between turns at different intersections: %s and %s", a, other))
	}
	ta, ok := b.m.turns[a]
	if !ok {
		panic(fmt.Sprintf("citymap: unknown turn %s", a))
	}
	tb, ok := b.m.turns[other]
	if !ok {
		panic(fmt.Sprintf("citymap: unknown turn %s", other))
	}
	ta.conflicts[other] = true
	tb.conflicts[a] = true
	return b
}

// Build finalizes the map.
func (b *Builder) Build() *CityMap {
	return b.m
}

// AllIntersections satisfies intersection.Map.
func (m *CityMap) AllIntersections() []intersection.Intersection {
	return m.intersections
}

// GetTurn satisfies intersection.Map.
func (m *CityMap) GetTurn(id intersection.TurnID) (intersection.Turn, bool) {
	t, ok := m.turns[id]
	if !ok {
		return nil, false
	}
	return t, true
}
