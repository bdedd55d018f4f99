package model

// Graph is the workflow model built once per deploy from JSON and discarded
// when the deploy completes.
type Graph struct {
	ProcessType string // "PetriNet" | "SOA"
	Places      map[string]*Place
	Transitions map[string]*Transition
	Edges       []Edge

	outgoing map[string][]Edge
	incoming map[string][]Edge
}

// NewGraph returns an empty graph ready for incremental construction.
func NewGraph(processType string) *Graph {
	return &Graph{
		ProcessType: processType,
		Places:      make(map[string]*Place),
		Transitions: make(map[string]*Transition),
		outgoing:    make(map[string][]Edge),
		incoming:    make(map[string][]Edge),
	}
}

// AddPlace registers a place by id.
func (g *Graph) AddPlace(p *Place) { g.Places[p.ID] = p }

// AddTransition registers a transition by id.
func (g *Graph) AddTransition(t *Transition) { g.Transitions[t.ID] = t }

// AddEdge appends an edge and indexes it for adjacency lookups. Must be
// called after all places/transitions are added if callers rely on ordering
// guarantees only on the edges themselves (adjacency order follows input
// order, per the join slot planner's requirement).
func (g *Graph) AddEdge(e Edge) {
	g.Edges = append(g.Edges, e)
	g.outgoing[e.From] = append(g.outgoing[e.From], e)
	g.incoming[e.To] = append(g.incoming[e.To], e)
}

// Outgoing returns edges leaving nodeID, in the order they were added.
func (g *Graph) Outgoing(nodeID string) []Edge { return g.outgoing[nodeID] }

// Incoming returns edges entering nodeID, in the order they were added.
func (g *Graph) Incoming(nodeID string) []Edge { return g.incoming[nodeID] }

// NodeKind reports whether id names a place, a transition, or is unknown.
func (g *Graph) NodeKind(id string) (isPlace, isTransition bool) {
	if _, ok := g.Places[id]; ok {
		isPlace = true
	}
	if _, ok := g.Transitions[id]; ok {
		isTransition = true
	}
	return
}

// IsKnownEndpoint reports whether id resolves to a graph node or one of the
// literal endpoints START/END/EVENT_GENERATOR.
func (g *Graph) IsKnownEndpoint(id string) bool {
	if id == NodeSTART || id == NodeEND || id == NodeEventGenerator {
		return true
	}
	isPlace, isTransition := g.NodeKind(id)
	return isPlace || isTransition
}

// TransitionsOutOf returns the transitions directly reachable by one
// outgoing edge from a place (place -> transition -> ...).
func (g *Graph) TransitionsOutOf(placeID string) []*Transition {
	var out []*Transition
	for _, e := range g.Outgoing(placeID) {
		if t, ok := g.Transitions[e.To]; ok {
			out = append(out, t)
		}
	}
	return out
}

// TransitionsInto returns the transitions that feed a place by one incoming
// edge (... -> transition -> place).
func (g *Graph) TransitionsInto(placeID string) []*Transition {
	var in []*Transition
	for _, e := range g.Incoming(placeID) {
		if t, ok := g.Transitions[e.From]; ok {
			in = append(in, t)
		}
	}
	return in
}

// StandaloneMonitorNodes returns MonitorNode transitions that have no
// incoming edge at all, so no place or transition routes to them.
func (g *Graph) StandaloneMonitorNodes() []*Transition {
	var out []*Transition
	for _, t := range g.Transitions {
		if t.Type != MonitorNode {
			continue
		}
		if len(g.Incoming(t.ID)) == 0 {
			out = append(out, t)
		}
	}
	return out
}
