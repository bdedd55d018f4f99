package model

// RetainedJoinArcs returns the incoming edges of a JoinNode that count
// toward its join arity: arcs whose source is an EventGenerator transition
// are excluded, and feedback arcs (T_out_X -> T_in_Y where suffix(X) ==
// suffix(Y)) are excluded as retry loops rather than parallel branches.
// Order is preserved from the graph's edge insertion order (JSON order),
// which the join slot planner relies on to assign slot indices.
func (g *Graph) RetainedJoinArcs(joinTransitionID string) []Edge {
	var retained []Edge
	for _, e := range g.Incoming(joinTransitionID) {
		src, ok := g.Transitions[e.From]
		if ok && src.Type == EventGenerator {
			continue
		}
		if ok && IsFeedbackLoop(src.ID, joinTransitionID) {
			continue
		}
		retained = append(retained, e)
	}
	return retained
}
