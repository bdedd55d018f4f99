package model

import "strings"

// TransitionSuffix strips a leading "T_out_" or "T_in_" from a transition id
// and returns what remains, so two transitions that name the same place can
// be recognized regardless of direction.
func TransitionSuffix(transitionID string) string {
	switch {
	case strings.HasPrefix(transitionID, "T_out_"):
		return strings.TrimPrefix(transitionID, "T_out_")
	case strings.HasPrefix(transitionID, "T_in_"):
		return strings.TrimPrefix(transitionID, "T_in_")
	default:
		return transitionID
	}
}

// IsFeedbackLoop reports whether an edge from T_out transition outID into
// T_in transition inID is a feedback (retry) loop rather than a parallel
// join branch: true iff their suffixes match.
func IsFeedbackLoop(outID, inID string) bool {
	return TransitionSuffix(outID) == TransitionSuffix(inID)
}
