// Package codec implements the token-id encoding scheme that lets fork and
// join coordinate without a central coordinator: a single int64 carries both
// the workflow instance (workflowBase) and the fork branch (joinCount,
// branch) of a token.
package codec

import "fmt"

// WorkflowUnit is the modulus that separates workflow instances: every
// sequenceId belonging to the same instance shares the same workflowBase.
const WorkflowUnit = 10000

// MaxFanOut is the largest fan-out a single fork may have; a JoinNode with
// more than this many incoming arcs cannot be deployed.
const MaxFanOut = 99

// WorkflowBase returns the largest multiple of WorkflowUnit <= sequenceID.
func WorkflowBase(sequenceID int64) int64 {
	return sequenceID - (sequenceID % WorkflowUnit)
}

// Fork computes the k child sequence ids produced by a fan-out of k at
// parent. Children are WorkflowBase(parent) + k*100 + i for i in [1..k].
func Fork(parent int64, k int) ([]int64, error) {
	if k < 2 {
		return nil, fmt.Errorf("codec: fan-out must be >= 2, got %d", k)
	}
	if k > MaxFanOut {
		return nil, fmt.Errorf("codec: fan-out %d exceeds max %d", k, MaxFanOut)
	}
	base := WorkflowBase(parent)
	children := make([]int64, k)
	for i := 1; i <= k; i++ {
		children[i-1] = base + int64(k)*100 + int64(i)
	}
	return children, nil
}

// Decoded is the result of decoding a sequenceId's fork/join identity.
type Decoded struct {
	WorkflowBase int64
	JoinCount    int
	Branch       int
}

// Decode splits a sequenceId into its workflowBase, encoded joinCount and
// branch number. Decode never errors: every int64 decodes to something, but
// Decoded.Encoded() tells you whether the result is meaningful.
func Decode(sequenceID int64) Decoded {
	base := WorkflowBase(sequenceID)
	rem := sequenceID - base
	return Decoded{
		WorkflowBase: base,
		JoinCount:    int(rem / 100),
		Branch:       int(rem % 100),
	}
}

// Encoded reports whether this decode represents a genuine fork/join
// encoding (joinCount >= 2 and branch in [1, joinCount]), as opposed to a
// plain unforked sequenceId.
func (d Decoded) Encoded() bool {
	return d.JoinCount >= 2 && d.Branch >= 1 && d.Branch <= d.JoinCount
}
