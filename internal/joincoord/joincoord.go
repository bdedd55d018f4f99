// Package joincoord implements the shared, process-wide join-attribute map
// and join-window map that make parallel-split/parallel-merge work without
// a central coordinator (spec §3 Invariants, §4.6 step 6, §5 Shared state).
// Design Notes §9 models this as a single JoinCoordinator with offer/sweep
// instead of mirroring the source's two raw concurrent maps, so a single
// per-base lock guarantees at-most-one consumer of a completed join.
package joincoord

import (
	"strconv"
	"sync"
)

// Mode selects how joins are scheduled across workflow bases (spec §4.6
// "Two scheduling modes").
type Mode string

const (
	// Optimized fires a base the instant its own required count is reached,
	// regardless of older incomplete bases.
	Optimized Mode = "optimized"
	// Sequential only ever fires the smallest base, blocking later-arriving
	// complete joins behind an incomplete earlier one. A base that completes
	// out of order is held as "ready" and only fires once every base with a
	// smaller workflowBase under the same join has fired or expired.
	Sequential Mode = "sequential"
)

// Contribution is one branch's payload offered to a join.
type Contribution struct {
	SequenceID        int64
	AttributeName     string
	AttributeValue    string
	WorkflowStartTime int64
	RuleBaseVersion   string
}

// baseKey scopes in-flight joins by the join transition that owns them
// (joinID, typically the place's PlaceID) as well as by workflowBase, so
// two unrelated joins whose workflowBases happen to collide never
// interfere with one another's scheduling order.
type baseKey struct {
	joinID       string
	workflowBase int64
}

// base holds the in-progress state for one workflowBase's join.
type base struct {
	mu       sync.Mutex
	required int                      // decoded joinCount, or binding arity fallback
	keyed    map[string]Contribution  // PetriNet: keyed by sequenceId; SOA: keyed by attribute name
	notAfter int64                    // 0 means no expiry window
	consumed bool
	ready    bool // satisfied but held back by SEQUENTIAL mode, awaiting its turn
}

func (b *base) expired(now int64) bool { return b.notAfter > 0 && now >= b.notAfter }

// Completed describes a join that just reached its required count.
type Completed struct {
	WorkflowBase      int64
	ContinuationID    int64 // lowest sequenceId among contributors
	WorkflowStartTime int64 // workflowStartTime contributed with ContinuationID
	RuleBaseVersion   string
	Contributions     []Contribution
}

// Coordinator owns every in-flight join across all orchestrators on a host.
// One instance is shared process-wide, per spec §4.6/§5.
type Coordinator struct {
	mu    sync.Mutex
	bases map[baseKey]*base
	soa   bool // SOA mode keys contributions by attribute name; PetriNet by sequenceId
	mode  Mode
}

// New returns an empty Coordinator. soaMode selects the keying discipline
// from spec §4.6 step 6 (JoinNode coordination). mode selects the
// OPTIMIZED/SEQUENTIAL scheduling policy; an empty Mode defaults to
// OPTIMIZED, today's fire-as-soon-as-complete behavior.
func New(soaMode bool, mode Mode) *Coordinator {
	if mode == "" {
		mode = Optimized
	}
	return &Coordinator{bases: make(map[baseKey]*base), soa: soaMode, mode: mode}
}

// Offer records one branch's contribution to the join identified by
// (joinID, workflowBase), creating the base's state on first arrival.
// joinID scopes the SEQUENTIAL ordering decision below (spec §4.6: "only
// ever fire the smallest base") to the single join transition contrib
// belongs to — ordinarily the place's PlaceID.
//
// It returns a non-nil *Completed iff this offer both completed the join
// (all required keys present, not past notAfter) and the Coordinator's
// mode allows it to fire now. Under OPTIMIZED, a completed base always
// fires immediately. Under SEQUENTIAL, a completed base only fires
// immediately if no other in-flight base under the same joinID has a
// smaller workflowBase; otherwise it is marked ready and held until
// DrainReady releases it. The caller must treat a returned Completed as
// the sole consumer for that base — Offer deletes the base's entry as
// part of returning Completed, per spec §4.6 step 6.5 ("do not allow the
// same base to re-enter").
func (c *Coordinator) Offer(joinID string, workflowBase int64, required int, notAfter int64, contrib Contribution, now int64) *Completed {
	key := baseKey{joinID: joinID, workflowBase: workflowBase}
	b := c.getOrCreate(key, required, notAfter)

	b.mu.Lock()
	if b.consumed {
		b.mu.Unlock()
		return nil
	}
	if b.expired(now) {
		b.mu.Unlock()
		return nil // expired; sweep will remove it
	}

	mapKey := contrib.AttributeName
	if !c.soa {
		mapKey = strconv.FormatInt(contrib.SequenceID, 10)
	}
	if _, exists := b.keyed[mapKey]; !exists {
		b.keyed[mapKey] = contrib
	}

	if len(b.keyed) < b.required {
		b.mu.Unlock()
		return nil
	}
	b.ready = true
	b.mu.Unlock()

	if c.mode == Sequential && !c.isMinimumInFlight(joinID, workflowBase) {
		return nil // a smaller base under the same join is still incomplete
	}
	return c.consume(key, b)
}

// isMinimumInFlight reports whether workflowBase is the smallest
// workflowBase currently tracked (consumed bases are already removed) for
// joinID.
func (c *Coordinator) isMinimumInFlight(joinID string, workflowBase int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.bases {
		if k.joinID == joinID && k.workflowBase < workflowBase {
			return false
		}
	}
	return true
}

// consume finalizes b as the sole consumer of key's join and builds its
// Completed record.
func (c *Coordinator) consume(key baseKey, b *base) *Completed {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return nil
	}

	completed := &Completed{WorkflowBase: key.workflowBase}
	lowest := int64(-1)
	for _, v := range b.keyed {
		completed.Contributions = append(completed.Contributions, v)
		if lowest == -1 || v.SequenceID < lowest {
			lowest = v.SequenceID
			completed.WorkflowStartTime = v.WorkflowStartTime
			completed.RuleBaseVersion = v.RuleBaseVersion
		}
	}
	completed.ContinuationID = lowest

	b.consumed = true
	c.mu.Lock()
	delete(c.bases, key)
	c.mu.Unlock()

	return completed
}

// DrainReady releases SEQUENTIAL-mode bases under joinID that were held
// back by Offer and can now fire, in ascending workflowBase order: the
// smallest tracked base blocks everything behind it until it either
// completes (ready) or is swept away expired. Call this after every Sweep
// so a SEQUENTIAL join that was stuck behind an expired blocker makes
// progress again. A no-op under OPTIMIZED mode, since Offer never defers
// completion there.
func (c *Coordinator) DrainReady(joinID string, now int64) []Completed {
	var out []Completed
	for {
		key, b := c.smallestInFlight(joinID)
		if b == nil {
			return out
		}

		b.mu.Lock()
		expired := b.expired(now)
		ready := b.ready && !b.consumed
		b.mu.Unlock()

		if expired {
			c.mu.Lock()
			delete(c.bases, key)
			c.mu.Unlock()
			continue
		}
		if !ready {
			return out // smallest base is still incomplete; nothing behind it can fire
		}

		completed := c.consume(key, b)
		if completed == nil {
			continue
		}
		out = append(out, *completed)
	}
}

func (c *Coordinator) smallestInFlight(joinID string) (baseKey, *base) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		found bool
		min   baseKey
		minB  *base
	)
	for k, b := range c.bases {
		if k.joinID != joinID {
			continue
		}
		if !found || k.workflowBase < min.workflowBase {
			found, min, minB = true, k, b
		}
	}
	return min, minB
}

// ReadyBases returns the workflowBases under joinID with a complete but
// unconsumed join, in no particular order, for diagnostics. A SEQUENTIAL
// base held back by Offer shows up here until DrainReady releases it; an
// OPTIMIZED base never does, since Offer consumes it atomically the
// instant it completes.
func (c *Coordinator) ReadyBases(joinID string) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int64
	for k, b := range c.bases {
		if k.joinID != joinID {
			continue
		}
		b.mu.Lock()
		ready := b.ready && !b.consumed
		b.mu.Unlock()
		if ready {
			out = append(out, k.workflowBase)
		}
	}
	return out
}

// Sweep discards every in-flight base whose notAfter has passed (spec §4.6
// step 6 "Expired bases ... are swept", §7 JOIN_EXPIRED: "local sweep, not
// surfaced"), across every joinID. Returns the workflowBases that were
// discarded. Callers running SEQUENTIAL joins should follow this with
// DrainReady so a base stuck behind an expired blocker can fire.
func (c *Coordinator) Sweep(now int64) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expired []int64
	for k, b := range c.bases {
		b.mu.Lock()
		past := b.expired(now)
		b.mu.Unlock()
		if past {
			expired = append(expired, k.workflowBase)
			delete(c.bases, k)
		}
	}
	return expired
}

func (c *Coordinator) getOrCreate(key baseKey, required int, notAfter int64) *base {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bases[key]
	if !ok {
		b = &base{required: required, notAfter: notAfter, keyed: make(map[string]Contribution)}
		c.bases[key] = b
	}
	return b
}
