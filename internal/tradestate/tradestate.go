// Package tradestate implements the trade lifecycle state machine: every
// ingested trade moves received -> classified -> priced -> applied, or
// drops out to the terminal dropped state from any non-terminal point.
package tradestate

import (
	"fmt"
	"sync"
)

// State is one point in a trade's lifecycle.
type State string

const (
	// Received is the initial state once a trade frame has been parsed.
	Received State = "received"
	// ClassifiedBuy marks a trade resolved as a customer buy.
	ClassifiedBuy State = "classified_buy"
	// ClassifiedSell marks a trade resolved as a customer sell.
	ClassifiedSell State = "classified_sell"
	// ClassifiedUnknown marks a trade whose side could not be resolved.
	ClassifiedUnknown State = "classified_unknown"
	// Priced marks a trade that has an implied-vol/gamma evaluation.
	Priced State = "priced"
	// Applied marks a trade folded into the dealer book.
	Applied State = "applied"
	// Dropped is terminal: the trade exited the pipeline without being applied.
	Dropped State = "dropped"
)

// Transition names the condition under which a state change happens, used
// both for validation and for labeling the per-condition counters.
type Transition struct {
	From      State
	To        State
	Condition string
}

// validTransitions enumerates every legal move through the lifecycle.
var validTransitions = []Transition{
	{Received, ClassifiedBuy, "nbbo_buy"},
	{Received, ClassifiedSell, "nbbo_sell"},
	{Received, ClassifiedUnknown, "nbbo_unknown"},
	{Received, Dropped, "no_usable_quote"},
	{Received, Dropped, "parse_error"},

	{ClassifiedBuy, Priced, "gamma_evaluated"},
	{ClassifiedSell, Priced, "gamma_evaluated"},
	{ClassifiedBuy, Dropped, "no_solution"},
	{ClassifiedSell, Dropped, "no_solution"},
	{ClassifiedBuy, Dropped, "missing_spot"},
	{ClassifiedSell, Dropped, "missing_spot"},
	{ClassifiedUnknown, Dropped, "unclassified"},

	{Priced, Applied, "book_updated"},
	{Priced, Dropped, "book_invariant_violation"},
}

var transitionLookup map[State]map[State]map[string]bool

func init() {
	transitionLookup = make(map[State]map[State]map[string]bool)
	for _, tr := range validTransitions {
		if transitionLookup[tr.From] == nil {
			transitionLookup[tr.From] = make(map[State]map[string]bool)
		}
		if transitionLookup[tr.From][tr.To] == nil {
			transitionLookup[tr.From][tr.To] = make(map[string]bool)
		}
		transitionLookup[tr.From][tr.To][tr.Condition] = true
	}
}

// Machine tracks one trade's progress through the lifecycle. The
// engine-wide counters are kept separately in Counters.
type Machine struct {
	current State
}

// New creates a Machine at the Received state.
func New() *Machine {
	return &Machine{current: Received}
}

// Current returns the machine's current state.
func (m *Machine) Current() State { return m.current }

// Transition validates and applies a move to `to` under `condition`,
// reporting an error on any move not present in validTransitions.
func (m *Machine) Transition(to State, condition string) error {
	toMap, ok := transitionLookup[m.current]
	if !ok {
		return fmt.Errorf("tradestate: no transitions defined from %s", m.current)
	}
	conds, ok := toMap[to]
	if !ok || !conds[condition] {
		return fmt.Errorf("tradestate: invalid transition %s -> %s on %q", m.current, to, condition)
	}
	m.current = to
	return nil
}

// IsTerminal reports whether the current state ends the trade's lifecycle.
func (m *Machine) IsTerminal() bool {
	return m.current == Applied || m.current == Dropped
}

// Counters accumulates event counts keyed by condition name: the condition
// of each trade's terminal transition, plus any other condition the caller
// records (the engine also records "iv_fallback_used"). Record is
// called from the engine's processing loop while Snapshot is read
// concurrently by the status API, so access is mutex-guarded.
type Counters struct {
	mu          sync.Mutex
	byCondition map[string]int64
}

// NewCounters creates an empty Counters.
func NewCounters() *Counters {
	return &Counters{byCondition: make(map[string]int64)}
}

// Record increments the counter for condition.
func (c *Counters) Record(condition string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCondition[condition]++
}

// Snapshot returns a copy of the counter map.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.byCondition))
	for k, v := range c.byCondition {
		out[k] = v
	}
	return out
}
