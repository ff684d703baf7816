package extractor

import (
	"github.com/maziazy/Lemon/internal/conntrack"
	"github.com/maziazy/Lemon/internal/model"
)

// flow is a registry entry: the connection tracker and the feature accumulator
// of one flow. They are created and dropped together.
type flow struct {
	conn     *conntrack.Connection
	features *model.Features

	sideARecorded bool
}

// flowTable is the flow registry of one extraction run. Flows are keyed by the
// orientation of their initial SYN.
type flowTable struct {
	flows   map[model.FiveTuple]*flow
	evicted map[model.FiveTuple]struct{}
}

func newFlowTable() *flowTable {
	return &flowTable{
		flows:   make(map[model.FiveTuple]*flow),
		evicted: make(map[model.FiveTuple]struct{}),
	}
}

// lookup returns the registered key and flow for a packet tuple, trying the
// tuple as is and then reversed.
func (t *flowTable) lookup(ft model.FiveTuple) (model.FiveTuple, *flow, bool) {
	if f, ok := t.flows[ft]; ok {
		return ft, f, true
	}
	rev := ft.Reverse()
	if f, ok := t.flows[rev]; ok {
		return rev, f, true
	}
	return model.FiveTuple{}, nil, false
}

// wasEvicted reports whether a flow with this tuple, in either orientation,
// already completed during the run.
func (t *flowTable) wasEvicted(ft model.FiveTuple) bool {
	if _, ok := t.evicted[ft]; ok {
		return true
	}
	_, ok := t.evicted[ft.Reverse()]
	return ok
}

func (t *flowTable) admit(key model.FiveTuple, f *flow) {
	t.flows[key] = f
}

func (t *flowTable) evict(key model.FiveTuple) {
	delete(t.flows, key)
	t.evicted[key] = struct{}{}
}

func (t *flowTable) len() int {
	return len(t.flows)
}
