package queue

import (
	"container/heap"

	"github.com/xraph/genqueue/id"
)

type entry struct {
	id       id.JobID
	priority int
	seq      uint64
	index    int
}

type entries []*entry

func (e entries) Len() int { return len(e) }

func (e entries) Less(i, j int) bool {
	if e[i].priority != e[j].priority {
		return e[i].priority < e[j].priority
	}
	return e[i].seq < e[j].seq
}

func (e entries) Swap(i, j int) {
	e[i], e[j] = e[j], e[i]
	e[i].index = i
	e[j].index = j
}

func (e *entries) Push(x any) {
	en := x.(*entry) //nolint:errcheck // only *entry is ever pushed
	en.index = len(*e)
	*e = append(*e, en)
}

func (e *entries) Pop() any {
	old := *e
	n := len(old)
	en := old[n-1]
	old[n-1] = nil
	en.index = -1
	*e = old[:n-1]
	return en
}

// Pending is the ordered sequence of queued job IDs. Lower priority values
// come out first; equal priorities come out in insertion order.
//
// Pending is not safe for concurrent use. The worker pool guards it with
// the same mutex that guards its running set.
type Pending struct {
	items entries
	byID  map[id.JobID]*entry
	seq   uint64
}

// NewPending returns an empty sequence.
func NewPending() *Pending {
	return &Pending{byID: make(map[id.JobID]*entry)}
}

// Push appends jobID. Pushing an ID already present is a no-op.
func (p *Pending) Push(jobID id.JobID, priority int) {
	if _, ok := p.byID[jobID]; ok {
		return
	}
	p.seq++
	en := &entry{id: jobID, priority: priority, seq: p.seq}
	heap.Push(&p.items, en)
	p.byID[jobID] = en
}

// Pop removes and returns the next ID to dispatch.
func (p *Pending) Pop() (id.JobID, bool) {
	if len(p.items) == 0 {
		return id.Nil, false
	}
	en := heap.Pop(&p.items).(*entry) //nolint:errcheck // only *entry is stored
	delete(p.byID, en.id)
	return en.id, true
}

// Remove deletes jobID and reports whether it was present.
func (p *Pending) Remove(jobID id.JobID) bool {
	en, ok := p.byID[jobID]
	if !ok {
		return false
	}
	heap.Remove(&p.items, en.index)
	delete(p.byID, jobID)
	return true
}

// Contains reports whether jobID is queued.
func (p *Pending) Contains(jobID id.JobID) bool {
	_, ok := p.byID[jobID]
	return ok
}

// Len returns the number of queued IDs.
func (p *Pending) Len() int { return len(p.items) }
