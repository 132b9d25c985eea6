package task

import (
	"fmt"
	"sort"

	"github.com/microsoft/durabletask-webjobs-go/backend"
)

// history walks the persisted events (replaying) and then the new ones.
type history struct {
	old, new []*backend.HistoryEvent
	pos      int
}

func (h *history) next() (e *backend.HistoryEvent, replaying bool, ok bool) {
	switch {
	case h.pos < len(h.old):
		e, replaying = h.old[h.pos], true
	case h.pos < len(h.old)+len(h.new):
		e = h.new[h.pos-len(h.old)]
	default:
		return nil, false, false
	}
	h.pos++
	return e, replaying, true
}

// outbox holds what the current execution has scheduled, keyed by sequence number:
// actions not yet confirmed by history and tasks still waiting for a result.
// Sequence numbers are assigned in call order, so a replay reproduces them as long
// as the orchestrator is deterministic.
type outbox struct {
	seq     int32
	actions map[int32]*backend.OrchestratorAction
	tasks   map[int32]*completableTask
}

func newOutbox() *outbox {
	return &outbox{
		actions: make(map[int32]*backend.OrchestratorAction),
		tasks:   make(map[int32]*completableTask),
	}
}

func (o *outbox) nextID() int32 {
	id := o.seq
	o.seq++
	return id
}

// add records an action and, when the action produces a result, the task awaiting it.
func (o *outbox) add(a *backend.OrchestratorAction, t *completableTask) {
	o.actions[a.ID] = a
	if t != nil {
		o.tasks[a.ID] = t
	}
}

// confirm removes an action that history shows was already committed by an earlier
// execution. A missing or different action means the orchestrator is not deterministic.
func (o *outbox) confirm(id int32, kind string, what string) error {
	if a, ok := o.actions[id]; !ok || a.TypeName() != kind {
		return fmt.Errorf(
			"history has %s %s at sequence number %d, but the current execution did not schedule it at this point; the orchestrator is not deterministic",
			kind, what, id)
	}
	delete(o.actions, id)
	return nil
}

// take removes and returns the task waiting for the result with the given sequence number.
func (o *outbox) take(id int32, what string) (*completableTask, error) {
	t, ok := o.tasks[id]
	if !ok {
		return nil, fmt.Errorf("received %s for sequence number %d, which the current execution never scheduled", what, id)
	}
	delete(o.tasks, id)
	return t, nil
}

// discard drops all actions; a failing execution dispatches nothing it scheduled.
func (o *outbox) discard() {
	clear(o.actions)
}

func (o *outbox) sorted() []*backend.OrchestratorAction {
	actions := make([]*backend.OrchestratorAction, 0, len(o.actions))
	for _, a := range o.actions {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].ID < actions[j].ID })
	return actions
}
