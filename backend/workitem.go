package backend

import (
	"errors"
	"fmt"
	"time"

	"github.com/microsoft/durabletask-webjobs-go/api"
)

// ErrNoWorkItems is returned by stores when no work item is ready; workers back off on it.
var ErrNoWorkItems = errors.New("no work items were found")

// maxAbandonDelay caps the visibility delay of repeatedly abandoned orchestration work items.
const maxAbandonDelay = 5 * time.Minute

type WorkItem interface {
	Description() string
}

// OrchestrationWorkItem is one locked batch of inbox messages for an instance.
type OrchestrationWorkItem struct {
	InstanceID api.InstanceID
	NewEvents  []*HistoryEvent
	LockedBy   string
	// RetryCount is how often these messages were dequeued before.
	RetryCount int32
	State      *OrchestrationRuntimeState
}

func (wi *OrchestrationWorkItem) Description() string {
	return fmt.Sprintf("%v (%d event(s))", wi.InstanceID, len(wi.NewEvents))
}

// GetAbandonDelay grows by a second per retry up to maxAbandonDelay.
func (wi *OrchestrationWorkItem) GetAbandonDelay() time.Duration {
	if wi.RetryCount <= 0 {
		return 0
	}
	return min(time.Duration(wi.RetryCount)*time.Second, maxAbandonDelay)
}

// ActivityWorkItem is one locked activity invocation. Result is set by the
// processor before completion.
type ActivityWorkItem struct {
	SequenceNumber int64
	InstanceID     api.InstanceID
	NewEvent       *HistoryEvent
	Result         *HistoryEvent
	LockedBy       string
}

func (wi *ActivityWorkItem) Description() string {
	name := "(unknown)"
	if ts := wi.NewEvent.GetTaskScheduled(); ts != nil {
		name = ts.Name
	}
	return fmt.Sprintf("%s/%s#%d", wi.InstanceID, name, wi.NewEvent.EventID)
}
