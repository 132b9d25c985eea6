package task

import (
	"time"

	"github.com/microsoft/durabletask-webjobs-go/backend"
)

// CreateTimer schedules a durable timer that fires at fireAt. Awaiting the returned task
// yields state once the timer has fired.
func (ctx *OrchestrationContext) CreateTimer(fireAt time.Time, state any) Task {
	data, err := marshalData(state)
	if err != nil {
		return failedTask(ctx, "timer", err)
	}
	t := newTask(ctx, "timer")
	t.rawResult = data
	ctx.outbox.add(backend.NewCreateTimerAction(ctx.outbox.nextID(), fireAt.UTC()), t)
	return t
}

// CreateTimerDelay schedules a durable timer that expires after delay, measured from
// the orchestration's current time.
func (ctx *OrchestrationContext) CreateTimerDelay(delay time.Duration) Task {
	return ctx.CreateTimer(ctx.CurrentTimeUtc.Add(delay), nil)
}
