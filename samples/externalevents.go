package samples

import (
	"fmt"

	"github.com/microsoft/durabletask-webjobs-go/binding"
)

// ApprovalOrchestrator waits for an "approved" event carrying a bool. Events raised before
// the wait starts are only seen when the host buffers unclaimed events.
func ApprovalOrchestrator(ctx *binding.OrchestrationInstanceContext) (any, error) {
	var request string
	if err := ctx.GetInput(&request); err != nil {
		return nil, err
	}
	if err := ctx.SetCustomStatus("waiting for approval"); err != nil {
		return nil, err
	}
	approved, err := binding.WaitForExternalEvent[bool](ctx, "approved").Get()
	if err != nil {
		return nil, err
	}
	if !approved {
		return fmt.Sprintf("%s: rejected", request), nil
	}
	return fmt.Sprintf("%s: approved", request), nil
}
