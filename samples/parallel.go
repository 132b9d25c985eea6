package samples

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/microsoft/durabletask-webjobs-go/binding"
	"github.com/microsoft/durabletask-webjobs-go/task"
)

// UpdateDevicesOrchestrator fans out one UpdateDevice activity per device and returns the
// success rate. The input is the number of devices; zero means ten.
func UpdateDevicesOrchestrator(ctx *binding.OrchestrationInstanceContext) (any, error) {
	var n int
	if err := ctx.GetInput(&n); err != nil {
		return nil, err
	}

	var devices []string
	if err := ctx.ScheduleTask(GetDevicesToUpdate, n).Await(&devices); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return float32(0), nil
	}

	// Every update is scheduled before the first one is awaited.
	updates := make([]task.Task, len(devices))
	for i, device := range devices {
		updates[i] = ctx.ScheduleTask(UpdateDevice, device)
	}

	var updated int
	for _, update := range updates {
		var ok bool
		if update.Await(&ok) == nil && ok {
			updated++
		}
	}
	return float32(updated) / float32(len(devices)), nil
}

// GetDevicesToUpdateActivity invents the requested number of device ids.
func GetDevicesToUpdateActivity(ctx *binding.ActivityInstanceContext) (any, error) {
	var n int
	if err := ctx.GetInput(&n); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 10
	}
	devices := make([]string, n)
	for i := range devices {
		devices[i] = uuid.NewString()
	}
	return devices, nil
}

// UpdateDeviceActivity pretends to update a device, succeeding two times out of three.
func UpdateDeviceActivity(ctx *binding.ActivityInstanceContext) (any, error) {
	var device string
	if err := ctx.GetInput(&device); err != nil {
		return nil, err
	}
	time.Sleep(time.Duration(rand.Int31n(50)) * time.Millisecond)
	return rand.Intn(3) != 0, nil
}
