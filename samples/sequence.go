package samples

import (
	"fmt"

	"github.com/microsoft/durabletask-webjobs-go/binding"
)

var cities = []string{"Tokyo", "London", "Seattle"}

// ActivitySequenceOrchestrator greets each city in turn, one activity at a time.
func ActivitySequenceOrchestrator(ctx *binding.OrchestrationInstanceContext) (any, error) {
	greetings := make([]string, len(cities))
	for i, city := range cities {
		if err := ctx.ScheduleTask(SayHello, city).Await(&greetings[i]); err != nil {
			return nil, fmt.Errorf("greeting %s: %w", city, err)
		}
	}
	return greetings, nil
}

func SayHelloActivity(ctx *binding.ActivityInstanceContext) (any, error) {
	var city string
	err := ctx.GetInput(&city)
	return "Hello, " + city + "!", err
}
