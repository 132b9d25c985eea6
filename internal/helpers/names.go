package helpers

import (
	"reflect"
	"runtime"
	"strings"
)

// GetTaskFunctionName returns the name of a task function. Strings are returned unchanged;
// functions are named after their unqualified Go symbol.
func GetTaskFunctionName(f any) string {
	if name, ok := f.(string); ok {
		return name
	}
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func {
		return ""
	}
	fullName := runtime.FuncForPC(v.Pointer()).Name()
	// e.g. github.com/org/pkg.MyActivity
	if i := strings.LastIndex(fullName, "."); i >= 0 {
		return fullName[i+1:]
	}
	return fullName
}
