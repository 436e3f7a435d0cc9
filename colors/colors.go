package colors

import (
	"fmt"

	"github.com/fatih/color"
)

var (
	Red     = color.New(color.FgRed).SprintFunc()
	Yellow  = color.New(color.FgYellow).SprintFunc()
	Green   = color.New(color.FgGreen).SprintFunc()
	Blue    = color.New(color.FgBlue).SprintFunc()
	Magenta = color.New(color.FgMagenta).SprintFunc()
)

// Prefix returns a colored "[component] " label for log lines
func Prefix(component string, colorFunc func(a ...interface{}) string) string {
	return colorFunc(fmt.Sprintf("[%s] ", component))
}
