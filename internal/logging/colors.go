package logging

import "github.com/fatih/color"

// Colors are disabled by fatih/color when the output is not a terminal, or
// when NO_COLOR is set.
var (
	colorMeta  = color.New(color.FgWhite)
	colorError = color.New(color.FgRed, color.Bold)
	colorWarn  = color.New(color.FgRed)
	colorInfo  = color.New(color.Reset)
	colorDebug = color.New(color.FgGreen)
	colorTrace = color.New(color.FgYellow)
)
