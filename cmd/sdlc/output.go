package main

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// printView reports where a run stands after a decision.
func printView(v *engine.View) {
	switch {
	case v.Condition != nil:
		printStatus("✗", fmt.Sprintf("%s: %s", v.Stage, v.Condition.Message), color.FgRed)
	case v.Status == engine.StatusGate:
		printStatus("⏸", fmt.Sprintf("%s awaiting approval", v.Stage), color.FgYellow)
	case v.Status == engine.StatusCompleted:
		printStatus("✓", fmt.Sprintf("%s completed", v.Stage), color.FgGreen)
	default:
		printStatus("•", fmt.Sprintf("%s %s", v.Stage, v.Status), color.FgCyan)
	}
}
