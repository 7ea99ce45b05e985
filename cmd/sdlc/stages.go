package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

var stagesFormat string

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Print the stage registry",
	Long: `Print the nine stages with the artifacts each one requires and
produces, the agent tasks it runs and its feedback policy.`,
	RunE: runStages,
}

func init() {
	stagesCmd.Flags().StringVarP(&stagesFormat, "output", "o", "table", "Output format: table or yaml")
}

func runStages(cmd *cobra.Command, args []string) error {
	stages := engine.DefaultRegistry().Stages()

	switch stagesFormat {
	case "yaml":
		specs := make([]engine.StageSpec, len(stages))
		for i, s := range stages {
			specs[i] = *s
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(specs)
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", stagesFormat)
	}

	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)
	for _, s := range stages {
		bold.Printf("%d. %s\n", s.Order, s.Name)
		var tasks []string
		for _, st := range s.Steps {
			tasks = append(tasks, fmt.Sprintf("%s (%s)", st.Task, st.When))
		}
		fmt.Printf("   requires: %s\n", orNone(s.Requires))
		fmt.Printf("   tasks:    %s\n", orNone(tasks))
		fmt.Printf("   produces: %s\n", orNone(s.Produces))
		dim.Printf("   feedback: %s\n", s.Feedback.Kind)
	}
	return nil
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
