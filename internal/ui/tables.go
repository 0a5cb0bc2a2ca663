package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/haricheung/thor-planner/internal/types"
	"github.com/haricheung/thor-planner/internal/vocab"
)

// RenderOutcome writes the action list of out as a table, followed by a
// table of dropped steps and, for a failure, the error line.
func RenderOutcome(w io.Writer, out types.PlanningOutcome) {
	if len(out.Actions) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetTitle(fmt.Sprintf("%s: %s", out.TaskID, out.Status))
		tw.AppendHeader(table.Row{"#", "Action", "Args"})
		for _, step := range out.Actions {
			tw.AppendRow(table.Row{step.Index, step.Action, strings.Join(step.Args, ", ")})
		}
		tw.Render()
	}

	if len(out.Diagnostics) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetTitle("Dropped")
		tw.AppendHeader(table.Row{"Line", "Input", "Reason"})
		for _, d := range out.Diagnostics {
			tw.AppendRow(table.Row{d.Line, d.Input, d.Reason})
		}
		tw.Render()
	}

	if out.Failure != nil {
		fmt.Fprintf(w, "%s: %s\n", out.Status, out.Failure.Message)
	}
}

// RenderVocabulary writes every action of voc with its parameters.
func RenderVocabulary(w io.Writer, voc *vocab.Vocabulary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("AI2-THOR vocabulary " + voc.Version)
	tw.AppendHeader(table.Row{"Action", "Call", "Description"})
	for _, name := range voc.Names() {
		a, _ := voc.Lookup(name)
		tw.AppendRow(table.Row{a.Name, a.Signature(), a.Description})
	}
	tw.Render()
}
