// Package ui renders the planning pipeline for a terminal: a live flow of
// stage transitions while a trial runs, and tables for the resulting action
// list and the vocabulary.
package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/thor-planner/internal/types"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
	ansiBlue   = "\033[34m"
)

var stageEmoji = map[types.Stage]string{
	types.StageReceived:    "📥",
	types.StageValidating:  "🔍",
	types.StagePlanning:    "📐",
	types.StageNormalizing: "🧹",
	types.StageCompleted:   "🏁",
}

var stageColor = map[types.Stage]string{
	types.StageReceived:    ansiDim,
	types.StageValidating:  ansiCyan,
	types.StagePlanning:    ansiBlue,
	types.StageNormalizing: ansiYellow,
}

var stageStatus = map[types.Stage]string{
	types.StageReceived:    "📥 received...",
	types.StageValidating:  "🔍 validating payload...",
	types.StagePlanning:    "📐 planning actions...",
	types.StageNormalizing: "🧹 normalizing actions...",
}

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Options tune a Display.
type Options struct {
	// Width caps each flow line in terminal cells. Zero means 80.
	Width int
	// Color enables ANSI colours.
	Color bool
	// Spinner animates the current stage between flow lines.
	Spinner bool
}

// Display draws one box per run: a flow line per stage and per failed
// planner attempt, closed by the outcome.
type Display struct {
	w       io.Writer
	opts    Options
	mu      sync.Mutex
	status  string
	started time.Time
	inRun   bool
	spinIdx int
}

// New creates a Display writing to w.
func New(w io.Writer, opts Options) *Display {
	if opts.Width <= 0 {
		opts.Width = 80
	}
	return &Display{w: w, opts: opts}
}

// Run renders msgs until the channel closes or ctx ends. All writes happen
// on the calling goroutine.
func (d *Display) Run(ctx context.Context, msgs <-chan types.Message) {
	var tick <-chan time.Time
	if d.opts.Spinner {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.clearLine()
			return

		case msg, ok := <-msgs:
			if !ok {
				if d.inRun {
					d.clearLine()
					d.endRun(false)
				}
				return
			}
			if !d.inRun {
				d.startRun()
			}
			d.clearLine()
			if line := d.flowLine(msg); line != "" {
				fmt.Fprintln(d.w, line)
			}
			if s := stageStatus[msg.Stage]; s != "" && msg.Type == types.MsgStageChanged {
				d.setStatus(s)
			}
			if msg.Type == types.MsgOutcome {
				out, _ := msg.Payload.(types.PlanningOutcome)
				d.endRun(!out.Failed())
			}

		case <-tick:
			if !d.inRun {
				continue
			}
			frame := spinRunes[d.spinIdx%len(spinRunes)]
			d.spinIdx++
			d.mu.Lock()
			status := d.status
			d.mu.Unlock()
			fmt.Fprintf(d.w, "\r%s %s", d.paint(ansiCyan, string(frame)), status)
		}
	}
}

func (d *Display) clearLine() {
	if d.opts.Spinner {
		fmt.Fprint(d.w, "\r\033[K")
	}
}

func (d *Display) startRun() {
	d.started = time.Now()
	d.inRun = true
	d.setStatus("starting...")
	fmt.Fprintln(d.w, d.paint(ansiDim, "┌─── ⚡ thorplan pipeline "+strings.Repeat("─", 36)))
}

func (d *Display) endRun(success bool) {
	d.inRun = false
	elapsed := time.Since(d.started).Round(time.Millisecond)
	icon := "✅"
	if !success {
		icon = "❌"
	}
	fmt.Fprintln(d.w, d.paint(ansiDim, fmt.Sprintf("└─── %s  %v %s", icon, elapsed, strings.Repeat("─", 35))))
}

func (d *Display) setStatus(s string) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// flowLine renders msg as one line no wider than Options.Width cells.
// Successful planner attempts are not shown.
func (d *Display) flowLine(msg types.Message) string {
	var label, color string
	switch msg.Type {
	case types.MsgStageChanged:
		label = string(msg.Stage)
		color = stageColor[msg.Stage]
	case types.MsgPlannerAttempt:
		ev, ok := msg.Payload.(types.AttemptEvent)
		if !ok || ev.Kind == "" {
			return ""
		}
		label = fmt.Sprintf("attempt %d: %s", ev.Attempt, ev.Kind)
		color = ansiRed
	case types.MsgOutcome:
		out, _ := msg.Payload.(types.PlanningOutcome)
		label = outcomeDetail(out)
		color = ansiGreen
		if out.Failed() {
			color = ansiRed
		}
	default:
		return ""
	}

	emoji, ok := stageEmoji[msg.Stage]
	if !ok {
		emoji = "•"
	}
	key := msg.TaskID
	if key == "" {
		key = "-"
	}
	plain := fmt.Sprintf("  %s %s ──[%s]", emoji, key, label)
	plain = runewidth.Truncate(plain, d.opts.Width, "…")
	if !d.opts.Color || color == "" {
		return plain
	}
	// Colour only the bracketed label so truncation widths stay exact.
	open := strings.Index(plain, "──[")
	if open < 0 {
		return plain
	}
	open += len("──[")
	return plain[:open] + color + plain[open:] + ansiReset
}

func outcomeDetail(out types.PlanningOutcome) string {
	switch {
	case out.Failure != nil:
		if out.Failure.Code != "" {
			return fmt.Sprintf("%s %s/%s", out.Status, out.Failure.Kind, out.Failure.Code)
		}
		return fmt.Sprintf("%s %s", out.Status, out.Failure.Kind)
	case len(out.Diagnostics) > 0:
		return fmt.Sprintf("%s %d step(s), %d dropped", out.Status, len(out.Actions), len(out.Diagnostics))
	default:
		return fmt.Sprintf("%s %d step(s)", out.Status, len(out.Actions))
	}
}

func (d *Display) paint(color, s string) string {
	if !d.opts.Color {
		return s
	}
	return color + s + ansiReset
}
