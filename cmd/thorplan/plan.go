package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/haricheung/thor-planner/internal/a2a"
	"github.com/haricheung/thor-planner/internal/bus"
	"github.com/haricheung/thor-planner/internal/messenger"
	"github.com/haricheung/thor-planner/internal/types"
	"github.com/haricheung/thor-planner/internal/ui"
)

var errPlanFailed = errors.New("planning failed")

func planCmd() *cobra.Command {
	var (
		o        overrides
		file     string
		asJSON   bool
		noFlow   bool
		maxWidth int
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan one trial (or a {\"trials\": [...]} batch) read from a file or stdin",
		Example: `  echo '{"task_id":"t1","goal":"put the mug in the sink"}' | thorplan plan
  thorplan plan --file trials.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			in, err := decodePayload(raw)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			p, err := buildPipeline(cfg, nil)
			if err != nil {
				return err
			}
			defer p.Close()

			var flow sync.WaitGroup
			var subscribe func(*bus.Bus)
			if !asJSON && !noFlow {
				display := ui.New(cmd.ErrOrStderr(), ui.Options{Width: maxWidth, Color: isTerminal(cmd.ErrOrStderr())})
				subscribe = func(b *bus.Bus) {
					msgs := b.SubscribeAll()
					flow.Add(1)
					go func() {
						defer flow.Done()
						display.Run(cmd.Context(), msgs)
					}()
				}
			}

			var outs []types.PlanningOutcome
			if in.Batch {
				outs, _ = p.exec.RunBatch(cmd.Context(), in.Trials, subscribe)
			} else {
				out, _ := p.exec.Run(cmd.Context(), in.Trials[0], subscribe)
				outs = []types.PlanningOutcome{out}
			}
			flow.Wait()

			if err := report(cmd.OutOrStdout(), outs, in.Batch, asJSON); err != nil {
				return err
			}
			for _, out := range outs {
				if out.Failed() {
					return errPlanFailed
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "payload file, - for stdin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON instead of tables")
	cmd.Flags().BoolVar(&noFlow, "quiet", false, "do not draw the stage flow")
	cmd.Flags().IntVar(&maxWidth, "width", 100, "maximum width of flow lines in terminal cells")
	cmd.Flags().StringVar(&o.model, "model", "", "model identifier (overrides OPENROUTER_MODEL)")
	return cmd
}

// readPayload reads the trial from path, or from stdin when path is "-" or empty.
func readPayload(stdin io.Reader, path string) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if path == "" || path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, errors.New("read payload: input is empty")
	}
	return raw, nil
}

// decodePayload splits raw into trials the same way the server reads a
// message. An empty {"trials": []} batch is rejected.
func decodePayload(raw []byte) (messenger.Inbound, error) {
	in := messenger.Decode(a2a.Message{Parts: []a2a.Part{a2a.TextPart(string(raw))}})
	if in.Batch && len(in.Trials) == 0 {
		return in, &types.ValidationError{Code: types.CodeMissingField, Field: "trials", Detail: "batch contains no trials"}
	}
	return in, nil
}

// report writes outs as tables, or as JSON when asJSON is set. A single
// trial is written as one object; a batch as an array.
func report(w io.Writer, outs []types.PlanningOutcome, batch, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if batch {
			return enc.Encode(outs)
		}
		return enc.Encode(outs[0])
	}
	for _, out := range outs {
		ui.RenderOutcome(w, out)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
