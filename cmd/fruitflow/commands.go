package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fruitflow/fruitflow/internal/app/bootstrap"
	"github.com/fruitflow/fruitflow/internal/app/dto"
	"github.com/fruitflow/fruitflow/internal/poem"
	"github.com/fruitflow/fruitflow/pkg/flowgraph"
)

// KickoffCmd runs the poem flow.
type KickoffCmd struct {
	Output string `short:"o" help:"Artifact path; overrides FRUITFLOW_OUTPUT." type:"path"`
	RunID  string `name:"run-id" help:"Run ID (default: random UUID)."`
}

func (c *KickoffCmd) Run(cli *CLI, e *env) error {
	app, err := e.open(cli)
	if err != nil {
		return err
	}
	defer e.close(app)

	if c.Output != "" {
		app.Config.Flow.OutputPath = c.Output
	}
	flow, err := app.PoemFlow(e.generator)
	if err != nil {
		return err
	}

	final, resp, err := app.Kickoff(e.ctx, flow, c.RunID, progress(e.stdout))
	return report(e.stdout, app, final, resp, err)
}

// ResumeCmd continues a stored run.
type ResumeCmd struct {
	RunID  string `arg:"" name:"run-id" help:"Run ID."`
	Output string `short:"o" help:"Artifact path; overrides FRUITFLOW_OUTPUT." type:"path"`
}

func (c *ResumeCmd) Run(cli *CLI, e *env) error {
	app, err := e.open(cli)
	if err != nil {
		return err
	}
	defer e.close(app)

	if c.Output != "" {
		app.Config.Flow.OutputPath = c.Output
	}
	flow, err := app.PoemFlow(e.generator)
	if err != nil {
		return err
	}
	final, resp, err := app.Resume(e.ctx, flow, c.RunID, progress(e.stdout))
	return report(e.stdout, app, final, resp, err)
}

func progress(w io.Writer) func(dto.StepEvent) {
	return func(ev dto.StepEvent) {
		switch ev.Type {
		case dto.EventStepFinished:
			fmt.Fprintf(w, "✓ %s\n", ev.StepID)
		case dto.EventStepFailed:
			fmt.Fprintf(w, "✗ %s: %s\n", ev.StepID, ev.Error)
		case dto.EventLabelEmitted:
			fmt.Fprintf(w, "→ %s\n", ev.Label)
		}
	}
}

func report(w io.Writer, app *bootstrap.App, final poem.State, resp *dto.ExecutionResponse, err error) error {
	if err != nil {
		if resp != nil {
			fmt.Fprintf(w, "run %s %s\n", resp.RunID, resp.Status)
		}
		return err
	}
	for _, st := range resp.Steps {
		if st.Status == dto.StepStatusRestored {
			fmt.Fprintf(w, "↺ %s\n", st.StepID)
		}
	}
	fmt.Fprintf(w, "run %s %s in %s\n", resp.RunID, resp.Status, resp.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "poem1 is %s; saved to %s\n", final.Poem1Length, app.Config.Flow.OutputPath)
	return nil
}

var errPlotOnly = errors.New("flow built for plotting only")

// PlotCmd prints the flow graph.
type PlotCmd struct{}

func (c *PlotCmd) Run(e *env) error {
	flow, err := poem.NewFlow(poem.Options{
		Generator: poem.GeneratorFunc(func(context.Context, int) (string, error) { return "", errPlotOnly }),
	})
	if err != nil {
		return err
	}
	return flowgraph.Plot(e.stdout, flow.Graph())
}

// RunsCmd groups snapshot inspection commands.
type RunsCmd struct {
	List RunsListCmd `cmd:"" help:"List recent snapshots."`
	Show RunsShowCmd `cmd:"" help:"Show the snapshots of one run."`
}

// RunsListCmd lists recent snapshots of a flow.
type RunsListCmd struct {
	Flow  string `help:"Flow ID." default:"poem_flow"`
	Limit int    `short:"n" help:"Maximum number of snapshots." default:"20"`
}

func (c *RunsListCmd) Run(cli *CLI, e *env) error {
	app, err := e.open(cli)
	if err != nil {
		return err
	}
	defer e.close(app)

	cps, err := app.Snapshots.Recent(e.ctx, c.Flow, c.Limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTEP\tSEQ\tSAVED\tSNAPSHOT")
	for _, cp := range cps {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", cp.RunID, cp.StepID, cp.Metadata.Sequence, cp.Timestamp.Format(time.RFC3339), cp.ID)
	}
	return tw.Flush()
}

// RunsShowCmd prints a run's snapshots as JSON, newest first.
type RunsShowCmd struct {
	RunID string `arg:"" name:"run-id" help:"Run ID."`
}

func (c *RunsShowCmd) Run(cli *CLI, e *env) error {
	app, err := e.open(cli)
	if err != nil {
		return err
	}
	defer e.close(app)

	cps, err := app.Snapshots.History(e.ctx, c.RunID)
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		return fmt.Errorf("%w: %s", dto.ErrRunNotFound, c.RunID)
	}
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cps)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(e *env) error {
	fmt.Fprintf(e.stdout, "fruitflow %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	return nil
}
