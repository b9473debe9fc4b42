package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/operon-io/operon/internal/config"
	"github.com/operon-io/operon/internal/pipefile"
	"github.com/operon-io/operon/pkg/backend/memory"
	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/op"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string
}

// RunResult is the run command's json payload.
type RunResult struct {
	Scenario string         `json:"scenario"`
	Result   any            `json:"result"`
	Units    []RunUnitTrace `json:"units,omitempty"`
}

// RunUnitTrace is one execution unit's outcome for output.
type RunUnitTrace struct {
	Target string   `json:"target,omitempty"`
	Kinds  []string `json:"kinds"`
	State  string   `json:"state"`
	Error  string   `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a pipeline scenario against configured targets",
		Long: `Execute the pipefile a scenario names. Targets come from the
config file; target names the config does not define become in-memory
stores, which the scenario may seed. When the scenario carries an
expectation, the final result is compared against it and a mismatch
fails the run.

Example:
  operon run --config operon.yaml archive.yaml
  operon run scenario.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to the operon config file")

	return cmd
}

func runScenario(opts *RunOptions, scenarioPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "broken config", err)
	}
	configureLogging(cfg.Logging, opts.Verbose, cmd)

	scenario, err := LoadScenario(scenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot load scenario", err)
	}

	v, err := pipefile.Load(scenario.Pipefile)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot load pipefile", err)
	}
	names, err := pipefile.TargetNames(v)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot read pipefile targets", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	targets, closeTargets, err := BuildTargets(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot open targets", err)
	}
	defer closeTargets()

	// Target names the config does not define become memory stores.
	for _, name := range names {
		if _, ok := targets[name]; !ok {
			formatter.VerboseLog("target %q not configured, using a memory store", name)
			targets[name] = memory.New(name)
		}
	}

	if err := seedTargets(scenario, targets); err != nil {
		return WrapExitError(ExitCommandError, "cannot seed targets", err)
	}

	node, err := pipefile.Compile(v, targets)
	if err != nil {
		return WrapExitError(ExitFailure, "cannot compile pipefile", err)
	}

	exec := engine.New(engine.WithLogger(slog.Default()))
	result, trace, err := exec.ExecuteTrace(ctx, node)
	if err != nil {
		_ = formatter.Error("EXECUTION", err.Error(), traceUnits(trace))
		return WrapExitError(ExitFailure, "pipeline failed", err)
	}

	out := RunResult{
		Scenario: scenario.Name,
		Result:   result,
		Units:    traceUnits(trace),
	}

	if scenario.Expect != nil {
		if err := matchExpectation(*scenario.Expect, result); err != nil {
			_ = formatter.Error("EXPECTATION", err.Error(), nil)
			return WrapExitError(ExitFailure, "expectation not met", err)
		}
		formatter.VerboseLog("expectation met")
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	if opts.Verbose {
		for i, u := range out.Units {
			target := u.Target
			if target == "" {
				target = "in process"
			}
			formatter.VerboseLog("unit %d: %s [%s] %s", i+1, target, strings.Join(u.Kinds, " "), u.State)
		}
	}
	fmt.Fprintln(formatter.Writer, renderResult(result))
	return nil
}

// configureLogging installs the configured slog handler as default.
// Verbose forces debug level regardless of config.
func configureLogging(lc config.Logging, verbose bool, cmd *cobra.Command) {
	level, err := lc.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	w := cmd.ErrOrStderr()
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	slog.SetDefault(slog.New(handler))
}

// seedTargets inserts scenario seed data. Only memory targets accept
// seeds; other kinds carry their own state.
func seedTargets(s *Scenario, targets map[string]op.Target) error {
	for name, docs := range s.Seed {
		target, ok := targets[name]
		if !ok {
			return fmt.Errorf("seed names unknown target %q", name)
		}
		mem, ok := target.(*memory.Store)
		if !ok {
			return fmt.Errorf("target %q is not a memory store; only memory targets accept seed data", name)
		}
		items := make([]any, len(docs))
		for i, d := range docs {
			items[i] = d
		}
		mem.Seed(items...)
	}
	return nil
}

func traceUnits(t *engine.Trace) []RunUnitTrace {
	if t == nil {
		return nil
	}
	units := make([]RunUnitTrace, len(t.Units))
	for i, u := range t.Units {
		kinds := make([]string, len(u.Kinds))
		for j, k := range u.Kinds {
			kinds[j] = k.String()
		}
		units[i] = RunUnitTrace{Target: u.Target, Kinds: kinds, State: u.State.String()}
		if u.Err != nil {
			units[i].Error = u.Err.Error()
		}
	}
	return units
}

// matchExpectation compares want and got through their JSON forms,
// which normalizes the numeric and key-order differences between YAML
// and execution results.
func matchExpectation(want, got any) error {
	wantJSON, err := json.Marshal(want)
	if err != nil {
		return fmt.Errorf("cannot encode expectation: %w", err)
	}
	gotJSON, err := json.Marshal(got)
	if err != nil {
		return fmt.Errorf("cannot encode result: %w", err)
	}
	if !bytes.Equal(wantJSON, gotJSON) {
		return fmt.Errorf("result mismatch:\n  want: %s\n  got:  %s", wantJSON, gotJSON)
	}
	return nil
}

// renderResult prints a final result for text output. Collections and
// documents render as JSON; scalars print bare.
func renderResult(result any) string {
	switch result.(type) {
	case nil:
		return "null"
	case string, bool, int, int32, int64, uint64, float32, float64:
		return fmt.Sprintf("%v", result)
	default:
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Sprintf("%v", result)
		}
		return string(data)
	}
}
