package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/operon-io/operon/internal/pipefile"
	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
)

// ExplainUnit describes one execution unit of a pipeline: what runs,
// where, and how much of it pushes down.
type ExplainUnit struct {
	Kind      string   `json:"kind"` // planned | storage | switch | in_process
	Target    string   `json:"target,omitempty"`
	Plan      string   `json:"plan,omitempty"`
	Pushed    []string `json:"pushed,omitempty"`
	Remaining []string `json:"remaining,omitempty"`
	Ops       []string `json:"ops,omitempty"`
}

// ExplainResult is the explain command's json payload.
type ExplainResult struct {
	Pipeline string        `json:"pipeline"`
	Steps    int           `json:"steps"`
	Units    []ExplainUnit `json:"units"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <pipefile>",
		Short: "Show how a pipefile would execute",
		Long: `Compile a pipefile and print its execution units: which steps
group onto which target, what the planner pushes into storage, and
what runs in process. Planning here assumes every comparison operator
pushes down; a target supporting fewer keeps more in process.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runExplain(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	node, err := compilePipefile(path)
	if err != nil {
		var loadErr *pipefile.LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return WrapExitError(ExitCommandError, "cannot load pipefile", err)
		}
		return WrapExitError(ExitCommandError, "cannot compile pipefile", err)
	}
	if err := engine.Validate(node); err != nil {
		return WrapExitError(ExitFailure, "pipeline invalid", err)
	}

	steps := op.Flatten(node)
	units, err := explainSteps(steps)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot explain pipeline", err)
	}

	result := ExplainResult{
		Pipeline: pipefile.Name(path),
		Steps:    len(steps),
		Units:    units,
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	renderExplain(formatter, result)
	return nil
}

// supportsAll stands in for a concrete target's operator support.
func supportsAll(op.CompareOp) bool { return true }

func explainSteps(steps []op.Node) ([]ExplainUnit, error) {
	var units []ExplainUnit
	for _, step := range steps {
		switch st := step.(type) {
		case *op.Bound:
			switch inner := st.Op.(type) {
			case *op.Pipeline:
				ops, err := engine.OpsForPlanning(inner)
				if err != nil {
					return nil, err
				}
				plan, err := engine.PlanOps(ops, supportsAll)
				if err != nil {
					return nil, err
				}
				u := ExplainUnit{
					Kind:      "planned",
					Target:    st.Target.Name(),
					Plan:      plan.Mode.String(),
					Pushed:    describeOps(plan.Pushed),
					Remaining: describeOps(plan.Remaining),
				}
				units = append(units, u)
			case op.Operation:
				if !inner.NeedsTarget() {
					units = append(units, ExplainUnit{Kind: "in_process", Ops: describeOps([]op.Operation{inner})})
					continue
				}
				units = append(units, ExplainUnit{
					Kind:   "storage",
					Target: st.Target.Name(),
					Ops:    describeOps([]op.Operation{inner}),
				})
			default:
				return nil, fmt.Errorf("bound step wraps %T", st.Op)
			}
		case *op.Switch:
			units = append(units, ExplainUnit{
				Kind:   "switch",
				Target: st.SourceTarget.Name() + ">" + st.NextTarget.Name(),
				Ops: []string{
					describeOp(st.Source),
					describeOp(st.Next),
				},
			})
		case op.Operation:
			units = append(units, ExplainUnit{Kind: "in_process", Ops: describeOps([]op.Operation{st})})
		default:
			return nil, fmt.Errorf("cannot explain step %T", step)
		}
	}
	return units, nil
}

func renderExplain(formatter *OutputFormatter, result ExplainResult) {
	w := formatter.Writer
	fmt.Fprintf(w, "pipeline: %s\n", result.Pipeline)
	fmt.Fprintf(w, "steps: %d\n", result.Steps)
	for i, u := range result.Units {
		fmt.Fprintln(w)
		switch u.Kind {
		case "planned":
			fmt.Fprintf(w, "unit %d: target %q, plan %s\n", i+1, u.Target, u.Plan)
			if len(u.Pushed) > 0 {
				fmt.Fprintln(w, "  pushed:")
				for _, o := range u.Pushed {
					fmt.Fprintf(w, "    %s\n", o)
				}
			}
			if len(u.Remaining) > 0 {
				fmt.Fprintln(w, "  in process:")
				for _, o := range u.Remaining {
					fmt.Fprintf(w, "    %s\n", o)
				}
			}
		case "storage":
			fmt.Fprintf(w, "unit %d: target %q\n", i+1, u.Target)
			for _, o := range u.Ops {
				fmt.Fprintf(w, "    %s\n", o)
			}
		case "switch":
			fmt.Fprintf(w, "unit %d: switch %s\n", i+1, u.Target)
			for _, o := range u.Ops {
				fmt.Fprintf(w, "    %s\n", o)
			}
		default:
			fmt.Fprintf(w, "unit %d: in process\n", i+1)
			for _, o := range u.Ops {
				fmt.Fprintf(w, "    %s\n", o)
			}
		}
	}
}

func describeOps(ops []op.Operation) []string {
	if len(ops) == 0 {
		return nil
	}
	out := make([]string, len(ops))
	for i, o := range ops {
		out[i] = describeOp(o)
	}
	return out
}

// describeOp renders one operation as a stable single line.
func describeOp(o op.Operation) string {
	switch ot := o.(type) {
	case op.Create:
		return fmt.Sprintf("create (%d items)", len(ot.Data))
	case op.Read:
		return "read " + describeIndex(ot.Index)
	case op.Update:
		if ot.Index == nil {
			return "update previous " + describePatch(ot.Patch)
		}
		return "update " + describeIndex(ot.Index) + " " + describePatch(ot.Patch)
	case op.Delete:
		if ot.Index == nil {
			return "delete previous"
		}
		return "delete " + describeIndex(ot.Index)
	case op.Filter:
		return "filter " + describePredicate(ot.Predicate)
	case op.Map:
		return "map <fn>"
	case op.Reduce:
		return "reduce <fn>"
	case op.Transform:
		return "transform <fn>"
	default:
		return o.Kind().String()
	}
}

func describeIndex(idx index.Index) string {
	switch it := idx.(type) {
	case nil:
		return "all"
	case index.Params:
		parts := make([]string, 0, len(it))
		for _, f := range it.Fields() {
			parts = append(parts, fmt.Sprintf("%s=%s", f, formatValue(it[f])))
		}
		return "params(" + strings.Join(parts, ", ") + ")"
	case index.Path:
		return fmt.Sprintf("path(%q)", string(it))
	case index.NativeQuery:
		return "native query"
	case index.Vector:
		return fmt.Sprintf("vector(limit=%d, threshold=%.2f)", it.Limit, it.Threshold)
	default:
		return idx.Kind().String()
	}
}

func describePatch(p op.Patch) string {
	switch pt := p.(type) {
	case nil:
		return "from previous"
	case op.Fields:
		keys := make([]string, 0, len(pt))
		for k := range pt {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%s", k, formatValue(pt[k]))
		}
		return "set(" + strings.Join(parts, ", ") + ")"
	case op.Apply:
		return "apply <fn>"
	default:
		return "patch"
	}
}

func describePredicate(p op.Predicate) string {
	switch pt := p.(type) {
	case op.Compare:
		return fmt.Sprintf("%s %s %s", pt.Field, pt.Op, formatValue(pt.Value))
	case op.And:
		parts := make([]string, len(pt))
		for i, child := range pt {
			parts[i] = describePredicate(child)
		}
		return "(" + strings.Join(parts, " and ") + ")"
	case op.Or:
		parts := make([]string, len(pt))
		for i, child := range pt {
			parts[i] = describePredicate(child)
		}
		return "(" + strings.Join(parts, " or ") + ")"
	case op.Func:
		return "<fn>"
	default:
		return "<predicate>"
	}
}

func formatValue(v any) string {
	switch vt := v.(type) {
	case string:
		return fmt.Sprintf("%q", vt)
	case []any:
		parts := make([]string, len(vt))
		for i, el := range vt {
			parts[i] = formatValue(el)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}
