// Package pipefile loads pipeline definitions written in CUE and
// compiles them to executable operation trees.
//
// A pipefile declares one pipeline as an ordered list of steps:
//
//	pipeline: {
//		target: "db"
//		steps: [
//			{read: {params: {title: "drafts"}}},
//			{filter: "item.words >= 100"},
//			{update: {fields: {archived: true}}},
//		]
//	}
//
// Storage steps bind to named targets supplied at compile time; a
// per-step target overrides the pipeline default. Filter, map, reduce
// and transform steps carry CEL expressions evaluated over the items
// flowing through. Pipefile documents are schemaless maps.
package pipefile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// Error codes reported by Load.
const (
	ErrCodeNotFound    = "P001" // pipefile path missing
	ErrCodeLoadFailed  = "P002" // CUE load failed
	ErrCodeBuildFailed = "P003" // CUE build failed
)

// LoadError is a pipefile that could not be loaded.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads one CUE pipefile and builds its value. Compile turns the
// value into an executable node.
func Load(path string) (cue.Value, error) {
	var zero cue.Value

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return zero, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("pipefile not found: %s", path)}
	}
	if err != nil {
		return zero, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing pipefile: %v", err)}
	}
	if info.IsDir() {
		return zero, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a file: %s", path)}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return zero, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
	}

	cfg := &load.Config{Dir: filepath.Dir(abs)}
	instances := load.Instances([]string{filepath.Base(abs)}, cfg)
	if len(instances) == 0 {
		return zero, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return zero, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading pipefile: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return zero, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building pipefile: %v", err)}
	}
	return value, nil
}

// Name derives the pipeline name from the pipefile path.
func Name(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// TargetNames collects the target names a loaded pipefile refers to,
// sorted and deduplicated: the pipeline default plus per-step
// overrides. Callers that only inspect a pipefile compile it against
// placeholder targets built from these names.
func TargetNames(v cue.Value) ([]string, error) {
	seen := map[string]bool{}
	add := func(tv cue.Value, field string) error {
		if !tv.Exists() {
			return nil
		}
		s, err := tv.String()
		if err != nil {
			return &CompileError{Field: field, Message: "target must be a string", Pos: tv.Pos()}
		}
		seen[s] = true
		return nil
	}

	pv := v.LookupPath(cue.ParsePath("pipeline"))
	if !pv.Exists() {
		return nil, &CompileError{Field: "pipeline", Message: "pipeline is required", Pos: v.Pos()}
	}
	if err := add(pv.LookupPath(cue.ParsePath("target")), "pipeline.target"); err != nil {
		return nil, err
	}
	if sv := pv.LookupPath(cue.ParsePath("steps")); sv.Exists() {
		iter, err := sv.List()
		if err != nil {
			return nil, &CompileError{Field: "pipeline.steps", Message: "steps must be a list", Pos: sv.Pos()}
		}
		for i := 0; iter.Next(); i++ {
			field := fmt.Sprintf("steps[%d].target", i)
			if err := add(iter.Value().LookupPath(cue.ParsePath("target")), field); err != nil {
				return nil, err
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
