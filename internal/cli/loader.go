package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/wavefront/internal/compiler"
	"github.com/roach88/wavefront/internal/graph"
)

// LoadResult contains the flows loaded from a directory.
type LoadResult struct {
	Flows     []*compiler.FlowSpec
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred during flow loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Flow declaration errors
	ErrCodeNode      = "E101" // Bad node declaration
	ErrCodeListen    = "E102" // Bad listen condition
	ErrCodeRouter    = "E103" // Bad router declaration
	ErrCodeState     = "E104" // Bad state declaration
	ErrCodeNoFlows   = "E105" // No flows defined
	ErrCodeCUESyntax = "E106" // CUE evaluation error

	// Graph errors found when building a bound flow
	ErrCodeDuplicate     = "E110" // Duplicate node name
	ErrCodeUnknownRef    = "E111" // Condition or router references an unknown name
	ErrCodeDupRouter     = "E112" // Second router for one source
	ErrCodeInvalidNode   = "E113" // Invalid node or path name
	ErrCodeBadCondition  = "E114" // Malformed trigger condition
	ErrCodeMissingImpl   = "E115" // No implementation for a node, router or state
	ErrCodeFlowNotFound  = "E120" // --flow names no loaded flow
	ErrCodeNodeFailed    = "E121" // A node failed during a run
	ErrCodeScenarioError = "E130" // Scenario load or execution error
)

// LoadFlows loads every CUE file in dir as one instance and compiles the
// flows under its "flow" field.
func LoadFlows(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("flows directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing flows directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	flows, err := compiler.CompileAll(value)
	if err != nil {
		return nil, convertCompileError(err)
	}

	return &LoadResult{
		Flows:     flows,
		CUEValue:  value,
		FileCount: len(cueFiles),
	}, nil
}

// FindCUEFiles returns the .cue files directly inside dir. Subdirectories
// are separate CUE packages and are not loaded.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Field + ": " + compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "flow":
		return ErrCodeNoFlows
	case field == "cue":
		return ErrCodeCUESyntax
	case field == "state":
		return ErrCodeState
	case field == "listen":
		return ErrCodeListen
	case field == "node", field == "start", field == "input", strings.HasPrefix(field, "node."):
		return ErrCodeNode
	case strings.HasPrefix(field, "router."):
		return ErrCodeRouter
	default:
		return ErrCodeGeneric
	}
}

// MapBuildErrorToCode maps Bind and Build errors to error codes.
func MapBuildErrorToCode(err error) string {
	var missing *compiler.MissingImplementationError
	switch {
	case graph.IsDuplicateNode(err):
		return ErrCodeDuplicate
	case graph.IsUnknownNode(err):
		return ErrCodeUnknownRef
	case graph.IsDuplicateRouter(err):
		return ErrCodeDupRouter
	case graph.IsInvalidNode(err):
		return ErrCodeInvalidNode
	case errors.As(err, &missing):
		return ErrCodeMissingImpl
	default:
		return ErrCodeBadCondition
	}
}

// selectFlows returns the flows named by filter, or all flows when filter
// is empty.
func selectFlows(flows []*compiler.FlowSpec, filter string) ([]*compiler.FlowSpec, error) {
	if filter == "" {
		return flows, nil
	}
	for _, f := range flows {
		if f.Name == filter {
			return []*compiler.FlowSpec{f}, nil
		}
	}
	names := make([]string, len(flows))
	for i, f := range flows {
		names[i] = f.Name
	}
	return nil, &LoadError{
		Code:    ErrCodeFlowNotFound,
		Message: fmt.Sprintf("flow %q not found (have: %s)", filter, strings.Join(names, ", ")),
	}
}

// buildDryRun binds a flow with pass-through bodies and builds it. The
// declared state is replaced by an untyped map; pass-through bodies never
// read it.
func buildDryRun(spec *compiler.FlowSpec) (*graph.Graph, error) {
	dry := *spec
	dry.State = compiler.StateUntyped
	b, err := dry.Bind(compiler.Catalog{}, compiler.DryRun())
	if err != nil {
		return nil, err
	}
	return b.Build()
}
