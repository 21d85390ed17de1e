package agentloop

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/martinemde/coder/unifiedllm"
)

// ToolName is the closed set of tools the model may invoke.
type ToolName int

const (
	ToolIssueValidate ToolName = iota + 1
	ToolIssuePull
	ToolCodeRead
	ToolCodeWrite
	ToolCodeLint
	ToolCodeAnalyse
	ToolCodeTest
	ToolPullRequest
	ToolDocsReference
	ToolDone
)

var toolNames = map[ToolName]string{
	ToolIssueValidate: "issue_validate",
	ToolIssuePull:     "issue_pull",
	ToolCodeRead:      "code_read",
	ToolCodeWrite:     "code_write",
	ToolCodeLint:      "code_lint",
	ToolCodeAnalyse:   "code_analyse",
	ToolCodeTest:      "code_test",
	ToolPullRequest:   "pull_request",
	ToolDocsReference: "docs_reference",
	ToolDone:          "done",
}

// AllTools lists every tool in declaration order.
var AllTools = []ToolName{
	ToolIssueValidate, ToolIssuePull, ToolCodeRead, ToolCodeWrite, ToolCodeLint,
	ToolCodeAnalyse, ToolCodeTest, ToolPullRequest, ToolDocsReference, ToolDone,
}

func (n ToolName) String() string {
	if s, ok := toolNames[n]; ok {
		return s
	}
	return fmt.Sprintf("ToolName(%d)", int(n))
}

// MarshalText implements encoding.TextMarshaler.
func (n ToolName) MarshalText() ([]byte, error) {
	s, ok := toolNames[n]
	if !ok {
		return nil, fmt.Errorf("invalid tool %d", int(n))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *ToolName) UnmarshalText(b []byte) error {
	parsed, err := ParseToolName(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// ParseToolName maps a wire name to its tool. Any other string is an
// unknown_tool error.
func ParseToolName(s string) (ToolName, error) {
	for n, name := range toolNames {
		if name == s {
			return n, nil
		}
	}
	return 0, newError(KindUnknownTool, "parse_tool", fmt.Sprintf("unknown tool %q", s), nil)
}

// ToolArgs is implemented by each tool's argument struct.
type ToolArgs interface {
	Tool() ToolName
}

// IssueValidateArgs keeps IssueNumber a pointer so an explicit 0 reaches
// the validation rules instead of reading as absent.
type IssueValidateArgs struct {
	IssueNumber *int `json:"issue_number" jsonschema:"description=Number of the issue to validate" validate:"required"`
}

type IssuePullArgs struct {
	IssueNumber int `json:"issue_number" jsonschema:"description=Number of the issue to fetch" validate:"gt=0"`
}

type CodeReadArgs struct {
	Path string `json:"path" jsonschema:"description=Path of the file relative to the repository root" validate:"required"`
}

type CodeWriteArgs struct {
	Path    string `json:"path" jsonschema:"description=Path of the file relative to the repository root" validate:"required"`
	// Content is a pointer so that an empty file can be written on purpose.
	Content *string `json:"content" jsonschema:"description=The complete new content of the file" validate:"required"`
}

type CodeLintArgs struct{}

type CodeAnalyseArgs struct{}

type CodeTestArgs struct{}

type PullRequestArgs struct {
	IssueNumber int    `json:"issue_number" jsonschema:"description=Number of the issue the change fixes" validate:"gt=0"`
	Branch      string `json:"branch,omitempty" jsonschema:"description=Name of the branch to create"`
	Title       string `json:"title" jsonschema:"description=Title of the pull request" validate:"required"`
	Body        string `json:"body,omitempty" jsonschema:"description=Description of the change"`
}

type DocsReferenceArgs struct {
	Query string `json:"query,omitempty" jsonschema:"description=What to look up"`
}

type DoneArgs struct {
	Summary string `json:"summary,omitempty" jsonschema:"description=Short summary of the work done"`
}

func (IssueValidateArgs) Tool() ToolName { return ToolIssueValidate }
func (IssuePullArgs) Tool() ToolName     { return ToolIssuePull }
func (CodeReadArgs) Tool() ToolName      { return ToolCodeRead }
func (CodeWriteArgs) Tool() ToolName     { return ToolCodeWrite }
func (CodeLintArgs) Tool() ToolName      { return ToolCodeLint }
func (CodeAnalyseArgs) Tool() ToolName   { return ToolCodeAnalyse }
func (CodeTestArgs) Tool() ToolName      { return ToolCodeTest }
func (PullRequestArgs) Tool() ToolName   { return ToolPullRequest }
func (DocsReferenceArgs) Tool() ToolName { return ToolDocsReference }
func (DoneArgs) Tool() ToolName          { return ToolDone }

// ToolDescriptor declares one tool to the model.
type ToolDescriptor struct {
	Name        ToolName
	Description string
	Parameters  map[string]interface{}

	newArgs func() ToolArgs
}

var toolSpecs = map[ToolName]struct {
	description string
	newArgs     func() ToolArgs
}{
	ToolIssueValidate: {"Fetch the issue and check it is complete enough to work on. Must succeed before any code is written.", func() ToolArgs { return &IssueValidateArgs{} }},
	ToolIssuePull:     {"Fetch the issue title and body.", func() ToolArgs { return &IssuePullArgs{} }},
	ToolCodeRead:      {"Read a file from the project index.", func() ToolArgs { return &CodeReadArgs{} }},
	ToolCodeWrite:     {"Replace the full content of a file. The change must produce a diff.", func() ToolArgs { return &CodeWriteArgs{} }},
	ToolCodeLint:      {"Run the project linter.", func() ToolArgs { return &CodeLintArgs{} }},
	ToolCodeAnalyse:   {"Run static analysis on the project.", func() ToolArgs { return &CodeAnalyseArgs{} }},
	ToolCodeTest:      {"Run the project test suite.", func() ToolArgs { return &CodeTestArgs{} }},
	ToolPullRequest:   {"Commit all changes on a new branch, push it and open a pull request.", func() ToolArgs { return &PullRequestArgs{} }},
	ToolDocsReference: {"Look up documentation. Not available yet; always succeeds.", func() ToolArgs { return &DocsReferenceArgs{} }},
	ToolDone:          {"Declare the task complete. Call this once the work is finished.", func() ToolArgs { return &DoneArgs{} }},
}

var reflector = &jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

// schemaFor reflects v into a plain JSON-schema object.
func schemaFor(v any) (map[string]interface{}, error) {
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	delete(m, "$schema")
	delete(m, "$id")
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]interface{}{}
	}
	return m, nil
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ToolRegistry is the fixed tool catalog for one workflow.
type ToolRegistry struct {
	order       []ToolName
	descriptors map[ToolName]ToolDescriptor
	validate    *validator.Validate
}

// NewToolRegistry builds descriptors for tools, in the given order.
func NewToolRegistry(tools []ToolName) (*ToolRegistry, error) {
	r := &ToolRegistry{
		descriptors: make(map[ToolName]ToolDescriptor, len(tools)),
		validate:    newValidator(),
	}
	for _, name := range tools {
		spec, ok := toolSpecs[name]
		if !ok {
			return nil, newError(KindConfiguration, "tool_registry", fmt.Sprintf("no descriptor for %s", name), nil)
		}
		if _, dup := r.descriptors[name]; dup {
			continue
		}
		params, err := schemaFor(spec.newArgs())
		if err != nil {
			return nil, newError(KindSerialization, "tool_registry", "reflecting schema for "+name.String(), err)
		}
		r.order = append(r.order, name)
		r.descriptors[name] = ToolDescriptor{
			Name:        name,
			Description: spec.description,
			Parameters:  params,
			newArgs:     spec.newArgs,
		}
	}
	return r, nil
}

// Has reports whether name is registered.
func (r *ToolRegistry) Has(name ToolName) bool {
	_, ok := r.descriptors[name]
	return ok
}

// Names returns the registered tools in order.
func (r *ToolRegistry) Names() []ToolName {
	return append([]ToolName(nil), r.order...)
}

// Descriptor returns the descriptor for name.
func (r *ToolRegistry) Descriptor(name ToolName) (ToolDescriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Definitions returns the declarations sent with every request.
func (r *ToolRegistry) Definitions() []unifiedllm.ToolDefinition {
	defs := make([]unifiedllm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		d := r.descriptors[name]
		defs = append(defs, unifiedllm.ToolDefinition{
			Name:        name.String(),
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return defs
}

// Invocation is a parsed tool call.
type Invocation struct {
	ID   string
	Name ToolName
	Args ToolArgs
}

// ResolveName parses a call's name and checks it is registered. Failures
// are unknown_tool errors.
func (r *ToolRegistry) ResolveName(call unifiedllm.ToolCall) (ToolName, error) {
	name, err := ParseToolName(call.Name)
	if err != nil {
		return 0, err
	}
	if !r.Has(name) {
		return 0, newError(KindUnknownTool, "parse_tool", fmt.Sprintf("tool %q is not available in this workflow", call.Name), nil)
	}
	return name, nil
}

// DecodeArgs decodes and validates the arguments of a call to name.
// Malformed or incomplete arguments are missing_arguments errors.
func (r *ToolRegistry) DecodeArgs(name ToolName, raw json.RawMessage) (ToolArgs, error) {
	d, ok := r.descriptors[name]
	if !ok {
		return nil, newError(KindUnknownTool, "decode_args", fmt.Sprintf("tool %s is not registered", name), nil)
	}

	args := d.newArgs()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	// Some models double-encode arguments as a JSON string.
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err == nil {
			trimmed = []byte(inner)
		}
	}
	if err := json.Unmarshal(trimmed, args); err != nil {
		return nil, newError(KindMissingArguments, name.String(), "arguments are not a valid JSON object", err)
	}

	if err := r.validate.Struct(args); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return nil, newError(KindMissingArguments, name.String(), "missing or invalid arguments: "+strings.Join(fields, ", "), nil)
		}
		// Structs without fields have nothing to validate.
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			return nil, newError(KindMissingArguments, name.String(), "invalid arguments", err)
		}
	}
	return derefArgs(args), nil
}

// Parse resolves and decodes call.
func (r *ToolRegistry) Parse(call unifiedllm.ToolCall) (Invocation, error) {
	name, err := r.ResolveName(call)
	if err != nil {
		return Invocation{}, err
	}
	args, err := r.DecodeArgs(name, call.Arguments)
	if err != nil {
		return Invocation{ID: call.ID, Name: name}, err
	}
	return Invocation{ID: call.ID, Name: name, Args: args}, nil
}

// derefArgs turns the pointer produced by newArgs into a value, so the
// executor can switch on value types.
func derefArgs(a ToolArgs) ToolArgs {
	switch v := a.(type) {
	case *IssueValidateArgs:
		return *v
	case *IssuePullArgs:
		return *v
	case *CodeReadArgs:
		return *v
	case *CodeWriteArgs:
		return *v
	case *CodeLintArgs:
		return *v
	case *CodeAnalyseArgs:
		return *v
	case *CodeTestArgs:
		return *v
	case *PullRequestArgs:
		return *v
	case *DocsReferenceArgs:
		return *v
	case *DoneArgs:
		return *v
	default:
		return a
	}
}
