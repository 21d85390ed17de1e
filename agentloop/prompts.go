package agentloop

import (
	"fmt"
	"strings"
)

// Workflow selects the task the agent works on and the tools it gets.
type Workflow string

const (
	WorkflowFix      Workflow = "fix"
	WorkflowRefactor Workflow = "refactor"
)

// Tools returns the tool set registered for w.
func (w Workflow) Tools() []ToolName {
	switch w {
	case WorkflowRefactor:
		return []ToolName{ToolCodeRead, ToolCodeWrite, ToolCodeLint, ToolCodeAnalyse, ToolCodeTest, ToolDocsReference, ToolDone}
	default:
		return AllTools
	}
}

// Steering texts appended as user messages by the loop.
const (
	steerProceed = "The tool call succeeded. Proceed with the next step. " +
		"Call the done tool once the task is complete."
	steerRetry = "The last tool call did not have the intended effect. Review the tool result, " +
		"then retry with corrected arguments or step back and choose a different approach."
	steerFailed = "The last tool call failed. Read the error in the tool result and retry, " +
		"or step back and take a different approach."
	steerNoToolCalls = "You did not call any tool. Continue working on the task by calling one of " +
		"the available tools, or call done if the task is complete."
	steerLoop = "You have repeated the same tool calls several times without progress. " +
		"Stop and try a different approach."
)

const fixInstructions = `You are a software engineer fixing a reported issue in a source repository.
You work only through the provided tools. Every tool returns a JSON envelope:
{"status": "ok" | "error", "message": string | null, "result": any | null, "retry": bool}.
When "retry" is true the call had no effect and must be corrected.

Follow this workflow:
1. Call issue_validate with the issue number. Do not write code until it succeeds.
2. Read the files you need with code_read. Paths are relative to the repository root and must
   appear in the project structure.
3. Change files with code_write, always sending the complete new file content.
4. Run code_lint, code_analyse and code_test and fix what they report.
5. Open a pull request with pull_request, referencing the issue number.
6. Call done.

Keep changes minimal and focused on the issue.`

const refactorInstructions = `You are a software engineer improving existing code without changing its behaviour.
You work only through the provided tools. Every tool returns a JSON envelope:
{"status": "ok" | "error", "message": string | null, "result": any | null, "retry": bool}.
When "retry" is true the call had no effect and must be corrected.

Read code with code_read, rewrite it with code_write (complete file content), and keep
code_lint, code_analyse and code_test passing. Call done when the refactoring is complete.`

// SystemPrompt assembles the system instructions for w.
func SystemPrompt(w Workflow, env EnvironmentInfo, projectDocs string) string {
	base := fixInstructions
	if w == WorkflowRefactor {
		base = refactorInstructions
	}
	parts := []string{base, BuildEnvironmentContext(env)}
	if projectDocs != "" {
		parts = append(parts, "<project_instructions>\n"+projectDocs+"\n</project_instructions>")
	}
	return strings.Join(parts, "\n\n")
}

// FixPrompt is the first user message of the fix workflow.
func FixPrompt(issueNumber int, furtherInstruction, tree string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Fix issue #%d.\n", issueNumber)
	if furtherInstruction != "" {
		fmt.Fprintf(&sb, "\nAdditional instructions:\n%s\n", furtherInstruction)
	}
	fmt.Fprintf(&sb, "\nPROJECT STRUCTURE:\n%s\n", tree)
	sb.WriteString("\nStart by validating the issue.")
	return sb.String()
}

// RefactorPrompt is the first user message of the refactor workflow. An
// empty file means the whole project.
func RefactorPrompt(file, tree string) string {
	var sb strings.Builder
	if file != "" {
		fmt.Fprintf(&sb, "Refactor %s.\n", file)
	} else {
		sb.WriteString("Refactor the project where it improves readability and maintainability.\n")
	}
	fmt.Fprintf(&sb, "\nPROJECT STRUCTURE:\n%s\n", tree)
	return sb.String()
}
