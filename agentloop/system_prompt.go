package agentloop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024

// projectDocFiles are read from the repository root, in order.
var projectDocFiles = []string{"AGENTS.md", ".coder/instructions.md"}

// EnvironmentInfo describes where the session runs.
type EnvironmentInfo struct {
	RepositoryPath string
	Branch         string
	Model          string
	Provider       string
	Language       string
	Date           time.Time
}

// BuildEnvironmentContext renders env as the <environment> block appended
// to the system instructions.
func BuildEnvironmentContext(env EnvironmentInfo) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Repository: %s\n", env.RepositoryPath)
	if env.Branch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", env.Branch)
	}
	if env.Language != "" {
		fmt.Fprintf(&sb, "Language: %s\n", env.Language)
	}
	if env.Model != "" {
		fmt.Fprintf(&sb, "Model: %s/%s\n", env.Provider, env.Model)
	}
	if !env.Date.IsZero() {
		fmt.Fprintf(&sb, "Today's date: %s\n", env.Date.Format("2006-01-02"))
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads project instruction files from root, capped at
// 32KB in total. It returns "" when none exist.
func DiscoverProjectDocs(root string) string {
	var docs []string
	total := 0
	for _, name := range projectDocFiles {
		content, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}

		remaining := maxProjectDocBytes - total
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}
		text := string(content)
		if len(text) > remaining {
			text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
		}
		docs = append(docs, fmt.Sprintf("# %s\n\n%s", name, text))
		total += len(text)
	}
	return strings.Join(docs, "\n\n---\n\n")
}
