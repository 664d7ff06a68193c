package ai

import (
	"fmt"
	"sort"
	"strings"

	"code-review-backend/internal/domain"
)

const systemPrompt = `You are an expert code reviewer. Analyze code changes and identify:

1. **Security issues**: SQL injection, XSS, authentication bypass, exposed secrets, CSRF, insecure dependencies
2. **Bugs**: Null/undefined errors, race conditions, logic errors, edge case failures, type mismatches
3. **Performance**: N+1 queries, inefficient algorithms, memory leaks, unnecessary computations
4. **Code quality**: Poor naming, code duplication, high complexity, missing error handling
5. **Best practices**: Framework violations, language anti-patterns, missing validation
6. **Documentation**: Missing docstrings, unclear comments, outdated documentation
7. **Testing**: Insufficient test coverage, missing edge case tests

For EACH issue found, provide:
- ` + "`file`" + `: File path relative to repo root
- ` + "`line`" + `: Line number where issue starts (or null if file-wide)
- ` + "`severity`" + `: Must be one of: "critical", "high", "medium", "low", "info"
- ` + "`category`" + `: Must be one of: "security", "bug", "performance", "code_quality",
                              "best_practices", "documentation", "testing"
- ` + "`title`" + `: Brief 1-line summary (max 100 chars)
- ` + "`description`" + `: Detailed explanation of the issue and why it matters
- ` + "`suggestion`" + `: Concrete, actionable fix recommendation

Provide overall assessment:
- ` + "`summary`" + `: Comprehensive 2-3 paragraph overview of all changes and key concerns
- ` + "`rating`" + `: Must be one of: "LGTM" (no significant issues), "Needs Work" (minor improvements),
                            "Major Issues" (critical problems)

**CRITICAL**: Respond ONLY with valid JSON. No markdown, no code blocks, just raw JSON:
{
  "summary": "Overall assessment text here...",
  "rating": "LGTM",
  "issues": [
    {
      "file": "path/to/file.py",
      "line": 42,
      "severity": "high",
      "category": "bug",
      "title": "Potential null pointer exception",
      "description": "The variable 'user' might be null when accessed...",
      "suggestion": "Add null check: if user is not None:..."
    }
  ]
}`

// promptBounds are the prompt truncation limits, configuration-driven.
type promptBounds struct {
	maxDiffSize        int
	maxFilesContext    int
	maxFileContentSize int
}

// buildPrompt assembles the user prompt from PR metadata, the truncated
// diff, and optional per-file content excerpts.
func buildPrompt(diff string, details *domain.PullRequestDetails, fileContents map[string]string, bounds promptBounds) string {
	description := details.Description
	if description == "" {
		description = "No description provided"
	}
	author := details.Author
	if author == "" {
		author = "N/A"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Review this pull request:

**Title**: %s
**Description**: %s
**Author**: %s
**Files Changed**: %d

**Code Changes**:
`, details.Title, description, author, len(details.Files))

	b.WriteString("```diff\n")
	b.WriteString(truncate(diff, bounds.maxDiffSize))
	b.WriteString("\n```\n")

	if len(fileContents) > 0 {
		b.WriteString("\n**Full File Context** (for reference):\n")
		paths := make([]string, 0, len(fileContents))
		for path := range fileContents {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		if len(paths) > bounds.maxFilesContext {
			paths = paths[:bounds.maxFilesContext]
		}
		for _, path := range paths {
			fmt.Fprintf(&b, "\n**%s**:\n```\n%s\n```\n", path, truncate(fileContents[path], bounds.maxFileContentSize))
		}
	}

	b.WriteString("\nAnalyze the changes thoroughly and provide your code review as JSON.")
	return b.String()
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}
