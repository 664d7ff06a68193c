// Package diff normalizes hosting-platform file-change records into one
// unified-diff-like text blob suitable for prompting.
package diff

import (
	"strings"

	"code-review-backend/internal/domain"
	"code-review-backend/internal/types"
)

// Build concatenates per-file changes into a single diff text. Each file
// contributes a synthetic ---/+++ header pair followed by its patch text.
// Output is deterministic for a given input order.
//
// An empty file list, or a list where no file carries any patch text,
// returns a KindEmptyDiff error: review processing must abort rather than
// prompt the model with an empty diff.
func Build(files []domain.FileChange) (string, error) {
	if len(files) == 0 {
		return "", types.E(types.KindEmptyDiff, "no code changes found in this PR")
	}

	var parts []string
	hasContent := false
	for _, file := range files {
		name := file.Filename
		if name == "" {
			name = "unknown"
		}
		parts = append(parts, "\n--- a/"+name, "+++ b/"+name)
		if file.Patch != "" {
			parts = append(parts, file.Patch)
			hasContent = true
		}
	}

	if !hasContent {
		return "", types.E(types.KindEmptyDiff, "no code changes found in this PR")
	}
	return strings.Join(parts, "\n"), nil
}
