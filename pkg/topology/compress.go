package topology

import (
	"strings"
)

const (
	// ContextBudget caps the prior-output context handed to a node.
	ContextBudget = 6000
	// CompressedOutputSize is the default size of one compressed older output.
	CompressedOutputSize = 400

	minCompressedEntry = 200
	contextSeparator   = "\n\n---\n\n"
)

var signalMarkers = []string{
	"decision",
	"conclusion",
	"recommend",
	"action",
	"verdict",
	"approve",
	"reject",
	"veto",
	"architecture",
	"stack",
	"priorit",
	"risk",
	"- ",
	"* ",
	"1.",
	"2.",
	"3.",
}

// CompressOutput keeps the first non-empty line plus high-signal lines of
// text until maxChars is reached.
func CompressOutput(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	count := 0
	first := -1

	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
			count += len(line)
			first = i

			break
		}
	}

	for _, line := range lines[first+1:] {
		if count >= maxChars {
			break
		}

		stripped := strings.ToLower(strings.TrimSpace(line))
		if stripped == "" {
			continue
		}

		if strings.HasPrefix(stripped, "#") || containsAny(stripped, signalMarkers) {
			kept = append(kept, line)
			count += len(line)
		}
	}

	result := strings.Join(kept, "\n")
	if len(result) > maxChars {
		result = result[:maxChars] + "..."
	}

	return result
}

// BuildCompressedContext joins accumulated outputs for the next node. The
// newest entry keeps half the budget verbatim; older entries share the rest
// and are compressed. Entries are "[label]:\n<body>".
func BuildCompressedContext(accumulated []string, budget int) string {
	switch len(accumulated) {
	case 0:
		return ""
	case 1:
		return truncate(accumulated[0], budget)
	}

	last := accumulated[len(accumulated)-1]
	older := accumulated[:len(accumulated)-1]

	lastBudget := budget / 2
	perEntry := max(minCompressedEntry, (budget-lastBudget)/len(older))

	parts := make([]string, 0, len(accumulated))

	for _, entry := range older {
		header, body, found := strings.Cut(entry, "\n")
		if found && header != "" {
			parts = append(parts, header+"\n"+CompressOutput(body, perEntry))
		} else {
			parts = append(parts, CompressOutput(entry, perEntry))
		}
	}

	parts = append(parts, truncate(last, lastBudget))

	return strings.Join(parts, contextSeparator)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}

	return false
}
