package plan

import (
	"regexp"
	"strings"
)

var (
	// fencedBlockPattern matches a JSON object inside a markdown code fence.
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*```")
	// greedyObjectPattern spans from the first '{' to the last '}'.
	greedyObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// candidateBlocks returns the structured blocks embedded in free text, most
// specific first: a fenced ```json block, the first balanced top-level
// object, then the greedy first-to-last brace span. Each is cleaned of
// comment and trailing-comma artifacts.
func candidateBlocks(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(raw string) {
		if raw == "" {
			return
		}
		cleaned := cleanJSON(raw)
		if _, dup := seen[cleaned]; dup {
			return
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}

	if m := fencedBlockPattern.FindStringSubmatch(text); len(m) > 1 {
		add(m[1])
	}
	add(firstBalancedObject(text))
	add(greedyObjectPattern.FindString(text))
	return out
}

// firstBalancedObject returns the first top-level {...} block, matching
// braces outside of JSON string literals. Returns "" if no block closes.
func firstBalancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// cleanJSON strips // comments outside strings and trailing commas, both
// common in model output.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
