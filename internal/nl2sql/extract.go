package nl2sql

import (
	"errors"
	"regexp"
	"strings"
)

var ErrEmptySQL = errors.New("model returned empty SQL")

var (
	fencedBlock = regexp.MustCompile("(?s)```(.*?)```")
	fenceTag    = regexp.MustCompile(`^[A-Za-z0-9_+-]+$`)
	strayFence  = regexp.MustCompile("```(?:[A-Za-z0-9_+-]+[ \\t]*(?:\\r?\\n|$))?")
)

// ExtractSQL pulls the SQL out of a model reply: the body of the first
// fenced block when there is one, otherwise the whole reply, with any stray
// fence markers removed. A language tag after the opening fence is dropped.
func ExtractSQL(raw string) string {
	text := strings.TrimSpace(raw)
	if match := fencedBlock.FindStringSubmatch(text); match != nil {
		text = stripFenceTag(match[1])
	} else if rest, ok := strings.CutPrefix(text, "```"); ok {
		text = stripFenceTag(rest)
	}
	text = strayFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// stripFenceTag removes the info string that may follow an opening fence:
// a single word alone on the first line, or a leading "sql " on it.
func stripFenceTag(body string) string {
	line, rest, _ := strings.Cut(body, "\n")
	tag := strings.TrimSpace(line)
	switch lower := strings.ToLower(tag); {
	case fenceTag.MatchString(tag) && !statementKeyword(lower):
		return rest
	case strings.HasPrefix(lower, "sql ") || strings.HasPrefix(lower, "sql\t"):
		return strings.TrimSpace(tag[3:]) + "\n" + rest
	}
	return body
}

func statementKeyword(word string) bool {
	switch word {
	case "select", "with", "values", "from", "table", "describe", "show", "explain", "pivot", "unpivot":
		return true
	}
	return false
}
