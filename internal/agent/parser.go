package agent

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\n(.*?)```")

// ExtractCodeBlock returns the body of the first fenced code block in output,
// or output itself when there is none.
func ExtractCodeBlock(output string) string {
	if m := fenceRe.FindStringSubmatch(output); len(m) > 1 {
		return strings.TrimRight(m[1], "\n")
	}
	return output
}
