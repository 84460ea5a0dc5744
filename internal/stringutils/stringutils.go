package stringutils

import "strings"

// IndentString prefixes each line of the string with indent.
func IndentString(str, indent string) string {
	spl := strings.SplitAfter(str, "\n")
	return strings.Join(append([]string{""}, spl...), indent)
}

// ShortSHA abbreviates a commit hash to 8 characters. Shorter input is
// returned unchanged.
func ShortSHA(sha string) string {
	if len(sha) <= 8 {
		return sha
	}

	return sha[:8]
}
