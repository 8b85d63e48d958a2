package extractor

import (
	"regexp"
)

// findRegex returns the first capture group if the pattern has one, else
// the whole match.
func findRegex(body []byte, re *regexp.Regexp) (string, bool) {
	match := re.FindSubmatch(body)
	if match == nil {
		return "", false
	}
	if len(match) > 1 {
		return string(match[1]), true
	}
	return string(match[0]), true
}
