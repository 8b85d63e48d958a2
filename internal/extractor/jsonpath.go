package extractor

import (
	"github.com/tidwall/gjson"
)

// normalizePath accepts "$.field", bare "$" and plain gjson paths.
func normalizePath(path string) string {
	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			return path[2:]
		}
		if len(path) == 1 {
			return "@this"
		}
	}
	return path
}

// Lookup resolves path against a JSON body. Invalid JSON yields a result
// that does not exist.
func Lookup(body []byte, path string) gjson.Result {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}
	}
	return gjson.GetBytes(body, normalizePath(path))
}

// IsTrue reports whether path holds the JSON literal true.
func IsTrue(body []byte, path string) bool {
	return Lookup(body, path).Type == gjson.True
}

// Exists reports whether path is present in the body. A JSON null counts as
// present.
func Exists(body []byte, path string) bool {
	return Lookup(body, path).Exists()
}
