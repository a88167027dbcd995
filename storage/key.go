package storage

import (
	"os"
	"strings"
)

// keyCutset holds every separator trimmed from both ends of a key.
var keyCutset = `/\` + string(os.PathSeparator) + string(os.PathListSeparator)

// NormalizeKey trims path and path-list separators from both ends of key.
// Keys that normalize identically address the same item in every provider.
func NormalizeKey(key string) string {
	return strings.Trim(key, keyCutset)
}
