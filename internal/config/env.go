package config

import (
	"os"
	"strconv"
	"strings"
)

// lookup resolves key from the environment, falling back to the contents of
// the file named by key + "_FILE" so secrets can be mounted instead of set.
func lookup(key string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if path := os.Getenv(key + "_FILE"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// Get returns the environment value for key, or def when unset.
func Get(key, def string) string {
	if val := lookup(key); val != "" {
		return val
	}
	return def
}

// GetInt returns the integer value for key, or def when unset or unparsable.
func GetInt(key string, def int) int {
	if val := lookup(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return def
}

// GetBool returns the boolean value for key, or def when unset or
// unrecognised. Accepts the usual spellings (1/0, true/false, yes/no).
func GetBool(key string, def bool) bool {
	if val := lookup(key); val != "" {
		switch strings.ToLower(val) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}
