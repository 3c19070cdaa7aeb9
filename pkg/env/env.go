package env

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// lookup returns the trimmed value of key and whether it was set to something non-empty
func lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

// GetStringFromFile reads KEY_FILE (Docker secrets) when set, otherwise KEY
func GetStringFromFile(key, defaultValue string) string {
	if filePath, ok := lookup(key + "_FILE"); ok {
		content, err := os.ReadFile(filepath.Clean(filePath))
		if err == nil {
			return string(bytes.TrimSpace(content))
		}
	}
	return GetString(key, defaultValue)
}

func GetString(key, defaultValue string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return defaultValue
}

// GetInt falls back to defaultValue when the variable is unset or not an integer
func GetInt(key string, defaultValue int) int {
	valueStr, ok := lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func GetBool(key string, defaultValue bool) bool {
	valueStr, ok := lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetDuration accepts Go duration syntax ("10s", "1m30s")
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr, ok := lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetStringSlice splits a comma-separated list, dropping empty entries
func GetStringSlice(key string, defaultValue []string) []string {
	valueStr, ok := lookup(key)
	if !ok {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// MustGetString panics when key is not set
func MustGetString(key string) string {
	value, ok := lookup(key)
	if !ok {
		panic("required environment variable " + key + " is not set")
	}
	return value
}
