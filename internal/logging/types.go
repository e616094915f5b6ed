package logging

import (
	"context"
	"strings"
	"sync"
)

// LogLevel represents the logging level.
type LogLevel int

const (
	// DEBUG level for detailed debugging information
	DEBUG LogLevel = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
	// FATAL level for fatal messages
	FATAL
)

const strError = "ERROR"

// LogField represents a structured logging field.
type LogField struct {
	Key   string
	Value interface{}
}

// Field creates a structured logging field.
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// Logger provides structured logging throughout the application.
type Logger struct {
	level  LogLevel
	name   string
	fields map[string]interface{}
	ctx    context.Context
}

// packageLogLevels stores per-package log level overrides.
// Keys are exact names ("debate.supervisor") or wildcard patterns ("debate.*").
var (
	packageLogLevels = make(map[string]LogLevel)
	packageLogMutex  sync.RWMutex
)

// SetPackageLogLevels configures per-package log levels.
// Input format: map["debate.supervisor"]="DEBUG" or map["debate.*"]="INFO".
func SetPackageLogLevels(levels map[string]string) error {
	if levels == nil {
		return nil
	}

	packageLogMutex.Lock()
	defer packageLogMutex.Unlock()

	packageLogLevels = make(map[string]LogLevel)

	for pkg, levelStr := range levels {
		level, err := parseLevel(levelStr)
		if err != nil {
			return err
		}
		packageLogLevels[pkg] = level
	}

	return nil
}

// GetPackageLogLevel returns the effective log level override for a package
// name, or -1 if none is configured. Exact matches win over wildcard
// patterns; among patterns the longest (most specific) wins.
func GetPackageLogLevel(packageName string) LogLevel {
	packageLogMutex.RLock()
	defer packageLogMutex.RUnlock()

	if level, exists := packageLogLevels[packageName]; exists {
		return level
	}

	var best string
	for pattern := range packageLogLevels {
		if matchesPattern(packageName, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best != "" {
		return packageLogLevels[best]
	}

	return LogLevel(-1)
}

// matchesPattern supports wildcard patterns like "debate.*".
func matchesPattern(packageName, pattern string) bool {
	if packageName == pattern {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(packageName, prefix+".")
	}
	return false
}
