package logging

import (
	"fmt"
	"log"
	"os"
	"time"
)

const levelFatal = "FATAL"

// writeLog formats the message with optional fields and routes it:
// DEBUG/INFO/WARN go to stdout, ERROR/FATAL to stderr.
func (l *Logger) writeLog(level, msg string, fields map[string]interface{}) {
	timestamp := fmt.Sprintf("[%s]", GetTimestamp())
	logMsg := fmt.Sprintf("%s [%s] %s: %s", timestamp, level, l.name, msg)

	if len(fields) > 0 {
		logMsg += " |"
		for k, v := range fields {
			logMsg += fmt.Sprintf(" %s=%v", k, v)
		}
	}

	if level == strError || level == levelFatal {
		fmt.Fprintf(os.Stderr, "%s\n", logMsg)
	} else {
		log.Println(logMsg)
	}
}

// logf handles formatted messages, merging context and persistent fields.
func (l *Logger) logf(level, msg string, args ...interface{}) {
	formattedMsg := fmt.Sprintf(msg, args...)

	contextFields := extractContextFields(l.ctx)
	var mergedFields map[string]interface{}

	if contextFields != nil || len(l.fields) > 0 {
		mergedFields = make(map[string]interface{})
		for k, v := range contextFields {
			mergedFields[k] = v
		}
		for k, v := range l.fields {
			mergedFields[k] = v
		}
	}

	l.writeLog(level, formattedMsg, mergedFields)
}

// GetTimestamp returns an RFC3339 timestamp.
// Can be overridden via LOG_TIMESTAMP env var for deterministic tests.
func GetTimestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}
