package notify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/micguard/micguard/internal/types"
	"github.com/micguard/micguard/internal/util"
)

// LogDegradationStart records the beginning of a degradation period.
func LogDegradationStart(logPath, device string, silentSeconds, thresholdRMS float64) error {
	return appendLogEntry(logPath, &types.DegradationLogEntry{
		Timestamp:     timestampUTC(),
		Event:         "degradation_start",
		Device:        device,
		SilentSeconds: silentSeconds,
		ThresholdRMS:  thresholdRMS,
	})
}

// LogDegradationEnd records the end of a degradation period.
func LogDegradationEnd(logPath, device string, durationMs int64) error {
	return appendLogEntry(logPath, &types.DegradationLogEntry{
		Timestamp:  timestampUTC(),
		Event:      "degradation_end",
		Device:     device,
		DurationMs: durationMs,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &types.DegradationLogEntry{
		Timestamp: timestampUTC(),
		Event:     "test",
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *types.DegradationLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(jsonData); err != nil {
		return util.WrapError("write log entry", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return util.WrapError("write newline", err)
	}

	return nil
}
