package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"time"
)

// LogEntry represents a parsed log line
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Category  string                 `json:"category"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogReader reads category log files written by MultiLogger
type LogReader struct {
	logsDir string
}

// NewLogReader creates a new log reader
func NewLogReader(logsDir string) *LogReader {
	return &LogReader{logsDir: logsDir}
}

// ReadLogs returns the last limit entries of a category log for a date; limit <= 0 returns all
func (lr *LogReader) ReadLogs(category LogCategory, date time.Time, limit int) ([]LogEntry, error) {
	file, err := os.Open(categoryLogPath(lr.logsDir, category, date))
	if err != nil {
		if os.IsNotExist(err) {
			return []LogEntry{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	entries := make([]LogEntry, 0, len(lines))
	for _, line := range lines {
		entries = append(entries, parseLine(category, line))
	}
	return entries, nil
}

// SearchLogs returns entries whose message or fields contain query (case-insensitive)
func (lr *LogReader) SearchLogs(category LogCategory, date time.Time, query string, limit int) ([]LogEntry, error) {
	entries, err := lr.ReadLogs(category, date, 0)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	filtered := make([]LogEntry, 0)
	for _, entry := range entries {
		if strings.Contains(strings.ToLower(entry.Message), query) || fieldsContain(entry.Fields, query) {
			filtered = append(filtered, entry)
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

func parseLine(category LogCategory, line string) LogEntry {
	raw := map[string]interface{}{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{Level: "info", Message: line, Category: string(category)}
	}

	entry := LogEntry{Category: string(category), Fields: map[string]interface{}{}}
	for k, v := range raw {
		switch k {
		case "ts":
			entry.Timestamp, _ = v.(string)
		case "level":
			entry.Level, _ = v.(string)
		case "msg":
			entry.Message, _ = v.(string)
		default:
			entry.Fields[k] = v
		}
	}
	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}
	return entry
}

func fieldsContain(fields map[string]interface{}, query string) bool {
	for _, v := range fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}
