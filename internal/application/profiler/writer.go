package profiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileMu serializes appends within the process. Other processes rely on O_APPEND.
var fileMu sync.Mutex

// writeLog appends intro and body to the run's log with the given suffix.
// An empty body is dropped when the empty log policy is skip.
func (p *RequestProfiler) writeLog(suffix, body, intro string) error {
	if body == "" && p.cfg.SkipEmptyLogs() {
		return nil
	}
	return appendFile(filepath.Join(p.cfg.LogLocation, p.RunID()+suffix), intro+body)
}

func appendFile(path, entry string) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", path, err)
	}
	if _, err := f.WriteString(entry); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append to log %s: %w", path, err)
	}
	return f.Close()
}
