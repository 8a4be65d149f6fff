package rawview

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Log is a bounded display buffer of reformatted raw traffic. It keeps the
// trailing partial line separately so hex regrouping can continue it.
type Log struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial string
	dropped uint64
}

func NewLog(maxLines int) *Log {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &Log{max: maxLines}
}

// Write implements io.Writer.
func (l *Log) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data := l.partial + string(p)
	l.partial = ""
	parts := strings.Split(data, "\n")
	// The last element is whatever follows the final newline.
	for _, line := range parts[:len(parts)-1] {
		l.appendLineLocked(line)
	}
	l.partial = parts[len(parts)-1]
	return len(p), nil
}

func (l *Log) appendLineLocked(line string) {
	l.lines = append(l.lines, strings.TrimRight(line, "\r"))
	if len(l.lines) > l.max {
		over := len(l.lines) - l.max
		l.lines = l.lines[over:]
		l.dropped += uint64(over)
	}
}

// Tail returns the text after the last line break.
func (l *Log) Tail() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.partial
}

// Text returns the whole buffer as displayed.
func (l *Log) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.textLocked()
}

func (l *Log) textLocked() string {
	var b strings.Builder
	for _, line := range l.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(l.partial)
	return b.String()
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.lines = nil
	l.partial = ""
	l.dropped = 0
	l.mu.Unlock()
}

// Snapshot returns up to tail complete lines, plus the trailing partial line
// when there is one.
func (l *Log) Snapshot(tail int) (lines []string, dropped uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped = l.dropped
	if tail <= 0 {
		tail = 200
	}
	if tail > len(l.lines) {
		tail = len(l.lines)
	}
	start := len(l.lines) - tail
	lines = append([]string(nil), l.lines[start:]...)
	if l.partial != "" {
		lines = append(lines, l.partial)
	}
	return lines, dropped
}

// Save writes the buffer to path. Failures are returned to the caller and
// leave the buffer untouched.
func (l *Log) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("raw log path is empty")
	}
	text := l.Text()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".rawlog-*")
	if err != nil {
		return fmt.Errorf("save raw log: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("save raw log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save raw log: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save raw log: %w", err)
	}
	return nil
}

type LogResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

// Handler serves the buffer. GET returns the tail as JSON (or text with
// format=text); DELETE clears it.
func (l *Log) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
		case http.MethodDelete:
			l.Clear()
			w.WriteHeader(http.StatusNoContent)
			return
		default:
			w.Header().Set("Allow", "GET, DELETE")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		tail := 200
		if s := strings.TrimSpace(r.URL.Query().Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}

		lines, dropped := l.Snapshot(tail)
		if strings.EqualFold(r.URL.Query().Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, line := range lines {
				_, _ = w.Write([]byte(line))
				_, _ = w.Write([]byte("\n"))
			}
			return
		}

		resp := LogResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Lines:   lines,
		}
		bts, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(bts)
		_, _ = w.Write([]byte("\n"))
	})
}
