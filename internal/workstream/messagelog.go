package workstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// MessageLog is the append-only, ordered store of WorkstreamMessages for one
// workstream. Appends are atomic line-level writes that survive a process
// crash without corrupting earlier lines.
type MessageLog interface {
	Append(workstreamID string, msg *models.WorkstreamMessage) error
	ReadAll(workstreamID string) ([]*models.WorkstreamMessage, error)
	ReadRange(workstreamID string, since time.Time) ([]*models.WorkstreamMessage, error)
	MoveMessages(fromWorkstreamID, toWorkstreamID string) error
	DeleteAll(workstreamID string) error
}

// JSONLMessageLog stores one file per workstream under dir, each line a
// JSON-encoded WorkstreamMessage.
type JSONLMessageLog struct {
	dir string
	mu  sync.Mutex
}

// NewJSONLMessageLog creates a log rooted at dir, creating it if absent.
func NewJSONLMessageLog(dir string) (*JSONLMessageLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create message log dir: %w", err)
	}
	return &JSONLMessageLog{dir: dir}, nil
}

func (l *JSONLMessageLog) path(workstreamID string) string {
	return filepath.Join(l.dir, workstreamID+".jsonl")
}

// Append writes one message as a single JSON line. The write is
// append-only and fsync'd before return, so a crash mid-write can at worst
// truncate the final line, never corrupt an earlier one.
func (l *JSONLMessageLog) Append(workstreamID string, msg *models.WorkstreamMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.WorkstreamID = workstreamID

	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(l.path(workstreamID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return f.Sync()
}

// ReadAll returns every message in the log, in append order. Lines that
// fail to parse are skipped; the caller is responsible for logging that at
// the appropriate level.
func (l *JSONLMessageLog) ReadAll(workstreamID string) ([]*models.WorkstreamMessage, error) {
	return l.readFiltered(workstreamID, func(*models.WorkstreamMessage) bool { return true })
}

// ReadRange returns every message with Timestamp >= since, in append order.
func (l *JSONLMessageLog) ReadRange(workstreamID string, since time.Time) ([]*models.WorkstreamMessage, error) {
	return l.readFiltered(workstreamID, func(m *models.WorkstreamMessage) bool {
		return !m.Timestamp.Before(since)
	})
}

func (l *JSONLMessageLog) readFiltered(workstreamID string, keep func(*models.WorkstreamMessage) bool) ([]*models.WorkstreamMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path(workstreamID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open message log: %w", err)
	}
	defer f.Close()

	var out []*models.WorkstreamMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg models.WorkstreamMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if keep(&msg) {
			out = append(out, &msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan message log: %w", err)
	}
	return out, nil
}

// MoveMessages rewrites every line's workstream ownership from one
// workstream to another, appending them to the destination log and
// truncating the source.
func (l *JSONLMessageLog) MoveMessages(fromWorkstreamID, toWorkstreamID string) error {
	messages, err := l.ReadAll(fromWorkstreamID)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	destPath := l.path(toWorkstreamID)
	f, err := os.OpenFile(destPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open destination log: %w", err)
	}
	defer f.Close()

	for _, msg := range messages {
		msg.WorkstreamID = toWorkstreamID
		line, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal moved message: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write moved message: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return err
	}

	if err := os.Remove(l.path(fromWorkstreamID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncate source log: %w", err)
	}
	return nil
}

// DeleteAll removes the entire log file for a workstream.
func (l *JSONLMessageLog) DeleteAll(workstreamID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.path(workstreamID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete message log: %w", err)
	}
	return nil
}
