// Package audit implements the append-only compliance audit log. Entries are
// queued to a single writer goroutine and written one JSON line at a time to
// a per-organization file, optionally chained with SHA-256 hashes for tamper
// evidence.
package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psmp-io/psmp/pkg/metrics"
	"github.com/psmp-io/psmp/pkg/models"
	"github.com/psmp-io/psmp/pkg/watchdog"
)

// Policy decision values recorded in audit entries.
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
)

const (
	writerHeartbeat  = 30 * time.Second
	writerStaleAfter = 2 * time.Minute
)

// Config holds auditor settings.
type Config struct {
	// Dir is the directory holding compliance_audit_<org>.jsonl files.
	Dir string
	// QueueSize is the high-water mark of the in-memory queue.
	QueueSize int
	// HashChain enables SHA-256 chaining of entries.
	HashChain bool
	// Strict makes Record block until the entry is durable and return the
	// write result instead of dropping on a full queue.
	Strict bool
}

// Auditor serializes audit writes through one goroutine so concurrent
// governance decisions never interleave partial lines.
type Auditor struct {
	cfg   Config
	queue chan queuedEntry
	done  chan struct{}
	log   *slog.Logger

	gen      atomic.Uint64
	wd       *watchdog.Watchdog
	doneOnce sync.Once

	mu    sync.Mutex
	files map[string]*orgLog
}

type queuedEntry struct {
	entry models.AuditEntry
	// ack, when non-nil, receives the write result; strict Record waits on it.
	ack chan error
}

type orgLog struct {
	file     *os.File
	lastHash string
}

// NewAuditor creates the audit directory if needed and starts the supervised
// writer.
func NewAuditor(cfg Config) (*Auditor, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}

	a := &Auditor{
		cfg:   cfg,
		queue: make(chan queuedEntry, cfg.QueueSize),
		done:  make(chan struct{}),
		log:   slog.With("component", "auditor"),
		files: make(map[string]*orgLog),
	}
	a.wd = watchdog.New("audit-writer", writerHeartbeat, writerStaleAfter, a.startWriter)
	a.startWriter()
	a.wd.Start(context.Background())
	return a, nil
}

// Record enqueues one audit entry. In strict mode the call blocks until the
// entry is fsynced and returns the write result; otherwise enqueueing is
// best-effort, a full queue drops the entry, and the result is always nil.
func (a *Auditor) Record(entry models.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if a.cfg.Strict {
		ack := make(chan error, 1)
		a.queue <- queuedEntry{entry: entry, ack: ack}
		metrics.AuditQueueDepth.Set(float64(len(a.queue)))
		return <-ack
	}
	select {
	case a.queue <- queuedEntry{entry: entry}:
		metrics.AuditQueueDepth.Set(float64(len(a.queue)))
	default:
		metrics.AuditQueueSaturated.Inc()
		a.log.Warn("Audit queue saturated, dropping entry",
			"agent", entry.AgentName, "org", entry.Organization)
	}
	return nil
}

// Close drains the queue and closes all log files.
func (a *Auditor) Close() error {
	a.wd.Stop()
	close(a.queue)
	<-a.done

	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for _, ol := range a.files {
		if err := ol.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.files = make(map[string]*orgLog)
	return firstErr
}

// startWriter launches a writer goroutine and supersedes any previous one.
// The watchdog calls this again when the current writer stalls.
func (a *Auditor) startWriter() {
	gen := a.gen.Add(1)
	go a.run(gen)
}

func (a *Auditor) run(gen uint64) {
	ticker := time.NewTicker(writerHeartbeat)
	defer ticker.Stop()
	for {
		// A superseded writer exits once it finishes its current entry so
		// only one goroutine keeps consuming the queue.
		if a.gen.Load() != gen {
			return
		}
		select {
		case q, ok := <-a.queue:
			if !ok {
				a.doneOnce.Do(func() { close(a.done) })
				return
			}
			err := a.write(q.entry)
			if q.ack != nil {
				q.ack <- err
			}
			if err != nil {
				a.log.Error("Failed to write audit entry",
					"org", q.entry.Organization, "error", err)
			} else {
				metrics.AuditEntriesWritten.Inc()
			}
			metrics.AuditQueueDepth.Set(float64(len(a.queue)))
			a.wd.Beat()
		case <-ticker.C:
			a.wd.Beat()
		}
	}
}

func (a *Auditor) write(entry models.AuditEntry) error {
	ol, err := a.logFor(entry.Organization)
	if err != nil {
		return err
	}

	if a.cfg.HashChain {
		entry.PrevHash = ol.lastHash
		hash, err := chainHash(entry)
		if err != nil {
			return err
		}
		entry.EntryHash = hash
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := ol.file.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := ol.file.Sync(); err != nil {
		return err
	}
	if a.cfg.HashChain {
		ol.lastHash = entry.EntryHash
	}
	return nil
}

// logFor opens (once) the per-org log file, recovering the chain tail from
// the last line of an existing file.
func (a *Auditor) logFor(org string) (*orgLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ol, ok := a.files[org]; ok {
		return ol, nil
	}

	path := a.logPath(org)
	lastHash, err := lastEntryHash(path)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	ol := &orgLog{file: file, lastHash: lastHash}
	a.files[org] = ol
	return ol, nil
}

func (a *Auditor) logPath(org string) string {
	return filepath.Join(a.cfg.Dir, "compliance_audit_"+org+".jsonl")
}

// chainHash hashes the entry with EntryHash zeroed, bound to its PrevHash.
func chainHash(entry models.AuditEntry) (string, error) {
	entry.EntryHash = ""
	data, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// lastEntryHash returns the entry_hash of the last line of path, or "" when
// the file does not exist or is empty.
func lastEntryHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer file.Close()

	var last string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			last = scanner.Text()
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if last == "" {
		return "", nil
	}
	var entry models.AuditEntry
	if err := json.Unmarshal([]byte(last), &entry); err != nil {
		return "", fmt.Errorf("corrupt audit log tail in %s: %w", path, err)
	}
	return entry.EntryHash, nil
}
