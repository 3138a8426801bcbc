// Package session records orchestrator runs as append-only JSONL event
// logs, one file per run. The logs are the forensic record for the
// plans CLI and for comparing orchestration modes offline.
package session

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status constants for runs.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Event types for the run log.
const (
	EventDecompose = "decompose"  // Plan produced from the query
	EventLLMCall   = "llm_call"   // One model round trip
	EventStepStart = "step_start" // Plan step picked up
	EventStepEnd   = "step_end"   // Plan step reached a terminal status
	EventSkillCall = "subprocess" // Skill subprocess invocation
	EventFinal     = "final"      // Final reply assembled
)

// Run is one orchestrated request from query to final reply.
type Run struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	Query     string    `json:"query"`
	PlanID    string    `json:"plan_id,omitempty"`
	Status    string    `json:"status"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Events    []Event   `json:"events"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	seq uint64
	mu  sync.Mutex
}

// Event is a single entry in the run log. Seq is monotonic within the
// run and orders events regardless of timestamp resolution.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Step context, for step_* and subprocess events.
	Step    int    `json:"step,omitempty"`
	Skill   string `json:"skill,omitempty"`
	Command string `json:"command,omitempty"`

	// Payload.
	Content string `json:"content,omitempty"`

	// Outcome.
	Success    *bool  `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	// Model details, for llm_call events.
	Model        string   `json:"model,omitempty"`
	TokensIn     int      `json:"tokens_in,omitempty"`
	TokensOut    int      `json:"tokens_out,omitempty"`
	CacheHitRate *float64 `json:"cache_hit_rate,omitempty"`
}

// AddEvent appends an event with automatic sequencing.
func (r *Run) AddEvent(event Event) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	event.Seq = r.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	r.Events = append(r.Events, event)
	return event.Seq
}

// generateID creates a unique run ID.
func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// JSONL record types. A run file is one header line, one line per
// event, and a footer with the final state.
const (
	recordHeader = "header"
	recordEvent  = "event"
	recordFooter = "footer"
)

type jsonlRecord struct {
	RecordType string `json:"_type"`

	// Header fields.
	ID        string    `json:"id,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Query     string    `json:"query,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`

	// Event fields.
	*Event `json:",omitempty"`

	// Footer fields. The run error key must not collide with the
	// embedded Event's "error", which would shadow it on marshal.
	PlanID   string    `json:"plan_id,omitempty"`
	Status   string    `json:"status,omitempty"`
	Output   string    `json:"output,omitempty"`
	RunError string    `json:"run_error,omitempty"`
	EndedAt  time.Time `json:"ended_at,omitempty"`
}

// FileStore persists runs as <id>.jsonl files in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *FileStore) Dir() string { return s.dir }

// Save writes the full run file, replacing any previous version.
func (s *FileStore) Save(run *Run) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}

	path := filepath.Join(s.dir, run.ID+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create run file: %w", err)
	}
	defer f.Close()

	if err := writeLine(f, jsonlRecord{
		RecordType: recordHeader,
		ID:         run.ID,
		Mode:       run.Mode,
		Query:      run.Query,
		StartedAt:  run.StartedAt,
	}); err != nil {
		return err
	}
	for i := range run.Events {
		if err := writeLine(f, jsonlRecord{RecordType: recordEvent, Event: &run.Events[i]}); err != nil {
			return err
		}
	}
	return writeLine(f, jsonlRecord{
		RecordType: recordFooter,
		PlanID:     run.PlanID,
		Status:     run.Status,
		Output:     run.Output,
		RunError:   run.Error,
		EndedAt:    run.EndedAt,
	})
}

func writeLine(f *os.File, record jsonlRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Load reads a run back from disk.
func (s *FileStore) Load(id string) (*Run, error) {
	f, err := os.Open(filepath.Join(s.dir, id+".jsonl"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	run := &Run{Events: []Event{}}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if perr := parseLine(bytes.TrimSpace(line), run); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read run file: %w", err)
		}
	}
	if n := len(run.Events); n > 0 {
		run.seq = run.Events[n-1].Seq
	}
	return run, nil
}

func parseLine(line []byte, run *Run) error {
	var record jsonlRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("parse run file: %w", err)
	}
	switch record.RecordType {
	case recordHeader:
		run.ID = record.ID
		run.Mode = record.Mode
		run.Query = record.Query
		run.StartedAt = record.StartedAt
	case recordEvent:
		if record.Event != nil {
			run.Events = append(run.Events, *record.Event)
		}
	case recordFooter:
		run.PlanID = record.PlanID
		run.Status = record.Status
		run.Output = record.Output
		run.Error = record.RunError
		run.EndedAt = record.EndedAt
	}
	return nil
}

// List returns the stored run IDs, newest file first.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	type stamped struct {
		id  string
		mod time.Time
	}
	var runs []stamped
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, stamped{strings.TrimSuffix(e.Name(), ".jsonl"), info.ModTime()})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].mod.After(runs[j].mod) })
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}
