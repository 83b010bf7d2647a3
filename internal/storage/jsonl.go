package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"launchpadScope/internal/model"
)

const (
	eventsFile       = "events.jsonl"
	decodeErrorsFile = "decode_errors.jsonl"
	snapshotsFile    = "snapshots.jsonl"
)

// EventLine is one line of events.jsonl.
type EventLine struct {
	Kind  model.EventKind `json:"kind"`
	Event model.Event     `json:"event"`
}

// JsonlStorage appends archive records to JSONL files in a directory.
type JsonlStorage struct {
	dir string
	mu  sync.Mutex
}

func NewJsonlStorage(dir string) *JsonlStorage {
	return &JsonlStorage{dir: dir}
}

func (s *JsonlStorage) PutEvents(_ context.Context, events []model.Event) error {
	lines := make([]interface{}, 0, len(events))
	for _, ev := range events {
		lines = append(lines, EventLine{Kind: ev.Kind(), Event: ev})
	}
	return s.appendLines(eventsFile, lines)
}

func (s *JsonlStorage) PutDecodeErrors(_ context.Context, errs []model.DecodeError) error {
	lines := make([]interface{}, 0, len(errs))
	for _, e := range errs {
		lines = append(lines, e)
	}
	return s.appendLines(decodeErrorsFile, lines)
}

func (s *JsonlStorage) PutSnapshots(_ context.Context, snapshots []model.BondedCurveSnapshot) error {
	lines := make([]interface{}, 0, len(snapshots))
	for _, snap := range snapshots {
		lines = append(lines, snap)
	}
	return s.appendLines(snapshotsFile, lines)
}

func (s *JsonlStorage) Close() error { return nil }

func (s *JsonlStorage) appendLines(name string, values []interface{}) error {
	if len(values) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir != "" && s.dir != "." {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, value := range values {
		line, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", name, err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write %s record: %w", name, err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", name, err)
	}
	return nil
}
