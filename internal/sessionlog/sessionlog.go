// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package sessionlog appends every realtime-model event to a per-call
// NDJSON file on local disk (§4.1: "each event is also appended to the
// session log file with an ISO-8601 timestamp ... fire-and-forget"). The
// termination routine (internal/listener) flushes and zips it, uploads it,
// then removes the file.
package sessionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rapidaai/callcore/internal/logging"
)

// Log is one call's append-only event log.
type Log struct {
	logger logging.Logger

	path string

	mu   sync.Mutex
	file *os.File

	wg sync.WaitGroup
}

type line struct {
	Timestamp string          `json:"timestamp"`
	Event     json.RawMessage `json:"event"`
}

// New creates (or truncates) the NDJSON file for callID under dir.
func New(dir, callID string, logger logging.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionlog: creating dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, callID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: opening %s: %w", path, err)
	}
	return &Log{logger: logger, path: path, file: f}, nil
}

// Append queues raw (one decoded realtime event) to be written with ts as
// its ISO-8601 timestamp. The write itself happens on a background
// goroutine — callers on the model session's read loop must never block on
// disk I/O (§5 suspension point (d)).
func (l *Log) Append(raw []byte, ts time.Time) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		entry, err := json.Marshal(line{
			Timestamp: ts.UTC().Format(time.RFC3339Nano),
			Event:     json.RawMessage(raw),
		})
		if err != nil {
			l.logger.Warnf("sessionlog: marshaling entry: %v", err)
			return
		}
		entry = append(entry, '\n')

		l.mu.Lock()
		defer l.mu.Unlock()
		if _, err := l.file.Write(entry); err != nil {
			l.logger.Warnf("sessionlog: writing to %s: %v", l.path, err)
		}
	}()
}

// Flush waits for every in-flight Append to land, closes the file, and
// returns its full contents. Satisfies listener.SessionLog.
func (l *Log) Flush(_ context.Context) ([]byte, error) {
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Close(); err != nil {
		return nil, fmt.Errorf("sessionlog: closing %s: %w", l.path, err)
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: reading %s: %w", l.path, err)
	}
	return data, nil
}

// Path returns the on-disk file path, removed by the termination routine
// once it has been uploaded.
func (l *Log) Path() string {
	return l.path
}
