// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package listener

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/callerr"
	"github.com/rapidaai/callcore/internal/logging"
)

const uploadTimeout = 180 * time.Second

// ModelSession is the narrow slice of C1 the termination routine needs.
type ModelSession interface {
	Close() error
}

// SessionLog is the narrow slice of the session log writer the termination
// routine needs: the accumulated bytes to archive, and the local path to
// delete once they're safely uploaded (§4.5.2 steps 5 and 7).
type SessionLog interface {
	Flush(ctx context.Context) ([]byte, error)
	Path() string
}

// ObjectStore uploads the zipped session log (§4.5.2 step 5).
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// AudioRecorder is the narrow slice of *recorder.Recorder the termination
// routine needs: the rendered dual-track WAVs, persisted alongside the raw
// NDJSON session log before zipping (§4.5.2 "Recording grounding").
type AudioRecorder interface {
	Persist() (userWAV, assistantWAV []byte, err error)
}

// CallRecordStore persists the call's termination outcome (§4.5.2 step 6).
// InsertCallEvent is only called for browser/inbound calls per that step's
// explicit carve-out for outbound telephony.
type CallRecordStore interface {
	UpdateTermination(ctx context.Context, callID string, cause calldata.TerminationCause, logKey string) error
	InsertCallEvent(ctx context.Context, callID string, durationSeconds float64) error
}

// Result is what Terminate returns: the stable outcome every caller — first
// or repeat — observes (R1, I1).
type Result struct {
	CallID  string
	TotalMs int
}

// Terminator runs the §4.5.2 termination routine exactly once per call,
// regardless of how many goroutines call Terminate concurrently. In this
// service transport.Run calls it once, after the bridge returns.
type Terminator struct {
	logger logging.Logger

	mu   sync.Mutex
	done bool
	res  Result
}

// NewTerminator constructs a Terminator. logger is used for the best-effort
// steps (upload, persistence, cleanup) whose failures must not block the
// routine (§4.5.2: "failures...are logged but do not block step 6").
func NewTerminator(logger logging.Logger) *Terminator {
	return &Terminator{logger: logger}
}

// Terminate runs the idempotent termination routine. session, queue, log,
// store, and records may each be nil (e.g. in tests, or for a call with no
// live listener attached); every step downstream of a nil collaborator is
// skipped. recordEvent should be false for outbound telephony calls per
// §4.5.2 step 6's explicit carve-out.
func (t *Terminator) Terminate(
	ctx context.Context,
	call *calldata.Call,
	session ModelSession,
	queue *Queue,
	log SessionLog,
	store ObjectStore,
	records CallRecordStore,
	recordEvent bool,
	recorder AudioRecorder,
) (Result, error) {
	t.mu.Lock()
	if t.done {
		res := t.res
		t.mu.Unlock()
		return res, callerr.ErrCallAlreadyTerminated
	}
	t.done = true
	t.res = Result{CallID: call.ID, TotalMs: call.Audio.TotalMs}
	res := t.res
	t.mu.Unlock()

	// Step 1-2: stop the model session.
	if session != nil {
		if err := session.Close(); err != nil {
			t.logger.Warnf("listener: closing model session for call_id=%s: %v", call.ID, err)
		}
	}

	// Step 3: push call_end to any attached listener; closes the stream.
	if queue != nil {
		queue.Terminate()
	}

	// Step 4-5: flush and archive the session log.
	var logBytes []byte
	var haveLog bool
	if log != nil {
		var err error
		logBytes, err = log.Flush(ctx)
		if err != nil {
			t.logger.Warnf("listener: flushing session log for call_id=%s: %v", call.ID, err)
		} else {
			haveLog = true
		}
	}

	var userWAV, assistantWAV []byte
	if recorder != nil {
		var err error
		userWAV, assistantWAV, err = recorder.Persist()
		if err != nil {
			t.logger.Warnf("listener: rendering session recording for call_id=%s: %v", call.ID, err)
		}
	}

	logKey := fmt.Sprintf("logs/%s.zip", call.ID)
	if haveLog && store != nil {
		zipped, err := zipSessionLog(call.ID, logBytes, userWAV, assistantWAV)
		if err != nil {
			t.logger.Warnf("listener: zipping session log for call_id=%s: %v", call.ID, err)
		} else {
			uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
			err = store.Upload(uploadCtx, logKey, zipped)
			cancel()
			if err != nil {
				t.logger.Warnf("listener: uploading session log for call_id=%s: %v", call.ID, err)
			}
		}
	}

	// Step 6: persist the call's outcome. This never blocks on steps 4-5's
	// success — a failed upload still gets a termination record written.
	if records != nil {
		cause, _ := call.TerminationCause()
		if err := records.UpdateTermination(ctx, call.ID, cause, logKey); err != nil {
			t.logger.Warnf("listener: updating call record for call_id=%s: %v", call.ID, err)
		}
		if recordEvent {
			if err := records.InsertCallEvent(ctx, call.ID, float64(call.Audio.TotalMs)/1000); err != nil {
				t.logger.Warnf("listener: inserting call event for call_id=%s: %v", call.ID, err)
			}
		}
	}

	// Step 7: delete the local log file now that it's archived.
	if log != nil {
		if err := os.Remove(log.Path()); err != nil && !os.IsNotExist(err) {
			t.logger.Warnf("listener: deleting local log for call_id=%s: %v", call.ID, err)
		}
	}

	// Step 8: return the observed outcome.
	return res, nil
}

// zipSessionLog bundles the NDJSON event log with the rendered dual-track
// recording, when present, into a single in-memory archive (§4.5.2 step 5).
func zipSessionLog(callID string, data, userWAV, assistantWAV []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	w, err := zw.Create(callID + ".jsonl")
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}

	if len(userWAV) > 0 {
		w, err := zw.Create(callID + "/user.wav")
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(userWAV); err != nil {
			return nil, err
		}
	}
	if len(assistantWAV) > 0 {
		w, err := zw.Create(callID + "/assistant.wav")
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(assistantWAV); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
