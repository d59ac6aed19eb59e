// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package recorder renders a call's uplink and downlink audio into two
// timeline-accurate WAV tracks for archival alongside the session log.
package recorder

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/zaf/g711"

	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/logging"
)

const (
	bytesPerSample = 2 // every track is rendered as 16-bit linear PCM
	pcmFormatTag   = 1 // WAV PCM format tag
)

const (
	trackUser = 0
	trackAssistant = 1
)

// chunk is one recorded fragment placed at a byte offset on its track's
// timeline.
type chunk struct {
	ByteOffset int
	Data       []byte
	Track      int
}

// Recorder accumulates a call's user and assistant audio on a shared
// wall-clock timeline and renders each track to a standalone WAV file on
// Persist. It transcodes G.711 frames to linear PCM16 before placement,
// since WAV's PCM format tag requires linear samples.
type Recorder struct {
	logger logging.Logger
	format calldata.AudioFormat

	mu        sync.Mutex
	startTime time.Time
	started   bool
	chunks    []chunk
	// cursor[track] is the byte position just past the last written byte.
	// Each chunk, on either track, is placed at the later of its wall-clock
	// offset and the cursor, so back-to-back chunks stay contiguous despite
	// bursty delivery and re-anchor to wall-clock after a gap.
	cursor [2]int
	clock  func() time.Time
}

// New constructs a Recorder for a call using the given wire codec.
func New(format calldata.AudioFormat, logger logging.Logger) *Recorder {
	return &Recorder{format: format, logger: logger, clock: time.Now}
}

// Start begins the recording timeline; both tracks share this start time.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = r.clock()
	r.started = true
}

func (r *Recorder) bytesPerSecond() int {
	return r.format.SampleRate() * bytesPerSample
}

func durationBytes(d time.Duration, bytesPerSecond int) int {
	raw := int(d.Seconds() * float64(bytesPerSecond))
	return (raw / bytesPerSample) * bytesPerSample
}

func (r *Recorder) decode(raw []byte) []byte {
	switch r.format {
	case calldata.FormatG711ULaw:
		return g711.Ulaw2Lin(raw)
	case calldata.FormatG711ALaw:
		return g711.Alaw2Lin(raw)
	default:
		return raw
	}
}

// RecordUplink places one decoded human-side (uplink) frame on the user
// track.
func (r *Recorder) RecordUplink(raw []byte) {
	r.push(r.decode(raw), trackUser)
}

// RecordDownlink places one decoded model-side (downlink) frame on the
// assistant track.
func (r *Recorder) RecordDownlink(raw []byte) {
	r.push(r.decode(raw), trackAssistant)
}

func (r *Recorder) push(data []byte, track int) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	bytesPerSecond := r.bytesPerSecond()
	wallOffset := 0
	if r.started {
		wallOffset = durationBytes(r.clock().Sub(r.startTime), bytesPerSecond)
	}

	var offset int
	switch track {
	case trackUser:
		offset = wallOffset
		if r.cursor[track] > offset {
			offset = r.cursor[track]
		}
	default: // trackAssistant
		if r.cursor[track] > wallOffset {
			offset = r.cursor[track]
		} else {
			offset = wallOffset
		}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	r.chunks = append(r.chunks, chunk{ByteOffset: offset, Data: buf, Track: track})
	r.cursor[track] = offset + len(buf)
}

// Persist renders the user and assistant tracks to independent WAV files
// spanning the full Start-to-Persist session duration, each silence-filled
// wherever that track has no audio.
func (r *Recorder) Persist() (userWAV, assistantWAV []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bytesPerSecond := r.bytesPerSecond()
	totalLen := 0
	if r.started {
		totalLen = durationBytes(r.clock().Sub(r.startTime), bytesPerSecond)
	}
	for _, c := range r.chunks {
		if end := c.ByteOffset + len(c.Data); end > totalLen {
			totalLen = end
		}
	}

	userPCM := make([]byte, totalLen)
	assistantPCM := make([]byte, totalLen)
	for _, c := range r.chunks {
		dst := userPCM
		if c.Track == trackAssistant {
			dst = assistantPCM
		}
		copy(dst[c.ByteOffset:], c.Data)
	}

	r.logger.Infof("recorder: persisting call audio: total=%.2fs chunks=%d", float64(totalLen)/float64(bytesPerSecond), len(r.chunks))

	userWAV = buildWAV(userPCM, r.format.SampleRate())
	assistantWAV = buildWAV(assistantPCM, r.format.SampleRate())
	return userWAV, assistantWAV, nil
}

func buildWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	byteRate := sampleRate * bytesPerSample

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(pcmFormatTag))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(bytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(bytesPerSample*8))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
