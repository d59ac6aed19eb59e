// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package bridge

import (
	"context"
	"time"
)

// kickoffTimer implements the "assistant speaks first" window (§4.3.1, S3).
// It is armed when session.updated arrives, disarmed by speech_started, and
// fires at most once.
type kickoffTimer struct {
	armDelayMs int
	armedAtMs  int64 // 0 means not armed
	fired      bool
}

func (k *kickoffTimer) Arm(nowMs int64) {
	if k == nil {
		return
	}
	k.armedAtMs = nowMs
}

func (k *kickoffTimer) Disarm() {
	if k == nil {
		return
	}
	k.armedAtMs = 0
}

func (k *kickoffTimer) shouldFire(nowMs int64) bool {
	if k == nil || k.fired || k.armedAtMs == 0 {
		return false
	}
	return nowMs-k.armedAtMs >= int64(k.armDelayMs)
}

func (k *kickoffTimer) markFired() {
	if k == nil {
		return
	}
	k.fired = true
	k.armedAtMs = 0
}

// kickoffLoop polls the timer until it fires once or the call ends. It exits
// immediately (without starting a ticker) when no kickoff window is configured.
func (b *Bridge) kickoffLoop(ctx context.Context) error {
	if b.kickoff == nil {
		return nil
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if b.kickoff.shouldFire(b.now()) {
				if err := b.session.SendKickoff(); err != nil {
					b.logger.Warnf("bridge: kickoff send failed: %v", err)
				}
				b.kickoff.markFired()
				return nil
			}
		}
	}
}
