// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package bridge

// runTruncation implements §4.3.3: tell the model exactly how much of the
// last assistant turn the human actually heard, then reset playback
// bookkeeping to Idle. It is the single call site both barge-in (downlink)
// and call-end (uplink) use.
//
//	heard_ms = mark_queue_elapsed_time
//	         + min(now_ms - inter_mark_start_time, head(mark_queue))   // only if inter_mark_start_time is set
func (b *Bridge) runTruncation() error {
	itemID := b.call.Marks.LastAIItemID
	if itemID == "" {
		return nil
	}

	heardMs := b.call.Marks.MarkQueueElapsedMs
	if b.call.Marks.InterMarkStartMs != 0 {
		elapsed := b.now() - b.call.Marks.InterMarkStartMs
		if head, ok := b.call.Marks.Head(); ok {
			if elapsed > int64(head) {
				elapsed = int64(head)
			}
			if elapsed < 0 {
				elapsed = 0
			}
			heardMs += int(elapsed)
		}
	}

	b.call.Marks.Clear()
	return b.session.SendTruncate(itemID, heardMs)
}
