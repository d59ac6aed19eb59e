// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callerr holds the sentinel error kinds the call-core produces, per
// the error handling design: every path funnels into the termination
// routine, nothing raises past a per-call task boundary.
package callerr

import "errors"

var (
	// ErrCallAlreadyTerminated is returned by a second call to the
	// termination routine; callers should treat it as informational, not
	// as a failure, and use the cached (call_id, total_ms) instead.
	ErrCallAlreadyTerminated = errors.New("call already terminated")

	// ErrUnknownTool is logged and ignored per B1; it never terminates the
	// call or unwinds the dispatcher.
	ErrUnknownTool = errors.New("unknown tool name")

	// ErrToolArgsInvalid means the model emitted arguments that failed to
	// parse against the tool's schema. Logged; the tool is not invoked and
	// no result is sent back (the model will time out or continue).
	ErrToolArgsInvalid = errors.New("tool arguments invalid")

	// ErrKnowledgeBaseUnavailable is surfaced to the model as a tool result
	// string, never raised into the call.
	ErrKnowledgeBaseUnavailable = errors.New("knowledge base unavailable")

	// ErrTransportClosed marks a normal, expected close of either the
	// human-side or the model-side transport.
	ErrTransportClosed = errors.New("transport closed")
)
