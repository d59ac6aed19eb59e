// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tools implements C4, the Tool Dispatcher: the six model-callable
// tools enumerated in §4.4, each a thin adapter over a collaborator
// (knowledge base, telephony, browser out-of-band channel) that reports its
// result back to the model via conversation.item.create + response.create.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/callerr"
	"github.com/rapidaai/callcore/internal/logging"
	"github.com/rapidaai/callcore/internal/realtime"
)

// ResultSender is the narrow slice of C1 the dispatcher needs to report a
// tool's output back to the model.
type ResultSender interface {
	SendToolResult(previousItemID, callID, output string) error
}

// KnowledgeBase is C4's collaborator for query_documents (§6.3).
type KnowledgeBase interface {
	Query(ctx context.Context, kbIDs []string, query string) (string, error)
}

// Telephony is C4's collaborator for the telephony side effects of hang_up,
// send_text_message, transfer_call, and enter_keypad (§6.4).
type Telephony interface {
	SendDigits(ctx context.Context, channelUUID, digits string) error
	SendSMS(ctx context.Context, fromNumber, toNumber, message string) (sid string, err error)
}

// BrowserNotifier surfaces tool side effects to the browser transport as
// out-of-band "message"/"keypad" events when there is no telephony provider
// to hand them to.
type BrowserNotifier interface {
	Notify(kind string, data interface{}) error
}

// TextMessageRecorder persists a durable record of a send_text_message side
// effect: the telephony SMS sid (§6.4), or a sentinel sid for the browser
// transport's out-of-band "message" event (§4.4).
type TextMessageRecorder interface {
	RecordTextMessage(ctx context.Context, callID, fromNumber, toNumber, body, sid string) error
}

// Config is the per-call, per-agent configuration the dispatcher needs to
// resolve tool arguments into concrete actions.
type Config struct {
	IsTelephony bool
	// KnowledgeBaseIDs is passed to KnowledgeBase.Query for query_documents.
	KnowledgeBaseIDs []string
	// TransferNumbers maps the label the model is given (e.g. "billing",
	// "support") to the actual phone number transfer_call resolves it to.
	TransferNumbers map[string]string
	// FromNumber is the call's sending number, used as the From on an
	// SMS sent by send_text_message.
	FromNumber string
}

// Dispatcher implements C4 over one call.
type Dispatcher struct {
	call    *calldata.Call
	session ResultSender
	logger  logging.Logger

	kb        KnowledgeBase
	telephony Telephony
	browser   BrowserNotifier
	messages  TextMessageRecorder

	cfg Config
}

// New constructs a Dispatcher for one call. kb, telephony, browser, and
// messages may each be nil; the corresponding tools then report
// ErrKnowledgeBaseUnavailable, are silently skipped, or simply don't
// persist, matching how an agent without that collaborator configured
// behaves.
func New(call *calldata.Call, session ResultSender, kb KnowledgeBase, telephony Telephony, browser BrowserNotifier, messages TextMessageRecorder, logger logging.Logger, cfg Config) *Dispatcher {
	return &Dispatcher{
		call:      call,
		session:   session,
		logger:    logger,
		kb:        kb,
		telephony: telephony,
		browser:   browser,
		messages:  messages,
		cfg:       cfg,
	}
}

// Dispatch routes one response.function_call_arguments.done event to its
// handler. Unknown tool names are logged and ignored (B1) — the call is
// never unwound by a bad tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, payload realtime.FunctionCallArgsPayload) {
	switch payload.Name {
	case "hang_up":
		d.hangUp(payload)
	case "cancel_hang_up":
		d.cancelHangUp(payload)
	case "query_documents":
		d.queryDocuments(ctx, payload)
	case "send_text_message":
		d.sendTextMessage(ctx, payload)
	case "transfer_call":
		d.transferCall(payload)
	case "enter_keypad":
		d.enterKeypad(ctx, payload)
	default:
		d.logger.Warnf("tools: %v: %q (call_id=%s)", callerr.ErrUnknownTool, payload.Name, payload.CallID)
	}
}

func (d *Dispatcher) sendResult(previousItemID, callID, output string) {
	if d.session == nil {
		return
	}
	if err := d.session.SendToolResult(previousItemID, callID, output); err != nil {
		d.logger.Warnf("tools: sending result for call_id=%s failed: %v", callID, err)
	}
}

// decodeArgs unmarshals a tool call's arguments JSON string. On failure it
// logs per ErrToolArgsInvalid and sends no result back (§4.4 / callerr
// doc: "the model will time out or continue").
func decodeArgs(logger logging.Logger, payload realtime.FunctionCallArgsPayload, v interface{}) bool {
	if err := json.Unmarshal([]byte(payload.Arguments), v); err != nil {
		logger.Warnf("tools: %v for %q: %v", callerr.ErrToolArgsInvalid, payload.Name, err)
		return false
	}
	return true
}

func (d *Dispatcher) hangUp(payload realtime.FunctionCallArgsPayload) {
	var args struct {
		Reason string `json:"reason"`
	}
	if !decodeArgs(d.logger, payload, &args) {
		return
	}

	cause := calldata.CauseEndOfCallBot
	if args.Reason == "answering_machine" {
		cause = calldata.CauseVoiceMailBot
	}
	d.call.SetTerminationCause(cause)
	d.sendResult(payload.ItemID, payload.CallID, `{"status":"ok"}`)
}

func (d *Dispatcher) cancelHangUp(payload realtime.FunctionCallArgsPayload) {
	// Only a cause the model itself set (hang_up, transfer_call) is cleared.
	switch cause, _ := d.call.TerminationCause(); cause {
	case calldata.CauseEndOfCallBot, calldata.CauseVoiceMailBot, calldata.CauseTransferred:
		d.call.ClearTerminationCause()
	}
	d.sendResult(payload.ItemID, payload.CallID, `{"status":"ok"}`)
}

func (d *Dispatcher) queryDocuments(ctx context.Context, payload realtime.FunctionCallArgsPayload) {
	var args struct {
		Query string `json:"query"`
	}
	if !decodeArgs(d.logger, payload, &args) {
		return
	}

	if d.kb == nil {
		d.logger.Warnf("tools: query_documents: %v", callerr.ErrKnowledgeBaseUnavailable)
		d.sendResult(payload.ItemID, payload.CallID, `{"error":"knowledge base unavailable"}`)
		return
	}

	answer, err := d.kb.Query(ctx, d.cfg.KnowledgeBaseIDs, args.Query)
	if err != nil {
		d.logger.Warnf("tools: query_documents failed: %v", err)
		d.sendResult(payload.ItemID, payload.CallID, `{"error":"lookup failed"}`)
		return
	}
	out, err := json.Marshal(struct {
		Answer string `json:"answer"`
	}{Answer: answer})
	if err != nil {
		d.logger.Warnf("tools: marshaling query_documents result: %v", err)
		return
	}
	d.sendResult(payload.ItemID, payload.CallID, string(out))
}

func (d *Dispatcher) sendTextMessage(ctx context.Context, payload realtime.FunctionCallArgsPayload) {
	var args struct {
		Message string `json:"message"`
	}
	if !decodeArgs(d.logger, payload, &args) {
		return
	}

	if d.cfg.IsTelephony {
		if d.telephony == nil {
			d.sendResult(payload.ItemID, payload.CallID, `{"error":"telephony unavailable"}`)
			return
		}
		sid, err := d.telephony.SendSMS(ctx, d.cfg.FromNumber, d.call.CallerNumber, args.Message)
		if err != nil {
			d.logger.Warnf("tools: send_text_message failed: %v", err)
			d.sendResult(payload.ItemID, payload.CallID, `{"error":"send failed"}`)
			return
		}
		if d.messages != nil {
			if err := d.messages.RecordTextMessage(ctx, d.call.ID, d.cfg.FromNumber, d.call.CallerNumber, args.Message, sid); err != nil {
				d.logger.Warnf("tools: recording text message failed: %v", err)
			}
		}
		out, _ := json.Marshal(struct {
			Sid string `json:"sid"`
		}{Sid: sid})
		d.sendResult(payload.ItemID, payload.CallID, string(out))
		return
	}

	if d.browser != nil {
		if err := d.browser.Notify("message", args); err != nil {
			d.logger.Warnf("tools: notifying browser of send_text_message failed: %v", err)
		}
	}
	if d.messages != nil {
		if err := d.messages.RecordTextMessage(ctx, d.call.ID, d.cfg.FromNumber, d.call.CallerNumber, args.Message, browserTextMessageSid); err != nil {
			d.logger.Warnf("tools: recording text message failed: %v", err)
		}
	}
	d.sendResult(payload.ItemID, payload.CallID, fmt.Sprintf(`{"sid":%q}`, browserTextMessageSid))
}

// browserTextMessageSid is the sentinel sid a browser-transport call records
// for send_text_message, since there is no provider SMS sid to persist.
const browserTextMessageSid = "no-sid"

func (d *Dispatcher) transferCall(payload realtime.FunctionCallArgsPayload) {
	var args struct {
		PhoneNumberLabel string `json:"phone_number_label"`
	}
	if !decodeArgs(d.logger, payload, &args) {
		return
	}

	target, ok := d.cfg.TransferNumbers[args.PhoneNumberLabel]
	if !ok {
		d.logger.Warnf("tools: transfer_call: unresolved label %q", args.PhoneNumberLabel)
		d.sendResult(payload.ItemID, payload.CallID, `{"error":"unknown transfer target"}`)
		return
	}

	d.call.SetTransferred(target)
	d.sendResult(payload.ItemID, payload.CallID, `{"status":"ok"}`)
}

func (d *Dispatcher) enterKeypad(ctx context.Context, payload realtime.FunctionCallArgsPayload) {
	var args struct {
		Digits string `json:"digits"`
	}
	if !decodeArgs(d.logger, payload, &args) {
		return
	}

	if d.cfg.IsTelephony {
		if d.telephony == nil {
			d.sendResult(payload.ItemID, payload.CallID, `{"error":"telephony unavailable"}`)
			return
		}
		if err := d.telephony.SendDigits(ctx, d.call.ChannelUUID, args.Digits); err != nil {
			d.logger.Warnf("tools: enter_keypad failed: %v", err)
			d.sendResult(payload.ItemID, payload.CallID, fmt.Sprintf(`{"error":%q}`, err.Error()))
			return
		}
		d.sendResult(payload.ItemID, payload.CallID, `{"status":"ok"}`)
		return
	}

	if d.browser != nil {
		if err := d.browser.Notify("keypad", args); err != nil {
			d.logger.Warnf("tools: notifying browser of enter_keypad failed: %v", err)
		}
	}
	d.sendResult(payload.ItemID, payload.CallID, `{"status":"ok"}`)
}
