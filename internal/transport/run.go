// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/callcore/internal/bridge"
	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/callstore"
	"github.com/rapidaai/callcore/internal/config"
	"github.com/rapidaai/callcore/internal/listener"
	"github.com/rapidaai/callcore/internal/logging"
	"github.com/rapidaai/callcore/internal/realtime"
	"github.com/rapidaai/callcore/internal/recorder"
	"github.com/rapidaai/callcore/internal/sessionlog"
	"github.com/rapidaai/callcore/internal/tools"
)

// Telephony is the side-effect collaborator a telephony-bound call needs
// both for C4's tool dispatch and for the termination routine's
// transfer/hang-up leg.
type Telephony interface {
	tools.Telephony
	Transfer(ctx context.Context, channelUUID, toNumber string) error
	HangUp(ctx context.Context, channelUUID string) error
}

// Deps bundles every collaborator a call needs, shared by the telephony and
// browser transports.
type Deps struct {
	Cfg       *config.AppConfig
	Logger    logging.Logger
	Store     callstore.Store
	KB        tools.KnowledgeBase
	Telephony Telephony
	Objects   listener.ObjectStore
	LogDir    string
}

// Run drives one call end to end: dial the model session, wire C2-C5, run
// the bridge until either side disconnects, then terminate. conn is the
// already-upgraded human-side websocket. rec is the claimed call record.
func Run(ctx context.Context, deps Deps, conn *websocket.Conn, rec *callstore.CallRecord, setup CallSetup, isTelephony bool) error {
	logger := deps.Logger.With("call_id", rec.CallID)

	call := calldata.New(rec.CallID, calldata.Direction(rec.Direction), calldata.AudioFormat(rec.AudioFormat))
	call.ChannelUUID = rec.ChannelUUID
	call.CallerNumber = rec.CallerNumber
	call.CalleeNumber = rec.CalleeNumber
	call.FromNumber = rec.FromNumber

	log, err := sessionlog.New(deps.LogDir, rec.CallID, logger)
	if err != nil {
		return fmt.Errorf("transport: opening session log: %w", err)
	}

	session, err := realtime.Dial(ctx, logger,
		deps.Cfg.RealtimeModel.Endpoint,
		deps.Cfg.RealtimeModel.BearerToken,
		SessionConfig(&deps.Cfg.RealtimeModel, call.AudioFormat, setup.SystemPrompt),
		log.Append,
	)
	if err != nil {
		return fmt.Errorf("transport: dialing realtime session: %w", err)
	}

	queue := listener.NewQueue(call.AudioFormat, 256)
	rec2 := recorder.New(call.AudioFormat, logger)
	rec2.Start()

	var kb tools.KnowledgeBase
	if deps.KB != nil {
		kb = deps.KB
	}
	var telephony tools.Telephony
	if isTelephony && deps.Telephony != nil {
		telephony = deps.Telephony
	}
	var browser tools.BrowserNotifier
	if !isTelephony {
		browser = newBrowserNotifier(conn)
	}
	var messages tools.TextMessageRecorder
	if deps.Store != nil {
		messages = deps.Store
	}

	dispatcher := tools.New(call, session, kb, telephony, browser, messages, logger, setup.DispatcherConfig(isTelephony))

	br := bridge.New(call, session, conn, queue, dispatcher, logger, bridge.Options{
		IsTelephony:           isTelephony,
		StartSpeakingBufferMs: deps.Cfg.RealtimeModel.StartSpeakingBufferMs,
	})
	br.SetRecorder(rec2)

	runErr := br.Run(ctx)
	if runErr != nil {
		logger.Warnf("transport: bridge exited with error: %v", runErr)
	}

	recordEvent := !isTelephony || rec.Direction != string(calldata.DirectionOutbound)

	term := listener.NewTerminator(logger)
	result, err := term.Terminate(context.Background(), call, session, queue, log, deps.Objects, deps.Store, recordEvent, rec2)
	if err != nil {
		return fmt.Errorf("transport: terminating call: %w", err)
	}

	if isTelephony && deps.Telephony != nil {
		if target := call.TransferTarget(); target != "" {
			if err := deps.Telephony.Transfer(context.Background(), call.ChannelUUID, target); err != nil {
				logger.Warnf("transport: transfer failed: %v", err)
			}
		} else {
			if err := deps.Telephony.HangUp(context.Background(), call.ChannelUUID); err != nil {
				logger.Warnf("transport: hang up failed: %v", err)
			}
		}
	}

	logger.Infof("transport: call terminated total_ms=%d", result.TotalMs)
	return nil
}
