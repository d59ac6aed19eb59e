// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package browserws is the browser-side WebSocket entrypoint: one upgrade
// both creates and claims the call record, since there is no separate
// signaling webhook the way a telephony provider gives us one.
package browserws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/callstore"
	"github.com/rapidaai/callcore/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Connect upgrades a browser connection, creates and immediately claims its
// call record, and runs the call to completion over the browser transport
// (§4, browser WebRTC/WebSocket media transport).
func Connect(deps transport.Deps, store callstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		setup := transport.ParseCallSetup(c.Query)

		rec := &callstore.CallRecord{
			CallID:       setup.CallID,
			Direction:    string(calldata.DirectionBrowser),
			AudioFormat:  string(calldata.FormatPCM16),
			CallerNumber: c.Query("caller_number"),
		}
		callID, err := store.Save(c.Request.Context(), rec)
		if err != nil {
			c.String(http.StatusInternalServerError, "")
			return
		}
		setup.CallID = callID

		claimed, err := store.Claim(c.Request.Context(), callID)
		if err != nil {
			deps.Logger.Warnf("browserws: claiming call_id=%s: %v", callID, err)
			c.String(http.StatusConflict, "")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Warnf("browserws: upgrade failed call_id=%s: %v", callID, err)
			return
		}
		defer conn.Close()

		if err := transport.Run(c.Request.Context(), deps, conn, claimed, setup, false); err != nil {
			deps.Logger.Warnf("browserws: call_id=%s: %v", callID, err)
		}
	}
}
