// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package telephonyws is the telephony-side HTTP surface: a webhook that
// answers an inbound call with TwiML pointing back at this service's media
// stream, and the media stream endpoint itself, which claims the call
// record and hands the upgraded connection to transport.Run.
package telephonyws

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/callstore"
	"github.com/rapidaai/callcore/internal/config"
	"github.com/rapidaai/callcore/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// CallReceiver answers an inbound telephony webhook with TwiML that connects
// the call's media to this service's stream endpoint (§4, telephony media
// stream transport). A pending call record is created here, before media
// ever connects, so the webhook's CallSid/From/To survive into the row the
// stream endpoint later claims.
func CallReceiver(cfg *config.AppConfig, store callstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		callSid := c.PostForm("CallSid")
		from := c.PostForm("From")
		to := c.PostForm("To")

		rec := &callstore.CallRecord{
			Direction:    string(calldata.DirectionInbound),
			AudioFormat:  string(calldata.FormatG711ULaw),
			ChannelUUID:  callSid,
			CallerNumber: from,
			CalleeNumber: to,
			FromNumber:   to,
		}
		callID, err := store.Save(c.Request.Context(), rec)
		if err != nil {
			c.String(http.StatusInternalServerError, "")
			return
		}

		streamURL := fmt.Sprintf("wss://%s/v1/telephony/stream?call_id=%s", c.Request.Host, callID)
		twiml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url=%q /></Connect></Response>`, streamURL)
		c.Header("Content-Type", "text/xml")
		c.String(http.StatusOK, twiml)
	}
}

// MediaStream upgrades the provider's stream connection, claims the call
// record the webhook created, and runs the call to completion.
func MediaStream(deps transport.Deps, store callstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		setup := transport.ParseCallSetup(c.Query)
		if setup.CallID == "" {
			c.String(http.StatusBadRequest, "missing call_id")
			return
		}

		rec, err := store.Claim(c.Request.Context(), setup.CallID)
		if err != nil {
			deps.Logger.Warnf("telephonyws: claiming call_id=%s: %v", setup.CallID, err)
			c.String(http.StatusConflict, "")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Warnf("telephonyws: upgrade failed call_id=%s: %v", setup.CallID, err)
			return
		}
		defer conn.Close()

		if err := transport.Run(c.Request.Context(), deps, conn, rec, setup, true); err != nil {
			deps.Logger.Warnf("telephonyws: call_id=%s: %v", setup.CallID, err)
		}
	}
}
