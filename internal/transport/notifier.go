// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"github.com/gorilla/websocket"

	"github.com/rapidaai/callcore/internal/bridge"
)

// browserNotifier implements tools.BrowserNotifier by writing the model's
// out-of-band tool side effects straight onto the browser's websocket as
// "message"/"keypad" frames (§6.1). It is only ever constructed for a
// browser-transport call; telephony calls have no equivalent channel.
type browserNotifier struct {
	conn *websocket.Conn
}

func newBrowserNotifier(conn *websocket.Conn) *browserNotifier {
	return &browserNotifier{conn: conn}
}

func (n *browserNotifier) Notify(kind string, data interface{}) error {
	frame, err := bridge.EncodeBrowserMessage(kind, data)
	if err != nil {
		return err
	}
	return n.conn.WriteMessage(websocket.TextMessage, frame)
}
