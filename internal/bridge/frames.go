// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package bridge implements C3, the Media Bridge: the uplink and downlink
// goroutines that proxy audio between the human transport and the realtime
// model session, arbitrate barge-in, and track mark acknowledgment.
package bridge

import "encoding/json"

// UplinkEvent is the generic tag every inbound human-transport message is
// classified by, shared across telephony and browser wire shapes (§6.1).
type UplinkEvent string

const (
	UplinkMedia  UplinkEvent = "media"
	UplinkStart  UplinkEvent = "start"
	UplinkMark   UplinkEvent = "mark"
	UplinkHangup UplinkEvent = "hangup"
)

// UplinkMessage is the envelope DecodeTelephonyUplink and DecodeBrowserUplink
// return after decoding either the telephony or browser wire shape into a
// common shape.
type UplinkMessage struct {
	Event      UplinkEvent
	Payload    string // base64 audio, for UplinkMedia
	StreamSID  string // for UplinkStart
	MarkName   string // for UplinkMark
}

// mediaTelephony is the telephony uplink media frame shape (§6.1).
type mediaTelephony struct {
	Event string `json:"event"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
	Start *struct {
		StreamSID string `json:"streamSid"`
	} `json:"start,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// mediaBrowser is the browser uplink frame shape (§6.1): flatter, no nested
// "media" object, and carries a "hangup" event the telephony side lacks.
type mediaBrowser struct {
	Event   string `json:"event"`
	Payload string `json:"payload,omitempty"`
	Start   *struct {
		StreamSID string `json:"streamSid,omitempty"`
	} `json:"start,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// DecodeTelephonyUplink parses a raw telephony media-stream frame.
func DecodeTelephonyUplink(raw []byte) (UplinkMessage, error) {
	var m mediaTelephony
	if err := json.Unmarshal(raw, &m); err != nil {
		return UplinkMessage{}, err
	}
	msg := UplinkMessage{Event: UplinkEvent(m.Event)}
	switch msg.Event {
	case UplinkMedia:
		msg.Payload = m.Media.Payload
	case UplinkStart:
		if m.Start != nil {
			msg.StreamSID = m.Start.StreamSID
		}
	case UplinkMark:
		if m.Mark != nil {
			msg.MarkName = m.Mark.Name
		}
	}
	return msg, nil
}

// DecodeBrowserUplink parses a raw browser websocket frame.
func DecodeBrowserUplink(raw []byte) (UplinkMessage, error) {
	var m mediaBrowser
	if err := json.Unmarshal(raw, &m); err != nil {
		return UplinkMessage{}, err
	}
	msg := UplinkMessage{Event: UplinkEvent(m.Event)}
	switch msg.Event {
	case UplinkMedia:
		msg.Payload = m.Payload
	case UplinkStart:
		if m.Start != nil {
			msg.StreamSID = m.Start.StreamSID
		}
	case UplinkMark:
		if m.Mark != nil {
			msg.MarkName = m.Mark.Name
		}
	}
	return msg, nil
}

// EncodeTelephonyDownlinkMedia builds the telephony downlink media frame.
func EncodeTelephonyDownlinkMedia(streamSID, payloadB64 string) ([]byte, error) {
	return json.Marshal(struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}{
		Event:     "media",
		StreamSID: streamSID,
		Media: struct {
			Payload string `json:"payload"`
		}{Payload: payloadB64},
	})
}

// EncodeTelephonyMark builds the telephony "mark" acknowledgment-request frame.
func EncodeTelephonyMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Mark      struct {
			Name string `json:"name"`
		} `json:"mark"`
	}{
		Event:     "mark",
		StreamSID: streamSID,
		Mark: struct {
			Name string `json:"name"`
		}{Name: name},
	})
}

// EncodeTelephonyClear builds the telephony "clear" frame sent on barge-in.
func EncodeTelephonyClear(streamSID string) ([]byte, error) {
	return json.Marshal(struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
	}{Event: "clear", StreamSID: streamSID})
}

// EncodeBrowserDownlinkMedia builds the browser downlink media frame.
func EncodeBrowserDownlinkMedia(payloadB64 string) ([]byte, error) {
	return json.Marshal(struct {
		Event   string `json:"event"`
		Payload string `json:"payload"`
	}{Event: "media", Payload: payloadB64})
}

// EncodeBrowserClear builds the browser "clear" frame.
func EncodeBrowserClear() ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
	}{Event: "clear"})
}

// EncodeBrowserSpeakerSegments builds the browser speaker_segments frame.
func EncodeBrowserSpeakerSegments(segments interface{}) ([]byte, error) {
	return json.Marshal(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{Event: "speaker_segments", Data: segments})
}

// EncodeBrowserMessage builds the browser "message" out-of-band UI event.
func EncodeBrowserMessage(kind string, data interface{}) ([]byte, error) {
	return json.Marshal(struct {
		Event string      `json:"event"`
		Kind  string      `json:"kind"`
		Data  interface{} `json:"data"`
	}{Event: "message", Kind: kind, Data: data})
}
