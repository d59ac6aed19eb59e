// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package twilio implements the §6.4 telephony side effects (SMS, DTMF,
// call transfer, hangup) used by C4 and the termination routine, over the
// Twilio REST API.
package twilio

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Client wraps a Twilio REST client scoped to one account's credentials.
type Client struct {
	rest *twilio.RestClient
}

// New constructs a Client authenticated with the given account credentials.
func New(accountSID, authToken string) *Client {
	return &Client{rest: twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})}
}

// SendSMS sends a text message and returns the provider message sid.
// Satisfies tools.Telephony.
func (c *Client) SendSMS(ctx context.Context, fromNumber, toNumber, message string) (string, error) {
	params := &openapi.CreateMessageParams{}
	params.SetFrom(fromNumber)
	params.SetTo(toNumber)
	params.SetBody(message)

	resp, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio: send sms: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("twilio: send sms: no sid in response")
	}
	return *resp.Sid, nil
}

// SendDigits plays DTMF digits on the live call by updating it with TwiML.
// Satisfies tools.Telephony.
func (c *Client) SendDigits(ctx context.Context, channelUUID, digits string) error {
	return c.updateTwiml(channelUUID, fmt.Sprintf(`<Response><Play digits=%q /></Response>`, digits))
}

// Transfer redirects the live call to toNumber by updating it with a <Dial>
// TwiML document, used by the termination routine when the call's
// TerminationCause is transferred.
func (c *Client) Transfer(ctx context.Context, channelUUID, toNumber string) error {
	return c.updateTwiml(channelUUID, fmt.Sprintf(`<Response><Dial><Number>%s</Number></Dial></Response>`, toNumber))
}

// HangUp ends the live call, used by the termination routine for every
// other termination cause.
func (c *Client) HangUp(ctx context.Context, channelUUID string) error {
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.rest.Api.UpdateCall(channelUUID, params); err != nil {
		return fmt.Errorf("twilio: hang up %s: %w", channelUUID, err)
	}
	return nil
}

func (c *Client) updateTwiml(channelUUID, twiml string) error {
	params := &openapi.UpdateCallParams{}
	params.SetTwiml(twiml)
	if _, err := c.rest.Api.UpdateCall(channelUUID, params); err != nil {
		return fmt.Errorf("twilio: update call %s: %w", channelUUID, err)
	}
	return nil
}
