// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"sort"

	"github.com/shineum/outreach-mailer/internal/email"
)

// receiptHeader carries the locally generated receipt id. sendMail answers
// 202 with no body, so the id is minted before sending.
const receiptHeader = "X-Outreach-Receipt"

type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject                string           `json:"subject"`
	Body                   messageBody      `json:"body"`
	ToRecipients           []recipient      `json:"toRecipients"`
	InternetMessageHeaders []internetHeader `json:"internetMessageHeaders,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

// internetHeader is a custom X- header. Graph rejects names without the X- prefix.
type internetHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an outbound lead email into a sendMail body
// tagged with the given receipt id.
func buildSendMailRequest(msg *email.Email, receipt string) *sendMailRequest {
	headers := make([]internetHeader, 0, len(msg.Headers)+1)
	headers = append(headers, internetHeader{Name: receiptHeader, Value: receipt})

	names := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		headers = append(headers, internetHeader{Name: k, Value: msg.Headers[k]})
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject: msg.Subject,
			Body: messageBody{
				ContentType: "text",
				Content:     msg.TextBody,
			},
			ToRecipients: []recipient{
				{EmailAddress: emailAddress{Address: msg.To}},
			},
			InternetMessageHeaders: headers,
		},
		SaveToSentItems: true,
	}
}
