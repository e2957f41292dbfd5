package notify

import (
	"errors"

	"github.com/tidwall/gjson"
)

// ErrMalformedPayload is returned when push data is present but not valid JSON
var ErrMalformedPayload = errors.New("push payload is not valid JSON")

// Payload is the push message body sent by the backend
type Payload struct {
	Title      string
	Body       string
	PrimaryKey any
}

// ParsePayload extracts the known fields from push data. Missing fields fall
// back to defaults: title to defaultTitle, primaryKey to 1.
//
// On malformed JSON the default payload is returned together with
// ErrMalformedPayload so the caller can still show a generic notification.
func ParsePayload(data []byte, defaultTitle string) (Payload, error) {
	p := Payload{Title: defaultTitle, PrimaryKey: 1}

	if !gjson.ValidBytes(data) {
		return p, ErrMalformedPayload
	}

	if title := gjson.GetBytes(data, "title"); title.Exists() && title.String() != "" {
		p.Title = title.String()
	}
	if body := gjson.GetBytes(data, "body"); body.Exists() {
		p.Body = body.String()
	}
	if pk := gjson.GetBytes(data, "primaryKey"); pk.Exists() && pk.Type != gjson.Null {
		p.PrimaryKey = pk.Value()
	}
	return p, nil
}
