package queue

import (
	"encoding/json"
	"net/url"
)

// EncodeEvent frames an event for the broadcast exchange. Consumers split on
// the first comma: a media-type tag carrying the action, then the payload
// JSON, URL-encoded so the frame stays a single text line.
func EncodeEvent(action string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []byte("data:application/vnd." + action + "," + url.QueryEscape(string(body))), nil
}
