package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"

	postTypeMetaEvent  = "meta_event"
	metaEventHeartbeat = "heartbeat"
)

// Request is the outbound call envelope written to the bot runtime.
type Request struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

// Response is the inbound reply envelope, correlated to a call by echo.
type Response struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Echo    string          `json:"echo"`
}

// Ok reports whether the peer completed the call without an
// application-level failure.
func (r *Response) Ok() bool {
	return r.Status == StatusOK
}

// DecodeData unmarshals the response payload into target.
func (r *Response) DecodeData(target any) error {
	if len(r.Data) == 0 || bytes.Equal(r.Data, []byte("null")) {
		return ErrEmptyData
	}
	if err := json.Unmarshal(r.Data, target); err != nil {
		return fmt.Errorf("wire: decode response data: %w", err)
	}
	return nil
}

// Event is an unsolicited inbound frame. It carries no echo and is never
// matched against a pending call; PostType/MetaEventType exist only for
// routing.
type Event struct {
	PostType      string `json:"post_type"`
	MetaEventType string `json:"meta_event_type,omitempty"`

	// Raw holds the full frame for downstream consumers.
	Raw json.RawMessage `json:"-"`
}
