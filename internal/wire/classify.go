package wire

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates an inbound frame after classification.
type Kind int

const (
	KindResponse Kind = iota + 1
	KindHeartbeat
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindHeartbeat:
		return "heartbeat"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Frame is the classified view of one inbound message. Exactly one of
// Response/Event is set, matching Kind.
type Frame struct {
	Kind     Kind
	Response *Response
	Event    *Event
}

// Classify inspects one raw inbound frame and decides what it carries.
// A non-empty echo marks a response. A frame without an echo is an event;
// peer heartbeats (post_type=meta_event, meta_event_type=heartbeat) are
// singled out so the read path can consume them silently. A frame that is
// not valid JSON fails with ErrMalformedFrame.
func Classify(payload []byte) (Frame, error) {
	var probe struct {
		Echo          string `json:"echo"`
		PostType      string `json:"post_type"`
		MetaEventType string `json:"meta_event_type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if probe.Echo != "" {
		var resp Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return Frame{Kind: KindResponse, Response: &resp}, nil
	}

	ev := &Event{
		PostType:      probe.PostType,
		MetaEventType: probe.MetaEventType,
		Raw:           append(json.RawMessage(nil), payload...),
	}
	if probe.PostType == postTypeMetaEvent && probe.MetaEventType == metaEventHeartbeat {
		return Frame{Kind: KindHeartbeat, Event: ev}, nil
	}
	return Frame{Kind: KindEvent, Event: ev}, nil
}
