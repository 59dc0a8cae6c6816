package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/danmuck/botlink/internal/testutil/testlog"
)

func TestClassifyResponse(t *testing.T) {
	testlog.Start(t)
	payload := []byte(`{"status":"ok","retcode":0,"data":{"messages":[]},"message":"","echo":"call.1.99"}`)
	fr, err := Classify(payload)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if fr.Kind != KindResponse {
		t.Fatalf("unexpected kind: %v", fr.Kind)
	}
	if fr.Response == nil || fr.Response.Echo != "call.1.99" {
		t.Fatalf("unexpected response: %+v", fr.Response)
	}
	if !fr.Response.Ok() {
		t.Fatalf("expected ok response")
	}
}

func TestClassifyHeartbeat(t *testing.T) {
	testlog.Start(t)
	payload := []byte(`{"post_type":"meta_event","meta_event_type":"heartbeat","interval":5000}`)
	fr, err := Classify(payload)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if fr.Kind != KindHeartbeat {
		t.Fatalf("unexpected kind: %v", fr.Kind)
	}
}

func TestClassifyLifecycleIsEvent(t *testing.T) {
	testlog.Start(t)
	payload := []byte(`{"post_type":"meta_event","meta_event_type":"lifecycle","sub_type":"connect"}`)
	fr, err := Classify(payload)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if fr.Kind != KindEvent {
		t.Fatalf("lifecycle should route as event, got %v", fr.Kind)
	}
	if fr.Event.MetaEventType != "lifecycle" {
		t.Fatalf("unexpected event: %+v", fr.Event)
	}
}

func TestClassifyMessageEvent(t *testing.T) {
	testlog.Start(t)
	payload := []byte(`{"post_type":"message","message_type":"group","raw_message":"hi"}`)
	fr, err := Classify(payload)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if fr.Kind != KindEvent {
		t.Fatalf("unexpected kind: %v", fr.Kind)
	}
	if fr.Event.PostType != "message" {
		t.Fatalf("unexpected post_type: %q", fr.Event.PostType)
	}
	if len(fr.Event.Raw) != len(payload) {
		t.Fatalf("raw frame not preserved")
	}
}

func TestClassifyFrameWithoutEchoOrPostType(t *testing.T) {
	testlog.Start(t)
	fr, err := Classify([]byte(`{"status":"ok","retcode":0}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if fr.Kind != KindEvent {
		t.Fatalf("frame lacking echo must classify as event, got %v", fr.Kind)
	}
}

func TestClassifyMalformed(t *testing.T) {
	testlog.Start(t)
	if _, err := Classify([]byte(`{"status":`)); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
	if _, err := Classify([]byte(`not json at all`)); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeData(t *testing.T) {
	testlog.Start(t)
	resp := &Response{
		Status: StatusOK,
		Data:   json.RawMessage(`{"user_id":12345,"nickname":"bot"}`),
		Echo:   "call.2.99",
	}
	var out struct {
		UserID   int64  `json:"user_id"`
		Nickname string `json:"nickname"`
	}
	if err := resp.DecodeData(&out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if out.UserID != 12345 || out.Nickname != "bot" {
		t.Fatalf("unexpected payload: %+v", out)
	}
}

func TestDecodeDataEmpty(t *testing.T) {
	testlog.Start(t)
	resp := &Response{Status: StatusOK, Echo: "call.3.99"}
	var out map[string]any
	if err := resp.DecodeData(&out); !errors.Is(err, ErrEmptyData) {
		t.Fatalf("expected ErrEmptyData, got %v", err)
	}
	resp.Data = json.RawMessage(`null`)
	if err := resp.DecodeData(&out); !errors.Is(err, ErrEmptyData) {
		t.Fatalf("expected ErrEmptyData for null data, got %v", err)
	}
}

func TestResponseOk(t *testing.T) {
	testlog.Start(t)
	if !(&Response{Status: StatusOK}).Ok() {
		t.Fatalf("ok status should report ok")
	}
	if (&Response{Status: StatusFailed, Retcode: 100}).Ok() {
		t.Fatalf("failed status should not report ok")
	}
}
