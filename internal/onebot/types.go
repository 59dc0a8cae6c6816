package onebot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidGroupID = errors.New("onebot: invalid group id")
	ErrInvalidUserID  = errors.New("onebot: invalid user id")
	ErrEmptyMessage   = errors.New("onebot: empty message")
)

const defaultHistoryCount = 1000

// APIError is an application-level failure reported by the bot runtime.
// It is not a transport fault and is never retried.
type APIError struct {
	Action  string
	Retcode int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("onebot: %s failed (retcode=%d): %s", e.Action, e.Retcode, e.Message)
}

// GroupHistoryRequest queries message history for one group chat.
type GroupHistoryRequest struct {
	GroupID      string `json:"group_id"`
	MessageSeq   string `json:"message_seq,omitempty"`
	Count        int    `json:"count"`
	ReverseOrder bool   `json:"reverseOrder"`
}

func (r *GroupHistoryRequest) Validate() error {
	id := strings.TrimSpace(r.GroupID)
	if id == "" {
		return fmt.Errorf("%w: missing group_id", ErrInvalidGroupID)
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return fmt.Errorf("%w: %q is not numeric", ErrInvalidGroupID, r.GroupID)
	}
	if r.Count <= 0 {
		r.Count = defaultHistoryCount
	}
	return nil
}

// FriendHistoryRequest queries message history for one direct chat.
type FriendHistoryRequest struct {
	UserID       string `json:"user_id"`
	MessageSeq   string `json:"message_seq,omitempty"`
	Count        int    `json:"count"`
	ReverseOrder bool   `json:"reverseOrder"`
}

func (r *FriendHistoryRequest) Validate() error {
	id := strings.TrimSpace(r.UserID)
	if id == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidUserID)
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return fmt.Errorf("%w: %q is not numeric", ErrInvalidUserID, r.UserID)
	}
	if r.Count <= 0 {
		r.Count = defaultHistoryCount
	}
	return nil
}

// Sender identifies the author of one message.
type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card,omitempty"`
}

// Message is one history entry as reported by the peer.
type Message struct {
	MessageID   int64  `json:"message_id"`
	RealID      int64  `json:"real_id,omitempty"`
	Time        int64  `json:"time"`
	MessageType string `json:"message_type"`
	RawMessage  string `json:"raw_message"`
	Sender      Sender `json:"sender"`
}

// HistoryData is the payload of a message-history response.
type HistoryData struct {
	Messages []Message `json:"messages"`
}

// LoginInfo describes the account the peer is signed in as.
type LoginInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// SendResult is the payload of a send-message response.
type SendResult struct {
	MessageID int64 `json:"message_id"`
}
