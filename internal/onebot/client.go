// Package onebot layers typed API calls over the gateway's call facade.
// It owns request validation, parameter shaping, and response decoding;
// transport concerns stay in the gateway.
package onebot

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/botlink/internal/wire"
)

// Caller is the collaborator-facing slice of the gateway.
type Caller interface {
	Call(ctx context.Context, action string, params any, timeout time.Duration) (*wire.Response, error)
	CallWithRetry(ctx context.Context, action string, params any, timeout time.Duration, maxAttempts int) (*wire.Response, error)
}

// Client issues OneBot API calls through a Caller.
type Client struct {
	caller  Caller
	timeout time.Duration
	logger  zerolog.Logger
}

// NewClient builds a client. timeout <= 0 defers to the caller's default.
func NewClient(caller Caller, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		caller:  caller,
		timeout: timeout,
		logger:  logger.With().Str("component", "onebot").Logger(),
	}
}

// GetGroupMessageHistory fetches group chat history.
func (c *Client) GetGroupMessageHistory(ctx context.Context, req *GroupHistoryRequest) (*HistoryData, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params := map[string]any{
		"group_id":     req.GroupID,
		"message_seq":  req.MessageSeq,
		"count":        req.Count,
		"reverseOrder": req.ReverseOrder,
	}
	resp, err := c.caller.Call(ctx, "get_group_msg_history", params, c.timeout)
	if err != nil {
		return nil, err
	}
	return c.decodeHistory("get_group_msg_history", resp)
}

// GetGroupMessageHistoryWithRetry is GetGroupMessageHistory behind the
// gateway's transient-fault retry. maxAttempts <= 0 uses the configured
// retry count.
func (c *Client) GetGroupMessageHistoryWithRetry(ctx context.Context, req *GroupHistoryRequest, maxAttempts int) (*HistoryData, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params := map[string]any{
		"group_id":     req.GroupID,
		"message_seq":  req.MessageSeq,
		"count":        req.Count,
		"reverseOrder": req.ReverseOrder,
	}
	resp, err := c.caller.CallWithRetry(ctx, "get_group_msg_history", params, c.timeout, maxAttempts)
	if err != nil {
		return nil, err
	}
	return c.decodeHistory("get_group_msg_history", resp)
}

// GetFriendMessageHistory fetches direct chat history.
func (c *Client) GetFriendMessageHistory(ctx context.Context, req *FriendHistoryRequest) (*HistoryData, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params := map[string]any{
		"user_id":      req.UserID,
		"message_seq":  req.MessageSeq,
		"count":        req.Count,
		"reverseOrder": req.ReverseOrder,
	}
	resp, err := c.caller.Call(ctx, "get_friend_msg_history", params, c.timeout)
	if err != nil {
		return nil, err
	}
	return c.decodeHistory("get_friend_msg_history", resp)
}

// GetFriendMessageHistoryWithRetry mirrors the group variant.
func (c *Client) GetFriendMessageHistoryWithRetry(ctx context.Context, req *FriendHistoryRequest, maxAttempts int) (*HistoryData, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params := map[string]any{
		"user_id":      req.UserID,
		"message_seq":  req.MessageSeq,
		"count":        req.Count,
		"reverseOrder": req.ReverseOrder,
	}
	resp, err := c.caller.CallWithRetry(ctx, "get_friend_msg_history", params, c.timeout, maxAttempts)
	if err != nil {
		return nil, err
	}
	return c.decodeHistory("get_friend_msg_history", resp)
}

// GetLoginInfo reports the account the peer is signed in as.
func (c *Client) GetLoginInfo(ctx context.Context) (*LoginInfo, error) {
	resp, err := c.caller.Call(ctx, "get_login_info", nil, c.timeout)
	if err != nil {
		return nil, err
	}
	if !resp.Ok() {
		return nil, c.apiError("get_login_info", resp)
	}
	var info LoginInfo
	if err := resp.DecodeData(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SendPrivateMessage delivers text to one user.
func (c *Client) SendPrivateMessage(ctx context.Context, userID, text string) (*SendResult, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}
	params := map[string]any{"user_id": userID, "message": text}
	resp, err := c.caller.Call(ctx, "send_private_msg", params, c.timeout)
	if err != nil {
		return nil, err
	}
	return c.decodeSendResult("send_private_msg", resp)
}

// SendGroupMessage delivers text to one group.
func (c *Client) SendGroupMessage(ctx context.Context, groupID, text string) (*SendResult, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}
	params := map[string]any{"group_id": groupID, "message": text}
	resp, err := c.caller.Call(ctx, "send_group_msg", params, c.timeout)
	if err != nil {
		return nil, err
	}
	return c.decodeSendResult("send_group_msg", resp)
}

// apiError logs an application-level refusal and wraps it for the caller.
func (c *Client) apiError(action string, resp *wire.Response) error {
	c.logger.Warn().
		Str("action", action).
		Int("retcode", resp.Retcode).
		Str("message", resp.Message).
		Msg("api call refused by peer")
	return &APIError{Action: action, Retcode: resp.Retcode, Message: resp.Message}
}

func (c *Client) decodeHistory(action string, resp *wire.Response) (*HistoryData, error) {
	if !resp.Ok() {
		return nil, c.apiError(action, resp)
	}
	var data HistoryData
	if err := resp.DecodeData(&data); err != nil {
		if errors.Is(err, wire.ErrEmptyData) {
			return &HistoryData{}, nil
		}
		c.logger.Warn().Str("action", action).Err(err).Msg("undecodable history payload")
		return nil, err
	}
	return &data, nil
}

func (c *Client) decodeSendResult(action string, resp *wire.Response) (*SendResult, error) {
	if !resp.Ok() {
		return nil, c.apiError(action, resp)
	}
	var out SendResult
	if err := resp.DecodeData(&out); err != nil {
		if errors.Is(err, wire.ErrEmptyData) {
			return &SendResult{}, nil
		}
		c.logger.Warn().Str("action", action).Err(err).Msg("undecodable send result")
		return nil, err
	}
	return &out, nil
}
