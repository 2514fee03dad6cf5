package translator

import (
	"encoding/json"

	"chatrelay/internal/models"
	"chatrelay/internal/router"
)

// ChatResponse is the JSON body returned by POST /api/chat. Error is null on
// success.
type ChatResponse struct {
	OK        bool            `json:"ok"`
	Reply     string          `json:"reply"`
	Raw       json.RawMessage `json:"raw"`
	Error     *string         `json:"error"`
	Metadata  models.Metadata `json:"metadata"`
	SessionID string          `json:"session_id,omitempty"`
}

// FromResponse renders an adapter response.
func FromResponse(resp models.ChatResponse, sessionID string) ChatResponse {
	out := ChatResponse{
		OK:        resp.Success,
		Reply:     resp.Content,
		Raw:       resp.Raw,
		Metadata:  resp.Metadata,
		SessionID: sessionID,
	}
	if len(out.Raw) == 0 {
		out.Raw = json.RawMessage("null")
	}
	if !resp.Success {
		msg := resp.ErrorMessage
		out.Error = &msg
	}
	return out
}

// FromResult renders a router result.
func FromResult(res router.Result) ChatResponse {
	return FromResponse(res.Response, res.SessionID)
}

// StreamEvent is the JSON payload of one server-sent event. Progress events
// carry token and content, the terminal event carries the full content and
// error events carry only the message.
type StreamEvent struct {
	Token     *string `json:"token,omitempty"`
	Content   *string `json:"content,omitempty"`
	Error     string  `json:"error,omitempty"`
	Done      bool    `json:"done"`
	SessionID string  `json:"session_id,omitempty"`
}

// FromEvent renders a stream event. The session id is attached to the
// terminal event only.
func FromEvent(ev models.StreamEvent, sessionID string) StreamEvent {
	switch {
	case ev.Failed():
		return StreamEvent{Error: ev.Error, Done: true}
	case ev.Done:
		content := ev.Content
		return StreamEvent{Content: &content, Done: true, SessionID: sessionID}
	default:
		token, content := ev.Token, ev.Content
		return StreamEvent{Token: &token, Content: &content}
	}
}
