package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// The assistants thread surface. Every call carries the beta header; thread
// state lives server-side and survives across Lambda invocations.

var assistantsHeaders = map[string]string{
	"OpenAI-Beta": "assistants=v2",
}

// MessagePart is one content part of a thread message: plain text or an
// inline base64 image.
type MessagePart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *MessageImagePart `json:"image_url,omitempty"`
}

type MessageImagePart struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) MessagePart {
	return MessagePart{Type: "text", Text: text}
}

// ImagePart builds an image content part from a base64-encoded JPEG. Detail
// stays "auto"; the vision model decides the resolution budget.
func ImagePart(b64 string) MessagePart {
	return MessagePart{
		Type:     "image_url",
		ImageURL: &MessageImagePart{URL: "data:image/jpeg;base64," + b64, Detail: "auto"},
	}
}

// ThreadMessage is one message in a thread, as returned by ListMessages.
type ThreadMessage struct {
	ID      string
	Role    string
	Content string
}

type idResponse struct {
	ID string `json:"id"`
}

// CreateThread creates an empty conversation thread and returns its id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	raw, err := c.postJSON(ctx, c.url("/threads"), struct{}{}, assistantsHeaders)
	if err != nil {
		return "", fmt.Errorf("openai: create thread: %w", err)
	}
	var out idResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai: decode create thread response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("openai: create thread returned no id")
	}
	return out.ID, nil
}

type addMessageRequest struct {
	Role    string        `json:"role"`
	Content []MessagePart `json:"content"`
}

// AddMessage appends a message to a thread and returns the message id.
func (c *Client) AddMessage(ctx context.Context, threadID, role string, parts []MessagePart) (string, error) {
	if threadID == "" {
		return "", errors.New("openai: thread id must not be empty")
	}
	if len(parts) == 0 {
		return "", errors.New("openai: message must have at least one part")
	}
	raw, err := c.postJSON(ctx, c.url("/threads/"+threadID+"/messages"), addMessageRequest{
		Role:    role,
		Content: parts,
	}, assistantsHeaders)
	if err != nil {
		return "", fmt.Errorf("openai: add message: %w", err)
	}
	var out idResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai: decode add message response: %w", err)
	}
	return out.ID, nil
}

type createRunRequest struct {
	AssistantID  string `json:"assistant_id"`
	Instructions string `json:"instructions,omitempty"`
}

// CreateRun starts a run of the given assistant over a thread. Instructions
// override the assistant's defaults for this run only.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID, instructions string) (string, error) {
	if threadID == "" {
		return "", errors.New("openai: thread id must not be empty")
	}
	if assistantID == "" {
		return "", errors.New("openai: assistant id must not be empty")
	}
	raw, err := c.postJSON(ctx, c.url("/threads/"+threadID+"/runs"), createRunRequest{
		AssistantID:  assistantID,
		Instructions: instructions,
	}, assistantsHeaders)
	if err != nil {
		return "", fmt.Errorf("openai: create run: %w", err)
	}
	var out idResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai: decode create run response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("openai: create run returned no id")
	}
	return out.ID, nil
}

type runStatusResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

// GetRunStatus returns the current status of a run ("queued", "in_progress",
// "completed", "failed", "cancelled", "expired", ...) plus any error detail.
func (c *Client) GetRunStatus(ctx context.Context, threadID, runID string) (status, errDetail string, err error) {
	raw, err := c.getJSON(ctx, c.url("/threads/"+threadID+"/runs/"+runID), assistantsHeaders)
	if err != nil {
		return "", "", fmt.Errorf("openai: get run: %w", err)
	}
	var out runStatusResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", "", fmt.Errorf("openai: decode run response: %w", err)
	}
	if out.LastError != nil {
		errDetail = out.LastError.Message
	}
	return out.Status, errDetail, nil
}

type listMessagesResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// ListMessages returns up to limit messages from a thread, newest first.
// Image parts come back with empty content; only text is surfaced.
func (c *Client) ListMessages(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error) {
	if threadID == "" {
		return nil, errors.New("openai: thread id must not be empty")
	}
	if limit <= 0 {
		limit = 20
	}
	raw, err := c.getJSON(ctx, c.url(fmt.Sprintf("/threads/%s/messages?limit=%d", threadID, limit)), assistantsHeaders)
	if err != nil {
		return nil, fmt.Errorf("openai: list messages: %w", err)
	}
	var out listMessagesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("openai: decode list messages response: %w", err)
	}
	msgs := make([]ThreadMessage, 0, len(out.Data))
	for _, m := range out.Data {
		var text string
		for _, part := range m.Content {
			if part.Type == "text" {
				text = part.Text.Value
				break
			}
		}
		msgs = append(msgs, ThreadMessage{ID: m.ID, Role: m.Role, Content: text})
	}
	return msgs, nil
}

// DeleteMessage removes a message from a thread. Used to curate frame images
// out of long-lived threads after analysis.
func (c *Client) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	if threadID == "" || messageID == "" {
		return errors.New("openai: thread id and message id are required")
	}
	if _, err := c.deleteJSON(ctx, c.url("/threads/"+threadID+"/messages/"+messageID), assistantsHeaders); err != nil {
		return fmt.Errorf("openai: delete message: %w", err)
	}
	return nil
}
