package modelproxy

import "encoding/json"

// ChatRequest is the body of a chat completions call. Zero Model and nil
// Temperature fall back to the client's configured defaults.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	Temperature *float64  `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// Temperature returns a pointer to t for use in ChatRequest
func Temperature(t float64) *float64 { return &t }

// ChatCompletion is a buffered chat completions response.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`

	// Raw is the undecoded response body
	Raw json.RawMessage `json:"-"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Content returns the message content of the first choice, or "" when there is none.
func (c *ChatCompletion) Content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}

type diffRequest struct {
	Messages []Message `json:"messages"`
}
