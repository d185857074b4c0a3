package dashscope

import "net/http"

type completionRequest struct {
	Input      completionInput `json:"input"`
	Parameters map[string]any  `json:"parameters"`
	Debug      map[string]any  `json:"debug"`
}

type completionInput struct {
	Prompt string `json:"prompt"`
}

// Response is the result of an application call that reached the service.
// A non-200 StatusCode is reported here rather than as an error, mirroring
// how the service itself reports rejections.
type Response struct {
	StatusCode int
	RequestID  string
	// Code and Message are only set when the service rejected the call.
	Code    string
	Message string
	Output  Output
	Usage   Usage
}

// OK reports whether the service accepted the call.
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Output is the generated reply of an accepted call.
type Output struct {
	Text         string
	FinishReason string
	SessionID    string
}

// Usage reports token consumption per model behind the application.
type Usage struct {
	Models []ModelUsage
}

// ModelUsage is the token count for one model.
type ModelUsage struct {
	ModelID      string
	InputTokens  int64
	OutputTokens int64
}
