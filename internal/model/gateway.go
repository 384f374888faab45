package model

import (
	openai "github.com/sashabaranov/go-openai"
)

// GatewayRequest is the body posted to the inference gateway for one turn.
type GatewayRequest struct {
	BaseURL         string                       `json:"baseUrl"`
	APIKey          string                       `json:"apiKey"`
	Organization    string                       `json:"organization,omitempty"`
	RequestBody     openai.ChatCompletionRequest `json:"requestBody"`
	ConcurrentCount int                          `json:"concurrentCount"`
	Headers         map[string]string            `json:"headers,omitempty"`
	UserMessageID   string                       `json:"userMessageId,omitempty"`
	RequestTimeout  int                          `json:"requestTimeout,omitempty"`
}

// WireResult is one attempt's outcome as the gateway reports it.
type WireResult struct {
	Success      bool   `json:"success"`
	Content      string `json:"content,omitempty"`
	Error        string `json:"error,omitempty"`
	RequestIndex int    `json:"requestIndex"`
	Usage        *Usage `json:"usage,omitempty"`
	IsPending    bool   `json:"isPending,omitempty"`
}

type GatewayResponse struct {
	Success           bool         `json:"success"`
	Content           string       `json:"content,omitempty"`
	Error             string       `json:"error,omitempty"`
	ErrorKind         string       `json:"errorKind,omitempty"`
	StatusCode        int          `json:"statusCode,omitempty"`
	Usage             *Usage       `json:"usage,omitempty"`
	RequestIndex      int          `json:"requestIndex"`
	ConcurrentResults []WireResult `json:"concurrentResults,omitempty"`
	SuccessCount      int          `json:"successCount,omitempty"`
	TotalCount        int          `json:"totalCount,omitempty"`
	UserMessageID     string       `json:"userMessageId,omitempty"`
	IsPartialResult   bool         `json:"isPartialResult,omitempty"`
	IsFinalResult     bool         `json:"isFinalResult,omitempty"`
}

// IsBatch reports whether the response carries per-attempt results rather
// than a single completion.
func (r *GatewayResponse) IsBatch() bool {
	return len(r.ConcurrentResults) > 1
}

// ToResult maps the wire flags onto exactly one result state. Pending wins
// over everything else, then success, and anything left is a failure.
func (w WireResult) ToResult() Result {
	switch {
	case w.IsPending:
		return PendingResult()
	case w.Success:
		return SucceededResult(w.Content, w.Usage)
	default:
		errText := w.Error
		if errText == "" {
			errText = "unknown error"
		}
		return FailedResult(errText)
	}
}

func ResultsFromWire(in []WireResult) []Result {
	out := make([]Result, len(in))
	for i, w := range in {
		out[i] = w.ToResult()
	}
	return out
}

// WireFromResult is the inverse of ToResult, used by the gateway when it
// reports snapshots.
func WireFromResult(index int, r Result) WireResult {
	return WireResult{
		Success:      r.Succeeded(),
		Content:      r.Content,
		Error:        r.Error,
		RequestIndex: index,
		Usage:        r.Usage,
		IsPending:    r.Pending(),
	}
}
