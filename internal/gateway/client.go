package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"multichat-backend/internal/model"
	"multichat-backend/internal/utils"
	"multichat-backend/pkg/logger"
)

const (
	chatPath       = "/api/chat"
	chatStreamPath = "/api/chat/stream"

	// callSlack is added to the per-attempt vendor timeout to bound one
	// whole gateway call.
	callSlack = 10 * time.Second
)

// PartialFunc receives intermediate batch snapshots while a concurrent
// call is still running.
type PartialFunc func(*model.GatewayResponse)

// Client talks to an inference gateway over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: utils.NewHTTPClient(0),
	}
}

// Send performs one gateway call. When onPartial is set and more than one
// attempt is requested, the streaming endpoint is used and onPartial is
// invoked for every snapshot before the final response is returned.
// Every error returned is an *Error.
func (c *Client) Send(ctx context.Context, req *model.GatewayRequest, onPartial PartialFunc) (*model.GatewayResponse, error) {
	if req.BaseURL == "" {
		return nil, NewError(KindConfig, 0, "base URL is not configured")
	}
	if req.APIKey == "" {
		return nil, NewError(KindConfig, 0, "API key is not configured")
	}

	if req.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.RequestTimeout)*time.Second+callSlack)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindClient, Message: fmt.Sprintf("failed to encode request: %v", err), Err: err}
	}

	streaming := onPartial != nil && req.ConcurrentCount > 1
	path := chatPath
	if streaming {
		path = chatStreamPath
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindConfig, Message: err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if streaming {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	if streaming {
		return c.readStream(resp.Body, onPartial)
	}
	return decodeResponse(resp.Body)
}

func statusError(resp *http.Response) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body model.GatewayResponse
	message := http.StatusText(resp.StatusCode)
	kind := KindFromStatus(resp.StatusCode)
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			message = body.Error
		}
		if body.ErrorKind != "" {
			kind = Kind(body.ErrorKind)
		}
	}
	return &Error{Kind: kind, StatusCode: resp.StatusCode, Message: message}
}

func decodeResponse(r io.Reader) (*model.GatewayResponse, error) {
	var out model.GatewayResponse
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Message: fmt.Sprintf("invalid gateway response: %v", err), Err: err}
	}
	if err := checkEnvelope(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// checkEnvelope turns a failed single-result body into an error. Batches
// with no successes are a soft failure and are returned to the caller.
func checkEnvelope(resp *model.GatewayResponse) error {
	if resp.Success || resp.IsBatch() {
		return nil
	}
	kind := Kind(resp.ErrorKind)
	if kind == "" {
		kind = KindUnknown
	}
	message := resp.Error
	if message == "" {
		message = "gateway reported failure"
	}
	return &Error{Kind: kind, StatusCode: resp.StatusCode, Message: message}
}

func (c *Client) readStream(body io.Reader, onPartial PartialFunc) (*model.GatewayResponse, error) {
	reader := utils.NewSSEReader(body)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil, NewError(KindNetwork, 0, "stream closed before final result")
		}
		if err != nil {
			return nil, Classify(err)
		}

		var msg model.GatewayResponse
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			return nil, &Error{Kind: KindInvalidResponse, Message: fmt.Sprintf("invalid %s event: %v", ev.Event, err), Err: err}
		}

		switch ev.Event {
		case "partial":
			onPartial(&msg)
		case "final":
			if err := checkEnvelope(&msg); err != nil {
				return nil, err
			}
			return &msg, nil
		case "error":
			if err := checkEnvelope(&msg); err != nil {
				return nil, err
			}
			return nil, NewError(KindUnknown, 0, "gateway reported an error")
		default:
			logger.Debugf("ignoring gateway event %q", ev.Event)
		}
	}
}
