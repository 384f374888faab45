package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"multichat-backend/internal/history"
	"multichat-backend/internal/model"
	"multichat-backend/internal/utils"
	"multichat-backend/pkg/logger"
)

const defaultAttemptTimeout = 30

// Proxy is the gateway side of the contract: it fans one request out to N
// vendor completions and aggregates the outcome.
type Proxy struct {
	maxParallel int
	newTaskID   func() string
}

// NewProxy returns a proxy running at most maxParallel vendor calls at
// once. Zero means no limit.
func NewProxy(maxParallel int) *Proxy {
	return &Proxy{
		maxParallel: maxParallel,
		newTaskID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		},
	}
}

// Validate reports configuration problems that make a request unsendable.
func (p *Proxy) Validate(req *model.GatewayRequest) *Error {
	if strings.TrimSpace(req.BaseURL) == "" {
		return NewError(KindConfig, http.StatusBadRequest, "baseUrl must not be empty")
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return NewError(KindConfig, http.StatusBadRequest, "apiKey must not be empty")
	}
	return nil
}

// Run performs every attempt of req. onPartial, when set, receives a
// snapshot each time an attempt settles while others are still pending.
// A single-attempt failure is reported through Success, ErrorKind and
// StatusCode; a batch always carries its per-attempt results.
func (p *Proxy) Run(ctx context.Context, req *model.GatewayRequest, onPartial PartialFunc) *model.GatewayResponse {
	if verr := p.Validate(req); verr != nil {
		return failure(req, verr)
	}
	if req.ConcurrentCount <= 0 {
		req.ConcurrentCount = 1
	}
	if req.RequestTimeout <= 0 {
		req.RequestTimeout = defaultAttemptTimeout
	}

	client := p.vendorClient(req)
	logger.WithFields(logger.Fields{
		"user_message_id": req.UserMessageID,
		"concurrent":      req.ConcurrentCount,
		"base_url":        req.BaseURL,
	}).Info("gateway request received")

	if req.ConcurrentCount == 1 {
		r, gerr := p.attempt(ctx, client, req, 0)
		if gerr != nil {
			return failure(req, gerr)
		}
		return &model.GatewayResponse{
			Success:       true,
			Content:       r.Content,
			Usage:         r.Usage,
			UserMessageID: req.UserMessageID,
		}
	}
	return p.runConcurrent(ctx, client, req, onPartial)
}

func failure(req *model.GatewayRequest, gerr *Error) *model.GatewayResponse {
	return &model.GatewayResponse{
		Success:       false,
		Error:         gerr.Error(),
		ErrorKind:     string(gerr.Kind),
		StatusCode:    gerr.StatusCode,
		UserMessageID: req.UserMessageID,
	}
}

func (p *Proxy) runConcurrent(ctx context.Context, client *openai.Client, req *model.GatewayRequest, onPartial PartialFunc) *model.GatewayResponse {
	n := req.ConcurrentCount
	results := make([]model.Result, n)
	for i := range results {
		results[i] = model.PendingResult()
	}

	var (
		mu      sync.Mutex
		settled int
	)
	var g errgroup.Group
	if p.maxParallel > 0 {
		g.SetLimit(p.maxParallel)
	}

	for i := 0; i < n; i++ {
		index := i
		g.Go(func() error {
			r, gerr := p.attempt(ctx, client, req, index)
			if gerr != nil {
				r = model.FailedResult(gerr.Error())
			}

			mu.Lock()
			defer mu.Unlock()
			results[index] = r
			settled++
			if onPartial != nil && settled < n {
				onPartial(aggregate(req, results, false))
			}
			return nil
		})
	}
	_ = g.Wait()

	final := aggregate(req, results, true)
	logger.WithFields(logger.Fields{
		"user_message_id": req.UserMessageID,
		"success":         final.SuccessCount,
		"total":           final.TotalCount,
	}).Info("concurrent request finished")
	return final
}

// aggregate builds a response from the current results. The headline
// content is the first success; with none, the first result's error.
func aggregate(req *model.GatewayRequest, results []model.Result, final bool) *model.GatewayResponse {
	resp := &model.GatewayResponse{
		ConcurrentResults: make([]model.WireResult, len(results)),
		TotalCount:        len(results),
		UserMessageID:     req.UserMessageID,
		IsPartialResult:   !final,
		IsFinalResult:     final,
	}
	first := -1
	for i, r := range results {
		resp.ConcurrentResults[i] = model.WireFromResult(i, r)
		if r.Succeeded() {
			resp.SuccessCount++
			if first < 0 {
				first = i
			}
		}
	}

	if first >= 0 {
		resp.Success = true
		resp.Content = results[first].Content
		resp.Usage = results[first].Usage
		resp.RequestIndex = first
	} else if final && len(results) > 0 {
		resp.Error = results[0].Error
	}
	return resp
}

func (p *Proxy) vendorClient(req *model.GatewayRequest) *openai.Client {
	cfg := openai.DefaultConfig(req.APIKey)
	cfg.BaseURL = vendorBaseURL(req.BaseURL)
	cfg.OrgID = req.Organization

	httpClient := utils.NewHTTPClient(time.Duration(req.RequestTimeout) * time.Second)
	httpClient.Transport = newDebugTransport(httpClient.Transport)
	if len(req.Headers) > 0 {
		httpClient.Transport = &headerTransport{base: httpClient.Transport, headers: req.Headers}
	}
	cfg.HTTPClient = httpClient
	return openai.NewClientWithConfig(cfg)
}

// vendorBaseURL appends /v1 unless the configured base already names a
// version path.
func vendorBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.Contains(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func (p *Proxy) attempt(ctx context.Context, client *openai.Client, req *model.GatewayRequest, index int) (model.Result, *Error) {
	body := req.RequestBody
	body.Stream = false
	body.Messages = history.ReplaceTaskTag(body.Messages, fmt.Sprintf("%s_C%d", p.newTaskID(), index+1))

	log := logger.WithFields(logger.Fields{
		"user_message_id": req.UserMessageID,
		"attempt":         index + 1,
	})

	resp, err := client.CreateChatCompletion(ctx, body)
	if err != nil {
		gerr := vendorError(err)
		log.WithField("kind", gerr.Kind).Warnf("vendor call failed: %v", gerr)
		return model.Result{}, gerr
	}
	if len(resp.Choices) == 0 {
		return model.Result{}, NewError(KindInvalidResponse, 0, "vendor response contained no choices")
	}

	content := resp.Choices[0].Message.Content
	log.Debugf("vendor call succeeded, %d bytes", len(content))
	return model.SucceededResult(content, &model.Usage{
		TotalTokens:      resp.Usage.TotalTokens,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}), nil
}

func vendorError(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Kind:       KindFromStatus(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		message := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			message = reqErr.Err.Error()
		}
		return &Error{
			Kind:       KindFromStatus(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
			Message:    message,
			Err:        err,
		}
	}
	return Classify(err)
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}
