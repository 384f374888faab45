package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multichat-backend/internal/history"
	"multichat-backend/internal/model"
)

var taskIDPattern = regexp.MustCompile(`unique task id: ([^\]]+)\]`)

// fakeVendor answers chat completions. Attempts whose task id ends in one
// of failSuffixes get a 503.
type fakeVendor struct {
	mu           sync.Mutex
	taskIDs      []string
	headers      []http.Header
	failSuffixes []string
}

func (v *fakeVendor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	last := req.Messages[len(req.Messages)-1].Content
	id := ""
	if m := taskIDPattern.FindStringSubmatch(last); m != nil {
		id = m[1]
	}

	v.mu.Lock()
	v.taskIDs = append(v.taskIDs, id)
	v.headers = append(v.headers, r.Header.Clone())
	v.mu.Unlock()

	for _, s := range v.failSuffixes {
		if strings.HasSuffix(id, s) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "reply " + id[len(id)-2:]},
		}},
		Usage: openai.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	})
}

func proxyRequest(base string, n int) *model.GatewayRequest {
	return &model.GatewayRequest{
		BaseURL:      base,
		APIKey:       "sk-test",
		Organization: "org-1",
		RequestBody: openai.ChatCompletionRequest{
			Model: "gpt-test",
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: history.AppendTaskTag("hi", "orig")},
			},
		},
		ConcurrentCount: n,
		Headers:         map[string]string{"X-Trace": "t1"},
		UserMessageID:   "u1",
		RequestTimeout:  5,
	}
}

func TestProxySingle(t *testing.T) {
	vendor := &fakeVendor{}
	srv := httptest.NewServer(vendor)
	defer srv.Close()

	resp := NewProxy(0).Run(context.Background(), proxyRequest(srv.URL, 1), nil)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "reply C1", resp.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, "u1", resp.UserMessageID)

	require.Len(t, vendor.headers, 1)
	assert.Equal(t, "Bearer sk-test", vendor.headers[0].Get("Authorization"))
	assert.Equal(t, "org-1", vendor.headers[0].Get("OpenAI-Organization"))
	assert.Equal(t, "t1", vendor.headers[0].Get("X-Trace"))
}

func TestProxySingleFailureCarriesKind(t *testing.T) {
	vendor := &fakeVendor{failSuffixes: []string{"_C1"}}
	srv := httptest.NewServer(vendor)
	defer srv.Close()

	resp := NewProxy(0).Run(context.Background(), proxyRequest(srv.URL+"/v1", 1), nil)
	assert.False(t, resp.Success)
	assert.Equal(t, string(KindServer), resp.ErrorKind)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, resp.Error, "overloaded")
}

func TestProxyConcurrentFanOut(t *testing.T) {
	vendor := &fakeVendor{failSuffixes: []string{"_C2"}}
	srv := httptest.NewServer(vendor)
	defer srv.Close()

	var partials []*model.GatewayResponse
	resp := NewProxy(2).Run(context.Background(), proxyRequest(srv.URL, 3), func(p *model.GatewayResponse) {
		partials = append(partials, p)
	})

	assert.True(t, resp.IsFinalResult)
	assert.Equal(t, 2, resp.SuccessCount)
	assert.Equal(t, 3, resp.TotalCount)
	require.Len(t, resp.ConcurrentResults, 3)
	assert.Equal(t, "reply C1", resp.ConcurrentResults[0].Content)
	assert.False(t, resp.ConcurrentResults[1].Success)
	assert.Equal(t, "reply C3", resp.ConcurrentResults[2].Content)

	require.Len(t, partials, 2)
	for i, p := range partials {
		assert.True(t, p.IsPartialResult)
		pending := 0
		for _, r := range p.ConcurrentResults {
			if r.IsPending {
				pending++
			}
		}
		assert.Equal(t, 2-i, pending)
	}

	seen := map[string]bool{}
	for _, id := range vendor.taskIDs {
		assert.NotEqual(t, "orig", id)
		assert.False(t, seen[id], "task id %s reused", id)
		seen[id] = true
	}
	assert.Len(t, seen, 3)
}

func TestProxyAllFailedBatch(t *testing.T) {
	vendor := &fakeVendor{failSuffixes: []string{"_C1", "_C2"}}
	srv := httptest.NewServer(vendor)
	defer srv.Close()

	resp := NewProxy(0).Run(context.Background(), proxyRequest(srv.URL, 2), nil)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, resp.SuccessCount)
	assert.True(t, resp.IsBatch())
	assert.NotEmpty(t, resp.Error)
}

func TestProxyValidate(t *testing.T) {
	req := proxyRequest("", 1)
	resp := NewProxy(0).Run(context.Background(), req, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, string(KindConfig), resp.ErrorKind)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVendorBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.example.com/v1", vendorBaseURL("https://api.example.com/"))
	assert.Equal(t, "https://api.example.com/v1", vendorBaseURL("https://api.example.com/v1/"))
}

func TestLocalSend(t *testing.T) {
	vendor := &fakeVendor{failSuffixes: []string{"_C1"}}
	srv := httptest.NewServer(vendor)
	defer srv.Close()
	local := NewLocal(NewProxy(0))

	_, err := local.Send(context.Background(), proxyRequest(srv.URL, 1), nil)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindServer, gerr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, gerr.StatusCode)

	var partials int
	resp, err := local.Send(context.Background(), proxyRequest(srv.URL, 3), func(*model.GatewayResponse) { partials++ })
	require.NoError(t, err)
	assert.True(t, resp.IsFinalResult)
	assert.Equal(t, 2, resp.SuccessCount)
	assert.Equal(t, 2, partials)
}
