package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multichat-backend/internal/model"
	"multichat-backend/internal/utils"
)

func gatewayRequest(n int) *model.GatewayRequest {
	return &model.GatewayRequest{
		BaseURL:         "https://vendor.example",
		APIKey:          "sk-test",
		ConcurrentCount: n,
		UserMessageID:   "u1",
		RequestTimeout:  5,
	}
}

func TestClientSendSingle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, chatPath, r.URL.Path)
		var req model.GatewayRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1", req.UserMessageID)
		_ = json.NewEncoder(w).Encode(model.GatewayResponse{Success: true, Content: "Hello", UserMessageID: req.UserMessageID})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Send(context.Background(), gatewayRequest(1), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	assert.False(t, resp.IsBatch())
}

func TestClientSendStatusErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"unavailable", 503, `{"success":false,"error":"Service Unavailable"}`, KindServer},
		{"unauthorized", 401, `{"success":false,"error":"bad key"}`, KindUnauthorized},
		{"explicit kind", 502, `{"success":false,"error":"timed out","errorKind":"timeout"}`, KindTimeout},
		{"non json body", 429, `slow down`, KindRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Send(context.Background(), gatewayRequest(1), nil)
			var ge *Error
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, tc.want, ge.Kind)
			assert.Equal(t, tc.status, ge.StatusCode)
		})
	}
}

func TestClientSendFailedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.GatewayResponse{Success: false, Error: "quota", ErrorKind: string(KindRateLimited)})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Send(context.Background(), gatewayRequest(1), nil)
	assert.True(t, Retryable(err))
}

func TestClientSendAllFailedBatchIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.GatewayResponse{
			Error: "e0",
			ConcurrentResults: []model.WireResult{
				{Error: "e0"}, {Error: "e1", RequestIndex: 1},
			},
			TotalCount:    2,
			IsFinalResult: true,
		})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Send(context.Background(), gatewayRequest(2), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.SuccessCount)
	assert.Len(t, resp.ConcurrentResults, 2)
}

func TestClientSendRejectsMissingConfig(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	req := gatewayRequest(1)
	req.APIKey = ""
	_, err := NewClient(srv.URL).Send(context.Background(), req, nil)
	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, KindConfig, ge.Kind)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestClientSendStreamsPartials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, chatStreamPath, r.URL.Path)
		sse := utils.NewSSEWriter(w)
		_ = sse.WriteJSON("partial", model.GatewayResponse{
			Success: true, Content: "A", IsPartialResult: true, TotalCount: 2,
			ConcurrentResults: []model.WireResult{
				{Success: true, Content: "A"}, {IsPending: true, RequestIndex: 1},
			},
		})
		_ = sse.WriteJSON("final", model.GatewayResponse{
			Success: true, Content: "A", IsFinalResult: true, SuccessCount: 2, TotalCount: 2,
			ConcurrentResults: []model.WireResult{
				{Success: true, Content: "A"}, {Success: true, Content: "B", RequestIndex: 1},
			},
		})
		_ = sse.Close()
	}))
	defer srv.Close()

	var partials []*model.GatewayResponse
	resp, err := NewClient(srv.URL).Send(context.Background(), gatewayRequest(2), func(p *model.GatewayResponse) {
		partials = append(partials, p)
	})
	require.NoError(t, err)
	require.Len(t, partials, 1)
	assert.True(t, partials[0].ConcurrentResults[1].IsPending)
	assert.True(t, resp.IsFinalResult)
	assert.Equal(t, 2, resp.SuccessCount)
}

func TestClientSendStreamCutShort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse := utils.NewSSEWriter(w)
		_ = sse.Write("partial", `{"success":true,"concurrentResults":[{"success":true,"content":"A"},{"isPending":true}]}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Send(context.Background(), gatewayRequest(2), func(*model.GatewayResponse) {})
	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, KindNetwork, ge.Kind)
	assert.True(t, Retryable(err), fmt.Sprint(err))
}
