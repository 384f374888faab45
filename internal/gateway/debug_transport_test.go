package gateway

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multichat-backend/pkg/logger"
)

func TestRedactHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-secret")
	h.Set("Content-Type", "application/json")

	out := redactHeaders(h)
	assert.Equal(t, "[REDACTED]", out["Authorization"])
	assert.Equal(t, "application/json", out["Content-Type"])
}

func TestRedactBody(t *testing.T) {
	body := []byte(`{"url":"data:image/jpeg;base64,QUJDRA==","text":"hi"}`)
	assert.Equal(t, `{"url":"data:image/[REDACTED]","text":"hi"}`, redactBody(body))
}

func TestDebugTransportLogsAndPreservesBody(t *testing.T) {
	var logs bytes.Buffer
	require.NoError(t, logger.InitWithOutput("debug", "text", &logs))
	defer func() { _ = logger.InitWithOutput("info", "text", io.Discard) }()

	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		received = string(data)
	}))
	defer srv.Close()

	client := &http.Client{Transport: newDebugTransport(nil)}
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"model":"m"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk-secret")

	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, `{"model":"m"}`, received)
	assert.Contains(t, logs.String(), "vendor request")
	assert.NotContains(t, logs.String(), "sk-secret")
}
