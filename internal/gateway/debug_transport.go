package gateway

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"multichat-backend/pkg/logger"
)

var (
	sensitiveHeaders = []string{"Authorization", "X-Api-Key", "X-Auth-Token", "Cookie", "OpenAI-Organization"}
	imageDataPattern = regexp.MustCompile(`data:image/[a-zA-Z]+;base64,[A-Za-z0-9+/=]+`)
)

// debugTransport logs outgoing vendor requests when the logger runs at
// debug level. Credentials and inline image data are redacted.
type debugTransport struct {
	base http.RoundTripper
}

func newDebugTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &debugTransport{base: base}
}

func (t *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !logger.DebugEnabled() || req.Method != http.MethodPost {
		return t.base.RoundTrip(req)
	}

	t.logRequest(req)
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		logger.Debugf("vendor request to %s failed: %v", req.URL, err)
		return nil, err
	}
	logger.Debugf("vendor request to %s answered %d", req.URL, resp.StatusCode)
	return resp, nil
}

func (t *debugTransport) logRequest(req *http.Request) {
	entry := logger.WithFields(logger.Fields{
		"method":  req.Method,
		"url":     req.URL.String(),
		"headers": redactHeaders(req.Header),
	})

	if req.Body == nil {
		entry.Debug("vendor request")
		return
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		entry.Debugf("vendor request, unreadable body: %v", err)
		req.Body = http.NoBody
		return
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	entry.WithField("body", redactBody(body)).Debug("vendor request")
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
		for _, s := range sensitiveHeaders {
			if strings.EqualFold(name, s) {
				out[name] = "[REDACTED]"
				break
			}
		}
	}
	return out
}

func redactBody(body []byte) string {
	return imageDataPattern.ReplaceAllString(string(body), "data:image/[REDACTED]")
}
