package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindFromStatus(t *testing.T) {
	cases := map[int]Kind{
		401: KindUnauthorized,
		403: KindUnauthorized,
		429: KindRateLimited,
		500: KindServer,
		502: KindServer,
		503: KindServer,
		504: KindServer,
		408: KindTimeout,
		400: KindClient,
		404: KindClient,
		501: KindUnknown,
	}
	for code, want := range cases {
		assert.Equal(t, want, KindFromStatus(code), "status %d", code)
	}
}

func TestRetryablePartition(t *testing.T) {
	retryable := []Kind{KindNetwork, KindTimeout, KindRateLimited, KindServer}
	terminal := []Kind{KindUnauthorized, KindClient, KindConfig, KindInvalidResponse, KindUnknown}
	for _, k := range retryable {
		assert.True(t, NewError(k, 0, "x").Kind.Retryable(), k)
	}
	for _, k := range terminal {
		assert.False(t, Retryable(NewError(k, 0, "x")), k)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "x.invalid"}, KindNetwork},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, KindNetwork},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindNetwork},
		{"plain", errors.New("something odd"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ge := Classify(tc.err)
			assert.Equal(t, tc.want, ge.Kind)
			assert.ErrorIs(t, ge, tc.err)
		})
	}

	wrapped := fmt.Errorf("outer: %w", NewError(KindServer, 503, "Service Unavailable"))
	assert.Equal(t, KindServer, Classify(wrapped).Kind)
	assert.Nil(t, Classify(nil))
	assert.False(t, Retryable(nil))
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "503 Service Unavailable", NewError(KindServer, 503, "Service Unavailable").Error())
	assert.Equal(t, "no route", NewError(KindNetwork, 0, "no route").Error())
}
