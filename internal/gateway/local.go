package gateway

import (
	"context"

	"multichat-backend/internal/model"
)

// Local runs requests through an in-process Proxy, skipping the HTTP hop.
// It reports failures exactly like Client does.
type Local struct {
	proxy *Proxy
}

func NewLocal(proxy *Proxy) *Local {
	return &Local{proxy: proxy}
}

func (l *Local) Send(ctx context.Context, req *model.GatewayRequest, onPartial PartialFunc) (*model.GatewayResponse, error) {
	resp := l.proxy.Run(ctx, req, onPartial)
	if err := checkEnvelope(resp); err != nil {
		return nil, err
	}
	return resp, nil
}
