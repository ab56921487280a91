package nats

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

func encodeIndexRequest(subject string, req domain.IndexRequest) (*nats.Msg, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode index request: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(requestIDHeader, req.RequestID)
	return msg, nil
}

// decodeIndexRequest falls back to the Request-Id header when the body has no id.
func decodeIndexRequest(msg *nats.Msg) (domain.IndexRequest, error) {
	var req domain.IndexRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return domain.IndexRequest{}, fmt.Errorf("decode index request: %w", err)
	}
	if req.RequestID == "" && msg.Header != nil {
		req.RequestID = msg.Header.Get(requestIDHeader)
	}
	if req.RequestID == "" {
		return domain.IndexRequest{}, errors.New("decode index request: missing request id")
	}
	return req, nil
}
