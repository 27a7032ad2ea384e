package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"payment-webhook-engine/internal/core/domain"
	"payment-webhook-engine/internal/core/ports"

	"github.com/rs/zerolog"
)

// Outbound delivery headers.
const (
	HeaderSignature       = "X-Signature"
	HeaderCorrelationID   = "X-Correlation-Id"
	HeaderEventID         = "X-Event-Id"
	HeaderEventType       = "X-Event-Type"
	HeaderDeliveryAttempt = "X-Delivery-Attempt"
)

const (
	userAgent            = "payment-webhook-engine/1.0"
	responseSnippetLimit = 1024
	responseDrainLimit   = 1 << 20
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPOutboundSender implements ports.OutboundSender with a plain HTTP call.
type HTTPOutboundSender struct {
	client   HTTPClient
	signer   ports.SignatureService
	registry *EndpointRegistry
	timeout  time.Duration
	log      zerolog.Logger
}

// NewHTTPOutboundSender creates an outbound sender. timeout bounds each attempt.
func NewHTTPOutboundSender(client HTTPClient, signer ports.SignatureService, registry *EndpointRegistry, timeout time.Duration, log zerolog.Logger) *HTTPOutboundSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPOutboundSender{
		client:   client,
		signer:   signer,
		registry: registry,
		timeout:  timeout,
		log:      log,
	}
}

// Send delivers rec's stored payload to its target.
func (s *HTTPOutboundSender) Send(ctx context.Context, rec *domain.DeliveryRecord) (domain.AttemptOutcome, error) {
	if rec.Target == nil || rec.Target.URL == "" {
		return domain.AttemptOutcome{}, domain.PermanentDispatchError(0, errors.New("record has no delivery target"))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	method := rec.Target.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, rec.Target.URL, bytes.NewReader(rec.Payload))
	if err != nil {
		return domain.AttemptOutcome{}, domain.PermanentDispatchError(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderCorrelationID, rec.CorrelationID)
	req.Header.Set(HeaderEventID, rec.EventID)
	req.Header.Set(HeaderEventType, rec.EventType.String())
	req.Header.Set(HeaderDeliveryAttempt, strconv.Itoa(rec.Attempts+1))

	if sig := s.signer.Sign(rec.Payload, s.registry.SigningSecret(rec.Target.Endpoint)); sig != "" {
		req.Header.Set(HeaderSignature, sig)
	} else {
		s.log.Warn().
			Str("record_id", rec.ID.String()).
			Str("endpoint", rec.Target.Endpoint).
			Msg("no signing secret configured, delivering unsigned")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.AttemptOutcome{}, domain.TransientDispatchError(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseSnippetLimit))
	if err != nil {
		s.log.Warn().Err(err).
			Str("record_id", rec.ID.String()).
			Int("status", resp.StatusCode).
			Msg("reading endpoint response failed, classifying by status")
	} else if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, responseDrainLimit)); err != nil {
		// An undrained body keeps the connection out of the pool.
		s.log.Debug().Err(err).Str("record_id", rec.ID.String()).Msg("draining endpoint response failed")
	}
	code := resp.StatusCode
	outcome := domain.AttemptOutcome{
		StatusCode: &code,
		Response:   responseSnippet(resp, body),
	}

	if dErr := ClassifyStatus(code); dErr != nil {
		return outcome, dErr
	}
	return outcome, nil
}

// ClassifyStatus maps an HTTP status to a dispatch error, nil for 2xx.
// 408, 429 and 5xx are transient; everything else is permanent.
func ClassifyStatus(code int) *domain.DispatchError {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return domain.TransientDispatchError(code, fmt.Errorf("endpoint responded %d", code))
	default:
		return domain.PermanentDispatchError(code, fmt.Errorf("endpoint responded %d", code))
	}
}

func responseSnippet(resp *http.Response, body []byte) string {
	var b strings.Builder
	b.WriteString(resp.Status)
	for _, h := range []string{"Content-Type", "Retry-After"} {
		if v := resp.Header.Get(h); v != "" {
			b.WriteString("\n" + h + ": " + v)
		}
	}
	if len(body) > 0 {
		b.WriteString("\n\n")
		b.Write(body)
	}
	return b.String()
}
