package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payment-webhook-engine/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOutboundRecord(url, endpoint string) *domain.DeliveryRecord {
	rec := domain.NewDeliveryRecord(domain.DirectionOutbound, "evt-out-1", domain.EventPaymentRefundCreated,
		[]byte(`{"refund":"r-1"}`), "corr-out-1", 5, time.Now())
	rec.Target = &domain.DeliveryTarget{URL: url, Method: http.MethodPost, Endpoint: endpoint}
	return rec
}

func newTestSender(t *testing.T, registry *EndpointRegistry, timeout time.Duration) *HTTPOutboundSender {
	t.Helper()
	signer := NewHMACSignatureService(SignatureConfig{Secret: "global", Algorithm: AlgorithmSHA256, Enabled: true}, zerolog.Nop())
	return NewHTTPOutboundSender(http.DefaultClient, signer, registry, timeout, zerolog.Nop())
}

func TestHTTPOutboundSender_Success(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	registry := NewEndpointRegistry([]Endpoint{{Name: "primary", URL: srv.URL, Secret: "endpoint-secret", Events: []string{"*"}}}, "global")
	sender := newTestSender(t, registry, time.Second)
	rec := newOutboundRecord(srv.URL, "primary")
	rec.Attempts = 2

	outcome, err := sender.Send(context.Background(), rec)
	require.NoError(t, err)
	require.NotNil(t, outcome.StatusCode)
	assert.Equal(t, http.StatusAccepted, *outcome.StatusCode)
	assert.Contains(t, outcome.Response, "202 Accepted")
	assert.Contains(t, outcome.Response, `{"ok":true}`)

	assert.Equal(t, `{"refund":"r-1"}`, string(gotBody))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "corr-out-1", got.Header.Get(HeaderCorrelationID))
	assert.Equal(t, "evt-out-1", got.Header.Get(HeaderEventID))
	assert.Equal(t, "payment.refund.created", got.Header.Get(HeaderEventType))
	assert.Equal(t, "3", got.Header.Get(HeaderDeliveryAttempt))
	assert.True(t, VerifySignature(gotBody, got.Header.Get(HeaderSignature), "endpoint-secret", AlgorithmSHA256),
		"signed with the endpoint secret")
}

func TestHTTPOutboundSender_FallsBackToGlobalSecret(t *testing.T) {
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(HeaderSignature)
	}))
	defer srv.Close()

	sender := newTestSender(t, NewEndpointRegistry([]Endpoint{{Name: "secondary", URL: srv.URL}}, "global"), time.Second)
	_, err := sender.Send(context.Background(), newOutboundRecord(srv.URL, "secondary"))
	require.NoError(t, err)
	assert.True(t, VerifySignature([]byte(`{"refund":"r-1"}`), sig, "global", AlgorithmSHA256))
}

func TestHTTPOutboundSender_Unsigned(t *testing.T) {
	var present bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header[HeaderSignature]
	}))
	defer srv.Close()

	sender := newTestSender(t, NewEndpointRegistry(nil, ""), time.Second)
	_, err := sender.Send(context.Background(), newOutboundRecord(srv.URL, "unknown"))
	require.NoError(t, err)
	assert.False(t, present)
}

func TestHTTPOutboundSender_Classification(t *testing.T) {
	tests := []struct {
		status    int
		code      string
		retryable bool
	}{
		{http.StatusInternalServerError, domain.CodeDispatchTransientError, true},
		{http.StatusServiceUnavailable, domain.CodeDispatchTransientError, true},
		{http.StatusTooManyRequests, domain.CodeDispatchTransientError, true},
		{http.StatusRequestTimeout, domain.CodeDispatchTransientError, true},
		{http.StatusBadRequest, domain.CodeDispatchPermanentError, false},
		{http.StatusNotFound, domain.CodeDispatchPermanentError, false},
		{http.StatusGone, domain.CodeDispatchPermanentError, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sender := newTestSender(t, NewEndpointRegistry(nil, "global"), time.Second)
			outcome, err := sender.Send(context.Background(), newOutboundRecord(srv.URL, ""))

			var de *domain.DispatchError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.code, de.Code)
			assert.Equal(t, tt.retryable, de.Retryable)
			assert.Equal(t, tt.status, de.StatusCode)
			require.NotNil(t, outcome.StatusCode)
			assert.Equal(t, tt.status, *outcome.StatusCode)
		})
	}
}

type stubHTTPClient struct {
	resp *http.Response
}

func (c stubHTTPClient) Do(*http.Request) (*http.Response, error) { return c.resp, nil }

// countingBody records how much of a response was consumed.
type countingBody struct {
	r      io.Reader
	read   int
	closed bool
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += n
	return n, err
}

func (b *countingBody) Close() error {
	b.closed = true
	return nil
}

type failingReader struct{ after []byte }

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.after) > 0 {
		n := copy(p, f.after)
		f.after = f.after[n:]
		return n, nil
	}
	return 0, errors.New("connection reset by peer")
}

func TestHTTPOutboundSender_DrainsLargeResponse(t *testing.T) {
	payload := strings.Repeat("x", 10*responseSnippetLimit)
	body := &countingBody{r: strings.NewReader(payload)}
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       body,
	}
	signer := NewHMACSignatureService(SignatureConfig{Secret: "global", Algorithm: AlgorithmSHA256, Enabled: true}, zerolog.Nop())
	sender := NewHTTPOutboundSender(stubHTTPClient{resp: resp}, signer, NewEndpointRegistry(nil, "global"), time.Second, zerolog.Nop())

	outcome, err := sender.Send(context.Background(), newOutboundRecord("http://merchant.test/hook", ""))
	require.NoError(t, err)

	assert.Equal(t, len(payload), body.read, "rest of the body is drained")
	assert.True(t, body.closed)
	assert.Contains(t, outcome.Response, strings.Repeat("x", responseSnippetLimit))
	assert.NotContains(t, outcome.Response, strings.Repeat("x", responseSnippetLimit+1))
}

func TestHTTPOutboundSender_BodyReadErrorIsLogged(t *testing.T) {
	var logs bytes.Buffer
	resp := &http.Response{
		StatusCode: http.StatusServiceUnavailable,
		Status:     "503 Service Unavailable",
		Header:     http.Header{},
		Body:       io.NopCloser(&failingReader{after: []byte("partial")}),
	}
	signer := NewHMACSignatureService(SignatureConfig{Secret: "global", Algorithm: AlgorithmSHA256, Enabled: true}, zerolog.Nop())
	sender := NewHTTPOutboundSender(stubHTTPClient{resp: resp}, signer, NewEndpointRegistry(nil, "global"), time.Second, zerolog.New(&logs))

	rec := newOutboundRecord("http://merchant.test/hook", "")
	outcome, err := sender.Send(context.Background(), rec)

	var de *domain.DispatchError
	require.True(t, errors.As(err, &de))
	assert.True(t, de.Retryable, "still classified by status")
	require.NotNil(t, outcome.StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, *outcome.StatusCode)
	assert.Contains(t, outcome.Response, "partial")

	assert.Contains(t, logs.String(), "reading endpoint response failed")
	assert.Contains(t, logs.String(), "connection reset by peer")
	assert.Contains(t, logs.String(), rec.ID.String())
}

func TestHTTPOutboundSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	sender := newTestSender(t, NewEndpointRegistry(nil, "global"), 50*time.Millisecond)
	outcome, err := sender.Send(context.Background(), newOutboundRecord(srv.URL, ""))

	var de *domain.DispatchError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.CodeDispatchTransientError, de.Code)
	assert.Nil(t, outcome.StatusCode)
}

func TestHTTPOutboundSender_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sender := newTestSender(t, NewEndpointRegistry(nil, "global"), time.Second)
	_, err := sender.Send(context.Background(), newOutboundRecord(url, ""))

	var de *domain.DispatchError
	require.True(t, errors.As(err, &de))
	assert.True(t, de.Retryable)
}

func TestHTTPOutboundSender_NoTarget(t *testing.T) {
	sender := newTestSender(t, NewEndpointRegistry(nil, "global"), time.Second)
	rec := newOutboundRecord("", "")
	rec.Target = nil

	_, err := sender.Send(context.Background(), rec)
	var de *domain.DispatchError
	require.True(t, errors.As(err, &de))
	assert.False(t, de.Retryable)
}

func TestClassifyStatus_Success(t *testing.T) {
	for _, code := range []int{200, 201, 204, 299} {
		assert.Nil(t, ClassifyStatus(code))
	}
	assert.NotNil(t, ClassifyStatus(301))
}

func TestEndpointRegistry(t *testing.T) {
	registry := NewEndpointRegistry([]Endpoint{
		{Name: "payments", URL: "https://a.example", Events: []string{"payment", "refund"}},
		{Name: "fraud", URL: "https://b.example", Method: "put", Secret: "fraud-secret", Events: []string{"payment.fraud.held"}},
		{Name: "all", URL: "https://c.example", Events: []string{"*"}},
	}, "global")

	names := func(eps []Endpoint) []string {
		var out []string
		for _, e := range eps {
			out = append(out, e.Name)
		}
		return out
	}

	assert.Equal(t, []string{"payments", "all"}, names(registry.Subscribed(domain.EventPaymentCaptureCreated)))
	assert.Equal(t, []string{"payments", "all"}, names(registry.Subscribed(domain.EventPaymentRefundCreated)))
	assert.Equal(t, []string{"fraud", "all"}, names(registry.Subscribed(domain.EventPaymentFraudHeld)))
	assert.Equal(t, []string{"all"}, names(registry.Subscribed(domain.EventCustomerCreated)))
	assert.Empty(t, registry.Subscribed(domain.EventTypeUnknown))

	assert.Equal(t, "fraud-secret", registry.SigningSecret("fraud"))
	assert.Equal(t, "global", registry.SigningSecret("payments"))
	assert.Equal(t, "global", registry.SigningSecret("missing"))

	all := registry.All()
	assert.Len(t, all, 3)
	assert.Equal(t, http.MethodPost, all[0].Method)
	assert.Equal(t, http.MethodPut, all[1].Method)
}
