package service

import (
	"net/http"
	"strings"

	"payment-webhook-engine/internal/core/domain"
)

// Endpoint is a merchant endpoint that receives outbound events.
type Endpoint struct {
	Name   string
	URL    string
	Method string
	Secret string
	// Events holds categories ("payment", "refund", ...), exact event type
	// names, or "*".
	Events []string
}

// Subscribes reports whether the endpoint wants events of type t.
func (e Endpoint) Subscribes(t domain.EventType) bool {
	cat, ok := t.Category()
	if !ok {
		return false
	}
	for _, ev := range e.Events {
		ev = strings.TrimSpace(ev)
		switch {
		case ev == string(domain.CategoryWildcard):
			return true
		case strings.EqualFold(ev, string(cat)):
			return true
		case strings.EqualFold(ev, t.String()):
			return true
		}
	}
	return false
}

// EndpointRegistry holds the configured merchant endpoints.
type EndpointRegistry struct {
	endpoints     []Endpoint
	byName        map[string]Endpoint
	defaultSecret string
}

// NewEndpointRegistry creates a registry. defaultSecret signs deliveries to
// endpoints that have no secret of their own.
func NewEndpointRegistry(endpoints []Endpoint, defaultSecret string) *EndpointRegistry {
	r := &EndpointRegistry{
		byName:        make(map[string]Endpoint, len(endpoints)),
		defaultSecret: defaultSecret,
	}
	for _, e := range endpoints {
		if e.Method == "" {
			e.Method = http.MethodPost
		}
		e.Method = strings.ToUpper(e.Method)
		r.endpoints = append(r.endpoints, e)
		r.byName[e.Name] = e
	}
	return r
}

// Subscribed returns the endpoints subscribed to t in configuration order.
func (r *EndpointRegistry) Subscribed(t domain.EventType) []Endpoint {
	var out []Endpoint
	for _, e := range r.endpoints {
		if e.Subscribes(t) {
			out = append(out, e)
		}
	}
	return out
}

// SigningSecret returns the secret used to sign deliveries to the named endpoint.
func (r *EndpointRegistry) SigningSecret(name string) string {
	if e, ok := r.byName[name]; ok && e.Secret != "" {
		return e.Secret
	}
	return r.defaultSecret
}

// All returns every configured endpoint.
func (r *EndpointRegistry) All() []Endpoint {
	return append([]Endpoint(nil), r.endpoints...)
}
