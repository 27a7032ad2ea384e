package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType is the closed vocabulary of payment events the engine handles.
// The zero value is invalid.
type EventType int

const (
	EventTypeUnknown EventType = iota
	EventPaymentAuthorizationCreated
	EventPaymentAuthCaptureCreated
	EventPaymentCaptureCreated
	EventPaymentPriorAuthCaptureCreated
	EventPaymentRefundCreated
	EventPaymentVoidCreated
	EventPaymentFraudApproved
	EventPaymentFraudDeclined
	EventPaymentFraudHeld
	EventCustomerCreated
	EventCustomerUpdated
	EventCustomerDeleted
	EventPaymentProfileCreated
	EventPaymentProfileUpdated
	EventPaymentProfileDeleted
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionSuspended
	EventSubscriptionTerminated
	EventSubscriptionCancelled
	EventSubscriptionExpiring
	EventSubscriptionExpired
)

var eventTypeNames = map[EventType]string{
	EventPaymentAuthorizationCreated:    "payment.authorization.created",
	EventPaymentAuthCaptureCreated:      "payment.authcapture.created",
	EventPaymentCaptureCreated:          "payment.capture.created",
	EventPaymentPriorAuthCaptureCreated: "payment.priorAuthCapture.created",
	EventPaymentRefundCreated:           "payment.refund.created",
	EventPaymentVoidCreated:             "payment.void.created",
	EventPaymentFraudApproved:           "payment.fraud.approved",
	EventPaymentFraudDeclined:           "payment.fraud.declined",
	EventPaymentFraudHeld:               "payment.fraud.held",
	EventCustomerCreated:                "customer.created",
	EventCustomerUpdated:                "customer.updated",
	EventCustomerDeleted:                "customer.deleted",
	EventPaymentProfileCreated:          "customer.paymentProfile.created",
	EventPaymentProfileUpdated:          "customer.paymentProfile.updated",
	EventPaymentProfileDeleted:          "customer.paymentProfile.deleted",
	EventSubscriptionCreated:            "customer.subscription.created",
	EventSubscriptionUpdated:            "customer.subscription.updated",
	EventSubscriptionSuspended:          "customer.subscription.suspended",
	EventSubscriptionTerminated:         "customer.subscription.terminated",
	EventSubscriptionCancelled:          "customer.subscription.cancelled",
	EventSubscriptionExpiring:           "customer.subscription.expiring",
	EventSubscriptionExpired:            "customer.subscription.expired",
}

var eventTypesByName = func() map[string]EventType {
	m := make(map[string]EventType, len(eventTypeNames))
	for t, name := range eventTypeNames {
		m[strings.ToLower(name)] = t
	}
	return m
}()

// processorNamespace prefixes event types in processor notification bodies.
const processorNamespace = "net.authorize."

// ParseEventType resolves a wire name (case-insensitive, with or without the
// processor namespace) to an EventType.
func ParseEventType(name string) (EventType, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, processorNamespace)
	t, ok := eventTypesByName[key]
	if !ok {
		return EventTypeUnknown, fmt.Errorf("%w: %q", ErrUnknownEventType, name)
	}
	return t, nil
}

// AllEventTypes returns every known event type in declaration order.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypeNames))
	for t := EventPaymentAuthorizationCreated; t <= EventSubscriptionExpired; t++ {
		out = append(out, t)
	}
	return out
}

// String returns the wire name.
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether t is part of the vocabulary.
func (t EventType) Valid() bool {
	_, ok := eventTypeNames[t]
	return ok
}

// MarshalJSON encodes the wire name.
func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a wire name.
func (t *EventType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseEventType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// EventCategory groups event types for endpoint subscriptions.
type EventCategory string

const (
	CategoryPayment        EventCategory = "payment"
	CategoryRefund         EventCategory = "refund"
	CategoryVoid           EventCategory = "void"
	CategoryFraud          EventCategory = "fraud"
	CategoryCustomer       EventCategory = "customer"
	CategoryPaymentProfile EventCategory = "payment_profile"
	CategorySubscription   EventCategory = "subscription"
	CategoryWildcard       EventCategory = "*"
)

// Category is the total mapping from event type to category. A new
// EventType without a case here returns ok=false and fails the vocabulary test.
func (t EventType) Category() (EventCategory, bool) {
	switch t {
	case EventPaymentAuthorizationCreated, EventPaymentAuthCaptureCreated,
		EventPaymentCaptureCreated, EventPaymentPriorAuthCaptureCreated:
		return CategoryPayment, true
	case EventPaymentRefundCreated:
		return CategoryRefund, true
	case EventPaymentVoidCreated:
		return CategoryVoid, true
	case EventPaymentFraudApproved, EventPaymentFraudDeclined, EventPaymentFraudHeld:
		return CategoryFraud, true
	case EventCustomerCreated, EventCustomerUpdated, EventCustomerDeleted:
		return CategoryCustomer, true
	case EventPaymentProfileCreated, EventPaymentProfileUpdated, EventPaymentProfileDeleted:
		return CategoryPaymentProfile, true
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionSuspended,
		EventSubscriptionTerminated, EventSubscriptionCancelled, EventSubscriptionExpiring,
		EventSubscriptionExpired:
		return CategorySubscription, true
	}
	return "", false
}
