package dto

import (
	"regexp"

	"payment-webhook-engine/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var safeStringRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.:]+$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("safe_id", validateSafeID)
		_ = v.RegisterValidation("event_type", validateEventType)
	}
}

// validateSafeID allows alphanumeric, underscore, dash, dot and colon.
func validateSafeID(fl validator.FieldLevel) bool {
	return safeStringRe.MatchString(fl.Field().String())
}

// validateEventType accepts any known event type name.
func validateEventType(fl validator.FieldLevel) bool {
	_, err := domain.ParseEventType(fl.Field().String())
	return err == nil
}
