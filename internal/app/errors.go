package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/workflow"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errAuthRequired() *DomainError {
	return domainError(http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required", nil)
}

func errForbidden(message string) *DomainError {
	if message == "" {
		message = "Forbidden"
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func errNotFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func errRateLimited(retryAfter time.Duration) *DomainError {
	return domainError(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded", map[string]any{
		"retryAfterSeconds": int(retryAfter.Round(time.Second).Seconds()),
	})
}

func errExpired() *DomainError {
	return domainError(http.StatusGone, "EXPIRED", "Share link has expired", nil)
}

func errExhausted() *DomainError {
	return domainError(http.StatusGone, "EXHAUSTED", "Share link has reached its access limit", nil)
}

func errDomainRejected(host string) *DomainError {
	return domainError(http.StatusForbidden, "DOMAIN_REJECTED", "Share link is not valid for this domain", map[string]any{"host": host})
}

func errLoginRequired() *DomainError {
	return domainError(http.StatusUnauthorized, "LOGIN_REQUIRED", "Share link requires sign-in", nil)
}

func errPasswordRequired() *DomainError {
	return domainError(http.StatusUnauthorized, "PASSWORD_REQUIRED", "Share link requires a password", nil)
}

func errInvalidPassword() *DomainError {
	return domainError(http.StatusForbidden, "INVALID_PASSWORD", "Share link password is incorrect", nil)
}

func errWorkflow(violation *workflow.ViolationError) *DomainError {
	details := map[string]any{
		"currentStep": violation.From,
		"missing":     nonNilStrings(violation.Missing),
	}
	if violation.To != "" {
		details["targetStep"] = violation.To
	}
	return domainError(http.StatusConflict, "WORKFLOW_VIOLATION", violation.Reason, details)
}

func errGenerationFailed(err error) *DomainError {
	return domainError(http.StatusBadGateway, "GENERATION_FAILED", "Generation failed", map[string]any{"reason": err.Error()})
}

func errGenerationTimeout() *DomainError {
	return domainError(http.StatusGatewayTimeout, "GENERATION_TIMEOUT", "Generation timed out", nil)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
