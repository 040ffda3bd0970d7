package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ingresso-cascade-cli/authguard"
	"ingresso-cascade-cli/cascade"
	"ingresso-cascade-cli/model"
)

// APIError is returned when the Ingresso API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Status     string
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return "ingresso api error"
	}
	return fmt.Sprintf("ingresso api error: %s: %s", e.Status, e.Body)
}

// VendorError is a 2xx response carrying a failing status envelope.
type VendorError struct {
	Status   model.VendorStatus
	Endpoint string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("ingresso vendor status ret=%d sub=%d: %s", e.Status.Ret, e.Status.Sub, e.Status.Msg)
}

// DecodeError is a 2xx response whose body did not match the expected shape.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsNotFound reports whether the error represents a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IsAuthExpired reports whether err is the vendor telling us the session
// token is no longer valid: a 401, a 403 that mentions the token, or the
// ret=0/sub=408 status envelope.
func IsAuthExpired(err error) bool {
	if err == nil {
		return false
	}
	var vendorErr *VendorError
	if errors.As(err, &vendorErr) {
		return vendorErr.Status.TokenExpired()
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized:
		return true
	case http.StatusForbidden:
		return strings.Contains(strings.ToLower(apiErr.Body), "token")
	}
	return false
}

// AuthExtractor recognises Ingresso auth-expiry errors for the session guard.
var AuthExtractor authguard.Extractor = authguard.ExtractorFunc(IsAuthExpired)

// classify maps a client error onto the cascade error kinds.
func classify(stage cascade.Stage, err error) error {
	if err == nil {
		return nil
	}
	var decodeErr *DecodeError
	switch {
	case IsAuthExpired(err):
		return cascade.NewError(cascade.KindAuthExpired, stage, err)
	case IsNotFound(err):
		return cascade.NewError(cascade.KindEmptyResult, stage, err)
	case errors.As(err, &decodeErr):
		return cascade.NewError(cascade.KindDataFormat, stage, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return cascade.NewError(cascade.KindNetwork, stage, err)
	}
	var classified *cascade.Error
	if errors.As(err, &classified) {
		return err
	}
	return cascade.NewError(cascade.KindNetwork, stage, err)
}
