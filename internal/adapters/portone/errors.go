package portone

import (
	"errors"
	"fmt"
	"strings"
)

// GatewayError represents a failed gateway call with the HTTP status and the
// gateway's own message preserved for the caller.
type GatewayError struct {
	Message string
	Status  int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("portone: %d %s", e.Status, e.Message)
}

// IsNotFound reports whether the error is a 404-class failure. Billing keys
// are not visible on the gateway immediately after issuance, so callers
// retry only on this class.
func (e *GatewayError) IsNotFound() bool {
	if e.Status == 404 {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "not found")
}

// IsNotFoundError reports whether err is a 404-class gateway error
func IsNotFoundError(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.IsNotFound()
	}
	return false
}
