// internal/rpcpool/errors.go
package rpcpool

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoEndpointsConfigured means no endpoint survived construction.
	ErrNoEndpointsConfigured = errors.New("no RPC endpoints configured")

	// ErrNoHealthyEndpoint means every endpoint is unhealthy or open.
	ErrNoHealthyEndpoint = errors.New("no healthy RPC endpoint available")
)

// ExhaustedError is returned when the retry budget is spent across
// distinct endpoints without a success.
type ExhaustedError struct {
	Network  Network
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all endpoints exhausted on %s after %d attempts: %v",
		e.Network, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// AuthError marks a credential rejection by a specific endpoint. The
// endpoint is taken out of rotation; the call itself may still succeed on
// another endpoint.
type AuthError struct {
	EndpointID string
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("endpoint %s rejected credentials: %v", e.EndpointID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// isAuthError classifies provider responses that indicate a credential
// problem rather than a transient transport failure.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"401", "403", "unauthorized", "forbidden",
		"invalid api key", "api key is not allowed", "authentication",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
