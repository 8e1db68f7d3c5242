package ports

import "context"

// Secret represents a retrieved secret with metadata
type Secret struct {
	Metadata map[string]string // Additional secret metadata
	Value    string            // The secret value (e.g., gateway API secret)
	Version  string            // Secret version identifier
}

// SecretManagerAdapter defines the port for retrieving secrets from a secret
// management service. The gateway API secret and webhook secret load through
// this port so environments can choose between env vars and AWS Secrets
// Manager without touching billing code.
type SecretManagerAdapter interface {
	// GetSecret retrieves a secret by its path/name.
	// Returns error if the secret does not exist, permissions are
	// insufficient, or the secret manager service is unavailable.
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
