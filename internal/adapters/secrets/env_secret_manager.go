package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kevin07696/billing-service/internal/domain/ports"
	"go.uber.org/zap"
)

// envSecretManager implements SecretManagerAdapter using environment variables.
// WARNING: This is for development only. Use AWS Secrets Manager in production.
type envSecretManager struct {
	logger *zap.Logger
}

// NewEnvSecretManager creates a secret manager backed by environment variables
func NewEnvSecretManager(logger *zap.Logger) ports.SecretManagerAdapter {
	return &envSecretManager{logger: logger}
}

// GetSecret resolves a secret path to an environment variable. The path
// "billing-service/gateway/api-secret" maps to BILLING_SERVICE_GATEWAY_API_SECRET.
func (m *envSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	envKey := pathToEnvKey(path)

	m.logger.Debug("Reading secret from environment",
		zap.String("path", path),
		zap.String("env_key", envKey),
	)

	value := os.Getenv(envKey)
	if value == "" {
		return nil, fmt.Errorf("secret not found: %s (env %s unset)", path, envKey)
	}

	return &ports.Secret{
		Value:   value,
		Version: "v1",
	}, nil
}

func pathToEnvKey(path string) string {
	key := strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(path)
	return strings.ToUpper(key)
}
