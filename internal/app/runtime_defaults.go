package app

import (
	"fmt"
	"strings"

	"github.com/supauth/supauth/pkg/crypto"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults populates the JWT secret when no configuration
// supplies one, so a bare `supauth` invocation still starts. The credential
// encryption key is deliberately NOT defaulted: generating it at runtime
// would orphan every stored credential on restart, so a missing key aborts
// startup instead.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	if strings.TrimSpace(cfg.Security.EncryptionKey) == "" {
		return nil, fmt.Errorf("security.encryption_key is required (set SUPAUTH_SECURITY_ENCRYPTION_KEY)")
	}

	return generated, nil
}
