// Package credentials supplies the bearer token the engine presents when
// opening a consultation socket.
package credentials

import (
	"context"
	"fmt"
	"os"

	"github.com/sehatica/voxconsult/domain/repositories"
)

// Static returns a source that always hands out the given token. Used when
// the host application manages token refresh itself.
func Static(token string) repositories.CredentialSource {
	return staticSource(token)
}

type staticSource string

func (s staticSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no token configured")
	}
	return string(s), nil
}

// Prefer returns a static source when token is non-empty, otherwise a
// source backed by the named environment variable. Used to honor an
// explicitly configured token while keeping env rotation for the rest.
func Prefer(token, key string) repositories.CredentialSource {
	if token != "" {
		return Static(token)
	}
	return FromEnv(key)
}

// FromEnv returns a source that reads the token from the named environment
// variable on every call, so a rotated token is picked up on the next
// reconnect without restarting.
func FromEnv(key string) repositories.CredentialSource {
	return envSource(key)
}

type envSource string

func (s envSource) Token(ctx context.Context) (string, error) {
	token := os.Getenv(string(s))
	if token == "" {
		return "", fmt.Errorf("environment variable %s is empty", string(s))
	}
	return token, nil
}
