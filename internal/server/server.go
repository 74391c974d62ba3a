// Package server provides a factory for creating the MCP server.
package server

import (
	"encoding/base64"
	"fmt"

	"github.com/txn2/mcp-dbinstance/pkg/auth"
	"github.com/txn2/mcp-dbinstance/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

// New creates a platform from the given configuration file.
func New(configPath string) (*platform.Platform, error) {
	cfg, err := platform.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return platform.New(platform.WithConfig(cfg))
}

// NewWithDefaults creates a platform with default configuration and no
// managed instances. Useful for smoke tests and protocol inspection.
func NewWithDefaults() (*platform.Platform, error) {
	cfg := platform.DefaultConfig()
	cfg.Server.Version = Version
	return platform.New(platform.WithConfig(cfg))
}

// BuildAuthenticator assembles the authenticator chain for the HTTP
// transport from config. Returns nil when no auth method is enabled.
func BuildAuthenticator(cfg platform.AuthConfig) (auth.Authenticator, error) {
	var chain []auth.Authenticator

	if cfg.APIKeys.Enabled {
		keys := make([]auth.APIKey, 0, len(cfg.APIKeys.Keys))
		for _, def := range cfg.APIKeys.Keys {
			keys = append(keys, auth.APIKey{
				Key:     def.Key,
				KeyHash: def.KeyHash,
				Name:    def.Name,
			})
		}
		a, err := auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{Keys: keys})
		if err != nil {
			return nil, fmt.Errorf("building api key authenticator: %w", err)
		}
		chain = append(chain, a)
	}

	if cfg.Bearer.Enabled {
		key, err := base64.StdEncoding.DecodeString(cfg.Bearer.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("decoding bearer signing key: %w", err)
		}
		a, err := auth.NewBearerAuthenticator(auth.BearerConfig{
			Issuer:     cfg.Bearer.Issuer,
			SigningKey: key,
		})
		if err != nil {
			return nil, fmt.Errorf("building bearer authenticator: %w", err)
		}
		chain = append(chain, a)
	}

	if len(chain) == 0 {
		return nil, nil
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return auth.NewChainAuthenticator(chain...), nil
}
