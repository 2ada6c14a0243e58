package modules

import (
	"strings"

	"reelkit.io/reelkit/internal/api/handlers"
	"reelkit.io/reelkit/internal/api/middleware"
	"reelkit.io/reelkit/internal/config"
)

// JWTConfig derives the token configuration from the security settings.
func JWTConfig(cfg *config.Config) middleware.JWTConfig {
	verificationKeys := make([][]byte, 0, len(cfg.Security.JWTVerificationKeys))
	for _, key := range cfg.Security.JWTVerificationKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		verificationKeys = append(verificationKeys, []byte(key))
	}
	return middleware.JWTConfig{
		SigningKey:       []byte(cfg.Security.JWTSigningKey),
		VerificationKeys: verificationKeys,
		Issuer:           cfg.Security.JWTIssuer,
		ExpiresIn:        cfg.Security.TokenTTL,
	}
}

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(cfg *config.Config, infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		Context: infra.Persistence,
		JWTCfg:  JWTConfig(cfg),
	}
	if infra.DB != nil && infra.DB.RiverClient != nil {
		deps.Jobs = infra.DB.RiverClient
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
