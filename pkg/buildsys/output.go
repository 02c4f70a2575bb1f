package buildsys

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/poma-prs/poma-static-project/pkg/config"
)

type logKey struct{}

// Log returns the logger attached to ctx. Without one, a disabled logger is returned.
func Log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logKey{})
	if logger == nil {
		nop := zerolog.Nop()
		return &nop
	}

	return logger.(*zerolog.Logger)
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

type configKey struct{}

// WithConfig attaches the project configuration to the context. Task scripts can read it through config().
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFromCtx(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey{}).(*config.Config)
	return cfg
}
