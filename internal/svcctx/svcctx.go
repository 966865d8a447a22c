// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/blingtien/rag-system-sub000/internal/config"
	"github.com/blingtien/rag-system-sub000/internal/coordinator"
	"github.com/blingtien/rag-system-sub000/internal/home"
	"github.com/blingtien/rag-system-sub000/internal/progress"
	"github.com/blingtien/rag-system-sub000/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Coordinator   *coordinator.Coordinator
	Store         *store.Store
	Sink          *store.Sink
	Hub           *progress.Hub
	ConfigManager *config.Manager
	Logger        *slog.Logger
	Home          *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// CoordinatorFrom extracts the batch coordinator from context.
func CoordinatorFrom(ctx context.Context) *coordinator.Coordinator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Coordinator
	}
	return nil
}

// StoreFrom extracts the batch history store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// SinkFrom extracts the write-behind sink from context.
func SinkFrom(ctx context.Context) *store.Sink {
	if s := ServicesFrom(ctx); s != nil {
		return s.Sink
	}
	return nil
}

// HubFrom extracts the progress hub from context.
func HubFrom(ctx context.Context) *progress.Hub {
	if s := ServicesFrom(ctx); s != nil {
		return s.Hub
	}
	return nil
}

// ConfigManagerFrom extracts the config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigManager
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
