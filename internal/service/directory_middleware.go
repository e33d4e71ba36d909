package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/lostfound/im-realtime-service/internal/domain/model"
)

// DirectoryMiddleware implements [DECORATOR_PATTERN] to add timing and
// outcome logging to directory lookups without touching the lookup logic.
type DirectoryMiddleware struct {
	Next   Directory
	Logger *slog.Logger
}

func NewDirectoryMiddleware(next Directory, logger *slog.Logger) Directory {
	return &DirectoryMiddleware{Next: next, Logger: logger}
}

func (m *DirectoryMiddleware) Lookup(ctx context.Context, username string) (*model.User, error) {
	start := time.Now()

	u, err := m.Next.Lookup(ctx, username)
	if err != nil && !errorsIsNotFound(err) {
		m.Logger.Warn("USER_LOOKUP_FAILED",
			"user", username,
			"err", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return u, err
}

func (m *DirectoryMiddleware) Resolve(ctx context.Context, usernames []string) (map[string]*model.User, error) {
	start := time.Now()

	out, err := m.Next.Resolve(ctx, usernames)

	// [OBSERVABILITY]
	duration := time.Since(start)
	if err != nil {
		m.Logger.Error("USER_RESOLVE_BATCH_FAILED",
			"err", err,
			"requested", len(usernames),
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		m.Logger.Debug("USER_RESOLVE_BATCH_COMPLETED",
			"requested", len(usernames),
			"resolved", len(out),
			"duration_ms", duration.Milliseconds(),
		)
	}
	return out, err
}
