package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithClient scopes the context logger to one client id so every store write
// and repair for that client carries it.
func WithClient(ctx context.Context, clientID string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("client_id", clientID))
}

// WithRun scopes the context logger to one audit run.
func WithRun(ctx context.Context, runID string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("run_id", runID))
}
