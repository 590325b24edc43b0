package app

import (
	"context"

	"github.com/JakeFAU/docmirror/internal/crawler"
)

// Outcome is handed to every sink after the snapshot was saved.
type Outcome struct {
	Summary  Summary
	Snapshot crawler.Snapshot
}

// Sink consumes a finished run: reports, archives, notifications.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, out Outcome) error
}

type sinkFunc struct {
	name string
	fn   func(context.Context, Outcome) error
}

// SinkFunc adapts fn into a named Sink.
func SinkFunc(name string, fn func(context.Context, Outcome) error) Sink {
	return sinkFunc{name: name, fn: fn}
}

func (s sinkFunc) Name() string { return s.name }

func (s sinkFunc) Deliver(ctx context.Context, out Outcome) error { return s.fn(ctx, out) }
