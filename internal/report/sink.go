package report

import (
	"bytes"
	"context"
	"fmt"

	"github.com/JakeFAU/docmirror/internal/app"
	"github.com/JakeFAU/docmirror/internal/storage/local"
)

// FileSink returns a sink that replaces the Markdown report at path after
// every run.
func FileSink(path string) app.Sink {
	return app.SinkFunc("report", func(ctx context.Context, out app.Outcome) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := Write(&buf, out.Summary); err != nil {
			return err
		}
		if _, err := local.WriteFileAtomic(path, &buf, 0o644); err != nil {
			return fmt.Errorf("write report %s: %w", path, err)
		}
		return nil
	})
}
