package intake

import (
	"context"
	"fmt"
	"os"
	"time"
)

// WaitStable blocks until the file at path keeps the same size and
// modification time across one full poll interval, indicating its writer
// has finished. It returns ErrIncompleteWrite when the file is still
// changing at the timeout, and the underlying error when the file
// disappears or cannot be observed.
//
// This is the filesystem analogue of a debounced change watcher: a write
// resets the quiet period, and only a full quiet interval lets the file
// through.
func WaitStable(ctx context.Context, path string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	prev, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("intake: stat %s: %w", path, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cur, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("intake: stat %s: %w", path, err)
		}

		if cur.Size() == prev.Size() && cur.ModTime().Equal(prev.ModTime()) {
			return nil
		}
		prev = cur

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s still changing after %s", ErrIncompleteWrite, path, timeout)
		}
	}
}
