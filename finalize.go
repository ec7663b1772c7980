package main

import (
	"context"
	"errors"
	"log/slog"
)

// runFinalize is the batch-end run mode: close the shared tab and disconnect
// the driver, leaving the browser process alone. The session is an
// operator-owned resource this tool discovers, not creates — when nothing is
// listening there is nothing to finalize, and that is not an error (the batch
// may already be cleaned up, or the operator closed the browser by hand).
func runFinalize(ctx context.Context, profile *StorageProfile) error {
	s, err := acquireSession(ctx, profile, false)
	if errors.Is(err, errNoBrowser) {
		slog.Info("no browser listening, nothing to finalize", "port", profile.DebugPort)
		return nil
	}
	if err != nil {
		return err
	}
	defer s.Detach()

	if !profile.CloseTabAfterBatch {
		slog.Info("closeTabAfterBatch disabled, leaving tab open")
		return nil
	}
	if err := s.CloseTab(); err != nil {
		// The tab may already be gone; finalize stays best-effort.
		slog.Warn("close tab", "err", err)
	}
	return nil
}
