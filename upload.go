package main

import (
	"context"
	"log/slog"
	"strings"
)

// fileAlreadyPresent scans the rendered listing for an exact (trimmed) name
// match. The console has no atomic "upload if absent" primitive, so this scan
// runs before every attempt — including the retry — and is never cached
// across the retry delay.
func fileAlreadyPresent(ctx context.Context, d driver, sel Selectors, fileName string) (bool, error) {
	names, err := d.ListingNames(ctx, sel.ListingName)
	if err != nil {
		return false, err
	}
	want := strings.TrimSpace(fileName)
	for _, n := range names {
		if n == want {
			return true, nil
		}
	}
	return false, nil
}

// attemptUpload drives one UI upload interaction. Success means the
// interaction completed without error; verifying that the file actually
// landed is the caller's job via the existence check. Failures are returned,
// not propagated — the run controller owns the retry decision.
func attemptUpload(ctx context.Context, d driver, sel Selectors, job UploadJob) error {
	slog.Info("uploading", "file", job.SourceFileName, "size", job.SourceFileSize)
	return d.SupplyFile(ctx, sel.MenuButton, sel.UploadButton, job.SourceFilePath)
}
