package main

import "context"

// driver is the surface the run controller uses to touch the shared tab.
// Session implements this. Tests can mock it.
type driver interface {
	// Navigate loads a URL in the shared tab and waits for the document to
	// be ready.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until the selector matches a visible element or
	// ctx expires.
	WaitVisible(ctx context.Context, sel string) error
	// Click clicks the first element matching the selector.
	Click(ctx context.Context, sel string) error
	// ListingNames returns the trimmed text of every listing-name cell
	// currently rendered.
	ListingNames(ctx context.Context, sel string) ([]string, error)
	// SupplyFile drives the upload affordance: opens the menu, clicks the
	// upload item, and answers the native file chooser with filePath. The
	// chooser listener is armed before the click.
	SupplyFile(ctx context.Context, menuSel, uploadSel, filePath string) error
	// Closed reports whether the tab or browser has gone away underneath us.
	Closed() bool
	// Detach drops the driver connection, leaving the browser running.
	Detach()
}

// UploadJob is one validated upload request, immutable after creation.
type UploadJob struct {
	SourceFilePath   string
	SourceFileName   string
	SourceFileSize   int64
	Category         string
	RawLabel         string
	SkipConfirmation bool
}

// confirmResult is the operator's answer from the confirmation form.
type confirmResult struct {
	Category   string `json:"category"`
	FolderName string `json:"folderName"`
}

// UploadOutcome is the single result record produced per UploadJob.
type UploadOutcome struct {
	Success          bool
	AlreadyExists    bool
	Cancelled        bool
	PublicURL        string
	FilePathOnTarget string
	Retried          bool
	ErrKind          ErrKind
}
