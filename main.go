package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// version is set by goreleaser via ldflags
var version = "dev"

func main() {
	setupLogging()

	var (
		provider string
		category string
		label    string
		skip     bool
	)

	root := &cobra.Command{
		Use:           "uplift",
		Short:         "Publish a local file into a web object-storage console by driving the browser",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&provider, "provider", "", "storage provider profile to use")

	uploadCmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload one file through the console UI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd.Context(), provider, args[0], category, label, skip)
		},
	}
	uploadCmd.Flags().StringVar(&category, "category", "", "target category (when the profile uses categories)")
	uploadCmd.Flags().StringVar(&label, "label", "", "pre-supplied folder label (skips the form prefill)")
	uploadCmd.Flags().BoolVar(&skip, "skip-confirmation", false, "upload without the confirmation form")
	root.AddCommand(uploadCmd)

	root.AddCommand(&cobra.Command{
		Use:   "finalize",
		Short: "Close the shared console tab after a batch, leaving the browser running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile(provider)
			if err != nil {
				return err
			}
			return runFinalize(cmd.Context(), profile)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective profile as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile(provider)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(profile, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		reportFailure(err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if os.Getenv("UPLIFT_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// buildJob validates process input into an immutable UploadJob. Everything
// here fails before any browser interaction.
func buildJob(profile *StorageProfile, filePath, category, label string, skip bool) (UploadJob, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return UploadJob{}, failKind(ErrKindInvalidInput, "resolve path %q: %w", filePath, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return UploadJob{}, failKind(ErrKindInvalidInput, "source file: %w", err)
	}
	if fi.IsDir() {
		return UploadJob{}, failKind(ErrKindInvalidInput, "source %q is a directory", abs)
	}

	job := UploadJob{
		SourceFilePath:   abs,
		SourceFileName:   fi.Name(),
		SourceFileSize:   fi.Size(),
		Category:         category,
		RawLabel:         label,
		SkipConfirmation: skip,
	}

	// Without the confirmation form nobody can fix the inputs interactively,
	// so they must be complete and parseable up front.
	if skip {
		if job.RawLabel == "" {
			return UploadJob{}, failKind(ErrKindInvalidInput, "--label is required with --skip-confirmation")
		}
		cat := job.Category
		if cat == "" {
			cat = detectCategory(profile, job.SourceFilePath)
		}
		if profile.UsesCategory && !validCategory(profile, cat) {
			return UploadJob{}, failKind(ErrKindInvalidInput, "category %q required by profile %q", cat, profile.ProviderKey)
		}
		if _, err := resolveTarget(cat, job.RawLabel); err != nil {
			return UploadJob{}, err
		}
	}
	return job, nil
}

func runUpload(ctx context.Context, provider, filePath, category, label string, skip bool) error {
	profile, err := loadProfile(provider)
	if err != nil {
		return err
	}
	job, err := buildJob(profile, filePath, category, label, skip)
	if err != nil {
		return err
	}

	slog.Debug("state", "state", stateConnectingBrowser.String())
	slog.Info("connecting to browser", "port", profile.DebugPort)
	session, err := acquireSession(ctx, profile, true)
	if err != nil {
		return err
	}
	defer session.Detach()
	slog.Debug("state", "state", stateSessionReady.String())

	ctrl := newController(profile, job, session)
	outcome, err := ctrl.Run(ctx)

	switch {
	case errors.Is(err, errConfirmCancelled):
		slog.Info("cancelled by operator")
		notifyWarning("Upload cancelled", job.SourceFileName)
		return nil
	case errors.Is(err, errConfirmTimeout):
		slog.Info("confirmation timed out")
		notifyWarning("Upload not confirmed", job.SourceFileName)
		return nil
	case err != nil:
		return err
	}

	if profile.AutoCloseTab {
		if cerr := session.CloseTab(); cerr != nil {
			slog.Warn("close tab", "err", cerr)
		}
	}

	reportSuccess(profile, job, outcome)
	return nil
}

// reportSuccess emits the single machine-parsable result line the calling
// process scrapes from stdout.
func reportSuccess(profile *StorageProfile, job UploadJob, outcome UploadOutcome) {
	if outcome.AlreadyExists {
		slog.Info("already exists", "file", job.SourceFileName)
	}
	fmt.Printf("RESULT provider=%s path=%s url=%s retried=%t\n",
		profile.ProviderKey, outcome.FilePathOnTarget, outcome.PublicURL, outcome.Retried)
	notifySuccess("Upload complete", outcome.PublicURL)
}

func reportFailure(err error) {
	kind := kindOf(err)
	if kind == ErrKindNone {
		kind = ErrKindInvalidInput
	}
	msg := err
	var re *runError
	if errors.As(err, &re) && re.err != nil {
		msg = re.err
	}
	fmt.Fprintf(os.Stderr, "ERROR:%s %v\n", kind.Token(), msg)
	switch kind {
	case ErrKindInvalidInput, ErrKindLabelFormat:
		// Input mistakes need no desktop alarm.
	default:
		notifyFailure("Upload failed", kind.Token())
	}
}
