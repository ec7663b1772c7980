package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// runState enumerates the phases of one upload run.
type runState int

const (
	stateInit runState = iota
	stateConnectingBrowser
	stateSessionReady
	stateAwaitingConfirmation
	stateValidatingLabel
	stateNavigating
	stateDetectingState
	stateAwaitingLogin
	stateInterfaceReady
	stateCheckingExistence
	stateUploading
	stateRetryingOnce
	stateCleanup
)

func (s runState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateConnectingBrowser:
		return "connecting-browser"
	case stateSessionReady:
		return "session-ready"
	case stateAwaitingConfirmation:
		return "awaiting-confirmation"
	case stateValidatingLabel:
		return "validating-label"
	case stateNavigating:
		return "navigating"
	case stateDetectingState:
		return "detecting-state"
	case stateAwaitingLogin:
		return "awaiting-login"
	case stateInterfaceReady:
		return "interface-ready"
	case stateCheckingExistence:
		return "checking-existence"
	case stateUploading:
		return "uploading"
	case stateRetryingOnce:
		return "retrying-once"
	case stateCleanup:
		return "cleanup"
	}
	return "unknown"
}

type confirmFunc func(ctx context.Context, d driver, p *StorageProfile, j UploadJob) (confirmResult, error)

// Controller owns the end-to-end run: the state machine, the global deadline,
// and the translation of internal failures into one UploadOutcome.
type Controller struct {
	profile *StorageProfile
	job     UploadJob
	drv     driver

	// Injection points for tests.
	confirm confirmFunc
	sleep   func(time.Duration)

	state runState
}

func newController(profile *StorageProfile, job UploadJob, drv driver) *Controller {
	return &Controller{
		profile: profile,
		job:     job,
		drv:     drv,
		confirm: requestConfirmation,
		sleep:   time.Sleep,
	}
}

func (c *Controller) setState(s runState) {
	c.state = s
	slog.Debug("state", "state", s.String())
}

// Run executes the upload state machine against an already-acquired session.
// The global deadline wraps everything except the confirmation wait and the
// login wait, which carry their own, larger budgets: the deadline clock only
// starts once the confirmation resolves and is restarted after a login wait,
// so neither human step consumes the automation budget.
func (c *Controller) Run(ctx context.Context) (UploadOutcome, error) {
	var outcome UploadOutcome

	var dctx context.Context
	dcancel := func() {}
	defer func() { dcancel() }()
	resetDeadline := func() {
		dcancel()
		dctx, dcancel = context.WithTimeout(ctx, c.profile.GlobalDeadline())
	}

	fail := func(err error) (UploadOutcome, error) {
		expired := dctx != nil && dctx.Err() != nil
		switch {
		case expired && (errors.Is(err, context.DeadlineExceeded) || kindOf(err) == ErrKindNone):
			err = wrapKind(ErrKindRunTimeout, err)
		case kindOf(err) == ErrKindNone:
			err = wrapKind(ErrKindUploadFailed, err)
		}
		outcome.ErrKind = kindOf(err)
		return outcome, err
	}

	category := c.job.Category
	label := c.job.RawLabel

	if !c.job.SkipConfirmation {
		c.setState(stateAwaitingConfirmation)
		// The confirmation wait runs under its own budget, outside the
		// global deadline: ctx, not dctx.
		res, err := c.confirm(ctx, c.drv, c.profile, c.job)
		switch {
		case errors.Is(err, errConfirmCancelled):
			outcome.Cancelled = true
			return outcome, errConfirmCancelled
		case errors.Is(err, errConfirmTimeout):
			outcome.Cancelled = true
			return outcome, errConfirmTimeout
		case err != nil:
			return fail(err)
		}
		if res.Category != "" {
			category = res.Category
		}
		label = res.FolderName
	}
	resetDeadline()

	c.setState(stateValidatingLabel)
	if category == "" {
		category = detectCategory(c.profile, c.job.SourceFilePath)
	}
	if c.profile.UsesCategory && !validCategory(c.profile, category) {
		return fail(failKind(ErrKindInvalidInput, "category %q not in profile %q", category, c.profile.ProviderKey))
	}
	if !c.profile.UsesCategory {
		category = ""
	}
	tpath, err := resolveTarget(category, label)
	if err != nil {
		return fail(err)
	}
	rel := tpath.Rel()

	c.setState(stateNavigating)
	navCtx, navCancel := context.WithTimeout(dctx, c.profile.NavigateTimeout())
	err = c.drv.Navigate(navCtx, c.profile.consoleURL(rel))
	navCancel()
	if err != nil {
		return fail(wrapKind(ErrKindConnect, err))
	}

	c.setState(stateDetectingState)
	switch detectState(dctx, c.drv, c.profile.Selectors, c.profile.BootstrapWait()) {
	case stateLoginRequired:
		c.setState(stateAwaitingLogin)
		// Human auth flow: own budget, outside the global deadline.
		if err := awaitLogin(ctx, c.drv, c.profile.Selectors, c.profile.BootstrapWait(), c.profile.LoginWait()); err != nil {
			return fail(err)
		}
		resetDeadline()
	case stateIndeterminate:
		if c.drv.Closed() {
			return fail(failKind(ErrKindBrowserClosed, "tab closed while detecting console state"))
		}
		return fail(failKind(ErrKindUploadUITimeout, "neither ready nor login marker appeared within %s", c.profile.BootstrapWait()))
	}
	c.setState(stateInterfaceReady)

	c.setState(stateCheckingExistence)
	exists, err := fileAlreadyPresent(dctx, c.drv, c.profile.Selectors, c.job.SourceFileName)
	if err != nil {
		return fail(wrapKind(ErrKindUploadUITimeout, err))
	}
	if exists {
		slog.Info("file already exists, skipping upload", "file", c.job.SourceFileName, "path", rel)
		outcome.AlreadyExists = true
		outcome.Success = true
		c.finishSuccess(&outcome, rel)
		return outcome, nil
	}

	c.setState(stateUploading)
	attemptErr := attemptUpload(dctx, c.drv, c.profile.Selectors, c.job)
	if attemptErr != nil {
		slog.Warn("upload attempt failed", "err", attemptErr)
	}

	// Verify via the listing, then retry at most once. The existence check is
	// re-run fresh after the delay — a slow render can make a "failed"
	// attempt turn out to have succeeded, in which case retrying would
	// duplicate the object.
	c.sleep(c.profile.RetryDelay())
	exists, err = fileAlreadyPresent(dctx, c.drv, c.profile.Selectors, c.job.SourceFileName)
	if err != nil {
		return fail(wrapKind(ErrKindUploadUITimeout, err))
	}
	if !exists {
		c.setState(stateRetryingOnce)
		outcome.Retried = true
		if err := attemptUpload(dctx, c.drv, c.profile.Selectors, c.job); err != nil {
			return fail(wrapKind(ErrKindUploadFailed, err))
		}
	} else if attemptErr != nil {
		slog.Info("file appeared despite reported failure, not retrying")
	}

	outcome.Success = true
	c.finishSuccess(&outcome, rel)
	return outcome, nil
}

func (c *Controller) finishSuccess(outcome *UploadOutcome, rel string) {
	c.setState(stateCleanup)
	outcome.FilePathOnTarget = rel + "/" + c.job.SourceFileName
	outcome.PublicURL = c.profile.publicURL(rel, c.job.SourceFileName)
	copyToClipboard(outcome.FilePathOnTarget)
}
