package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const targetTypePage = "page"

// errNoBrowser signals that nothing is listening on the debug port. In
// finalize mode this is a clean no-op, not an error.
var errNoBrowser = errors.New("no browser listening on debug port")

// Session owns the driver connection and exactly one shared tab. The browser
// process and its profile directory are operator-owned: Detach drops our
// connection and never terminates the browser.
type Session struct {
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabCtx        context.Context
	tabCancel     context.CancelFunc
	tabID         target.ID
	launched      bool
}

// acquireSession connects to the remote-debugging endpoint described by the
// profile. A refused connection means no browser is listening: when launch is
// true the browser is spawned with the right flags and the connection retried
// exactly once after a startup delay. Any other connection error is fatal.
func acquireSession(ctx context.Context, profile *StorageProfile, launch bool) (*Session, error) {
	wsURL, err := debugWebSocketURL(ctx, profile.DebugPort)
	launched := false
	if err != nil {
		if !isConnRefused(err) {
			return nil, wrapKind(ErrKindConnect, err)
		}
		if !launch {
			return nil, errNoBrowser
		}
		if err := launchBrowser(profile); err != nil {
			return nil, wrapKind(ErrKindConnect, err)
		}
		launched = true
		slog.Info("browser launched, waiting for debug port",
			"port", profile.DebugPort, "delay", profile.BrowserStartDelay())
		select {
		case <-time.After(profile.BrowserStartDelay()):
		case <-ctx.Done():
			return nil, wrapKind(ErrKindConnect, ctx.Err())
		}
		wsURL, err = debugWebSocketURL(ctx, profile.DebugPort)
		if err != nil {
			return nil, wrapKind(ErrKindConnect, fmt.Errorf("after launch: %w", err))
		}
	}

	s := &Session{launched: launched}
	s.allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(context.Background(), wsURL, chromedp.NoModifyURL)
	s.browserCtx, s.browserCancel = chromedp.NewContext(s.allocCtx)

	if err := s.attachSharedTab(); err != nil {
		s.Detach()
		return nil, wrapKind(ErrKindConnect, err)
	}
	s.autoDismissDialogs()
	return s, nil
}

// attachSharedTab attaches to the first existing page target, or creates one
// when the browser has no pages at all.
func (s *Session) attachSharedTab() error {
	infos, err := chromedp.Targets(s.browserCtx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	var first *target.Info
	for _, t := range infos {
		if t.Type == targetTypePage {
			first = t
			break
		}
	}

	if first != nil {
		s.tabCtx, s.tabCancel = chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(first.TargetID))
	} else {
		s.tabCtx, s.tabCancel = chromedp.NewContext(s.browserCtx)
	}
	if err := chromedp.Run(s.tabCtx); err != nil {
		return fmt.Errorf("attach tab: %w", err)
	}
	s.tabID = chromedp.FromContext(s.tabCtx).Target.TargetID
	slog.Info("shared tab acquired", "id", string(s.tabID), "existing", first != nil)
	return nil
}

// autoDismissDialogs installs a standing listener that accepts any JS dialog
// (confirm/alert) the console raises for the lifetime of the run.
func (s *Session) autoDismissDialogs() {
	chromedp.ListenTarget(s.tabCtx, func(ev any) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); !ok {
			return
		}
		go func() {
			if err := chromedp.Run(s.tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
				slog.Debug("dialog dismiss", "err", err)
			}
		}()
	})
}

// run executes chromedp actions against the shared tab, honoring the caller's
// deadline without tearing down the tab context itself.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(tctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate uses raw CDP navigate + WaitReady instead of chromedp.Navigate,
// which waits for the full load event (never fires on SPA consoles).
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx,
		chromedp.ActionFunc(func(cctx context.Context) error {
			_, _, errText, err := page.Navigate(url).Do(cctx)
			if err != nil {
				return err
			}
			if errText != "" {
				return fmt.Errorf("navigate: %s", errText)
			}
			return nil
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *Session) WaitVisible(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

func (s *Session) Click(ctx context.Context, sel string) error {
	return s.run(ctx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
}

// ListingNames collects the trimmed text of every rendered listing-name cell.
func (s *Session) ListingNames(ctx context.Context, sel string) ([]string, error) {
	js := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(el => (el.textContent || "").trim())`, sel)
	var names []string
	if err := s.run(ctx, chromedp.Evaluate(js, &names)); err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	return names, nil
}

// SupplyFile drives the UI upload affordance. The file-chooser listener is
// armed before the click that opens it; the two join on chooserDone.
func (s *Session) SupplyFile(ctx context.Context, menuSel, uploadSel, filePath string) error {
	chooserDone := make(chan error, 1)
	lctx, lcancel := context.WithCancel(s.tabCtx)
	defer lcancel()
	chromedp.ListenTarget(lctx, func(ev any) {
		e, ok := ev.(*page.EventFileChooserOpened)
		if !ok {
			return
		}
		go func() {
			chooserDone <- chromedp.Run(s.tabCtx, chromedp.ActionFunc(func(cctx context.Context) error {
				return dom.SetFileInputFiles([]string{filePath}).
					WithBackendNodeID(e.BackendNodeID).
					Do(cctx)
			}))
		}()
	})

	if err := s.run(ctx, page.SetInterceptFileChooserDialog(true)); err != nil {
		return fmt.Errorf("intercept file chooser: %w", err)
	}
	defer func() {
		_ = chromedp.Run(s.tabCtx, page.SetInterceptFileChooserDialog(false))
	}()

	if err := s.run(ctx,
		chromedp.WaitVisible(menuSel, chromedp.ByQuery),
		chromedp.Click(menuSel, chromedp.ByQuery),
		chromedp.WaitVisible(uploadSel, chromedp.ByQuery),
		chromedp.Click(uploadSel, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("upload affordance: %w", err)
	}

	select {
	case err := <-chooserDone:
		if err != nil {
			return fmt.Errorf("set input files: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("file chooser never opened: %w", ctx.Err())
	}
}

func (s *Session) Closed() bool {
	return s.tabCtx == nil || s.tabCtx.Err() != nil
}

// CloseTab closes the shared tab without touching the browser process.
func (s *Session) CloseTab() error {
	closeCtx, closeCancel := context.WithTimeout(s.browserCtx, 5*time.Second)
	defer closeCancel()
	if err := target.CloseTarget(s.tabID).Do(cdp.WithExecutor(closeCtx, chromedp.FromContext(closeCtx).Browser)); err != nil {
		return fmt.Errorf("close target %s: %w", string(s.tabID), err)
	}
	return nil
}

// Detach disconnects the driver. The browser process stays up so later jobs
// and the operator keep the warm, authenticated session.
func (s *Session) Detach() {
	if s.tabCancel != nil {
		s.tabCancel()
	}
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// debugWebSocketURL probes the debug port's /json/version endpoint for the
// browser-level websocket URL.
func debugWebSocketURL(ctx context.Context, port int) (string, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode %s: %w", url, err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl at %s", url)
	}
	return info.WebSocketDebuggerURL, nil
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// launchBrowser spawns the browser bound to loopback with remote debugging
// enabled. The process is detached on purpose: it outlives this run.
func launchBrowser(profile *StorageProfile) error {
	bin, err := browserBinary(profile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(profile.UserDataDir, 0o755); err != nil {
		return fmt.Errorf("create user data dir: %w", err)
	}
	clearStaleLocks(profile.UserDataDir)
	markCleanExit(profile.UserDataDir)

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", profile.DebugPort),
		"--remote-debugging-address=127.0.0.1",
		"--user-data-dir=" + profile.UserDataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-session-crashed-bubble",
		"--hide-crash-restore-bubble",
		"--disable-popup-blocking",
	}
	cmd := exec.Command(bin, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start browser %s: %w", bin, err)
	}
	slog.Info("spawned browser", "bin", bin, "pid", cmd.Process.Pid, "port", profile.DebugPort)
	return cmd.Process.Release()
}

func browserBinary(profile *StorageProfile) (string, error) {
	if profile.BrowserBin != "" {
		return profile.BrowserBin, nil
	}
	candidates := []string{
		"google-chrome", "google-chrome-stable", "chromium", "chromium-browser",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, c := range candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no browser binary found, set UPLIFT_BROWSER_BIN")
}

// clearStaleLocks removes singleton locks left behind by an unclean exit so a
// relaunch against the same profile directory does not stall.
func clearStaleLocks(userDataDir string) {
	for _, lockName := range []string{"SingletonLock", "SingletonSocket", "SingletonCookie"} {
		lockPath := filepath.Join(userDataDir, lockName)
		if err := os.Remove(lockPath); err == nil {
			slog.Warn("removed stale lock", "file", lockName)
		}
	}
}

// markCleanExit patches the browser's Preferences to suppress the "didn't
// shut down correctly" restore bubble, which steals focus over the console.
func markCleanExit(userDataDir string) {
	prefsPath := filepath.Join(userDataDir, "Default", "Preferences")
	data, err := os.ReadFile(prefsPath)
	if err != nil {
		return
	}
	patched := strings.ReplaceAll(string(data), `"exit_type":"Crashed"`, `"exit_type":"Normal"`)
	patched = strings.ReplaceAll(patched, `"exited_cleanly":false`, `"exited_cleanly":true`)
	if patched != string(data) {
		if err := os.WriteFile(prefsPath, []byte(patched), 0o644); err != nil {
			slog.Warn("patch preferences", "err", err)
		}
	}
}
