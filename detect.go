package main

import (
	"context"
	"log/slog"
	"time"
)

// pageState classifies what the shared tab is currently showing.
type pageState int

const (
	stateIndeterminate pageState = iota
	stateReady
	stateLoginRequired
)

func (s pageState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateLoginRequired:
		return "login-required"
	}
	return "indeterminate"
}

// detectState races two bounded probes against the tab: one waiting for the
// ready marker, one for the login marker. Whichever resolves first wins.
// Both probes timing out means the page is unrecognized, which is fatal for
// the run.
func detectState(ctx context.Context, d driver, sel Selectors, bootstrap time.Duration) pageState {
	results := make(chan pageState, 2)
	probe := func(selector string, st pageState) {
		pctx, cancel := context.WithTimeout(ctx, bootstrap)
		defer cancel()
		if err := d.WaitVisible(pctx, selector); err != nil {
			slog.Debug("probe miss", "state", st.String(), "err", err)
			results <- stateIndeterminate
			return
		}
		results <- st
	}
	go probe(sel.ReadyMarker, stateReady)
	go probe(sel.LoginMarker, stateLoginRequired)

	for misses := 0; misses < 2; {
		if st := <-results; st != stateIndeterminate {
			return st
		}
		misses++
	}
	return stateIndeterminate
}

// awaitLogin clicks the login affordance (best effort) and then waits, under
// the much larger login budget, for the ready marker — a human may be walking
// through an external auth flow. On failure the cause is split into
// browser-closed versus plain timeout: the first means the operator walked
// away, the second that the console is merely slow, and logs must tell those
// apart.
func awaitLogin(ctx context.Context, d driver, sel Selectors, clickWait, loginWait time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, clickWait)
	if err := d.Click(cctx, sel.LoginButton); err != nil {
		slog.Debug("login affordance click", "err", err)
	}
	cancel()

	slog.Info("waiting for login", "budget", loginWait)
	wctx, wcancel := context.WithTimeout(ctx, loginWait)
	defer wcancel()
	if err := d.WaitVisible(wctx, sel.ReadyMarker); err != nil {
		if d.Closed() {
			return failKind(ErrKindBrowserClosed, "browser closed during login wait: %w", err)
		}
		return failKind(ErrKindLoginTimeout, "ready marker absent after %s: %w", loginWait, err)
	}
	return nil
}
