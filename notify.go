package main

import (
	"log/slog"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"
)

// Desktop notifications and clipboard writes are cosmetic side channels:
// every failure here is logged and swallowed, never load-bearing.

func notifySuccess(title, message string) {
	if err := beeep.Notify(title, message, ""); err != nil {
		slog.Warn("notify", "err", err)
	}
}

func notifyWarning(title, message string) {
	if err := beeep.Notify(title, message, ""); err != nil {
		slog.Warn("notify", "err", err)
	}
}

func notifyFailure(title, message string) {
	if err := beeep.Alert(title, message, ""); err != nil {
		slog.Warn("notify", "err", err)
	}
}

func copyToClipboard(text string) {
	if err := clipboard.WriteAll(text); err != nil {
		slog.Warn("clipboard write", "err", err)
	}
}
