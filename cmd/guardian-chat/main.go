// Command guardian-chat runs a guardian session in the terminal. The monitor
// runs in process with the same configuration as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ent0n29/guardian/internal/app"
	"github.com/ent0n29/guardian/internal/config"
	"github.com/ent0n29/guardian/internal/escalation"
	"github.com/ent0n29/guardian/internal/observability"
)

func main() {
	var (
		logPath   string
		userID    string
		mode      string
		altScreen bool
	)
	flag.StringVar(&logPath, "log", "", "write structured logs to this file (default: discard)")
	flag.StringVar(&userID, "user-id", "terminal", "user_id recorded for the session")
	flag.StringVar(&mode, "mode", "", "escalation mode: assistive or autonomous (default from GUARDIAN_DEFAULT_MODE)")
	flag.BoolVar(&altScreen, "alt-screen", true, "use the terminal's alternate screen")
	flag.Parse()

	if err := run(logPath, userID, mode, altScreen); err != nil {
		fmt.Fprintf(os.Stderr, "guardian-chat: %v\n", err)
		os.Exit(1)
	}
}

func run(logPath, userID, rawMode string, altScreen bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if rawMode != "" {
		if cfg.DefaultMode, err = escalation.ParseMode(rawMode); err != nil {
			return err
		}
	}

	var logOut io.Writer = io.Discard
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := observability.NewLogger(logOut, cfg.LogLevel, "text")

	ctx := context.Background()
	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = built.Cleanup() }()

	sess, err := built.Monitor.StartSession(userID, cfg.DefaultMode)
	if err != nil {
		return err
	}
	defer func() { _, _ = built.Monitor.EndSession(sess.ID) }()

	m := newModel(ctx, built.Monitor, sess.ID, sess.Mode, built.Profile.DisplayName())
	opts := []tea.ProgramOption{}
	if altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	_, err = tea.NewProgram(m, opts...).Run()
	return err
}
