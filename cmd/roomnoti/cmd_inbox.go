package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/app"
)

// runInbox opens the terminal inbox.
func runInbox(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	rt := buildRuntime(cfg, logger)
	defer rt.Close()

	root := app.New(ctx, app.Deps{
		Syncer:  rt.syncer,
		Inbox:   rt.controller,
		Session: rt.gate,
		Channel: rt.channel,
	})

	logger.Info("starting inbox", zap.String("backend", rt.client.BaseURL()))
	if _, err := tea.NewProgram(root, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("running inbox: %w", err)
	}
	return nil
}
