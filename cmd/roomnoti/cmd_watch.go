package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/session"
	appsync "github.com/roomcrew/roomnoti/internal/sync"
)

// runWatch drives the syncer without a terminal UI, logging what it reports.
func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt := buildRuntime(cfg, logger)
	defer rt.Close()

	next := rt.syncer.Start(ctx)

	checkCtx, checkCancel := context.WithTimeout(ctx, cfg.RequestTimeout()*2)
	err := rt.gate.Check(checkCtx)
	checkCancel()
	switch {
	case errors.Is(err, session.ErrNoToken):
		logger.Warn("not signed in; run 'roomnoti login' first")
		return nil
	case err != nil:
		return err
	}

	// Stop unblocks the pending wait once the signal arrives.
	go func() {
		<-ctx.Done()
		rt.syncer.Stop()
	}()

	for next != nil {
		msg := next()
		if msg == nil {
			break
		}
		logMsg(msg)
		next = rt.syncer.WaitForNextResult()
	}

	logger.Info("watch stopped")
	return nil
}

// seen tracks ids already reported so only arrivals are logged as new.
var seen = map[int64]struct{}{}

func logMsg(msg tea.Msg) {
	switch msg := msg.(type) {
	case appsync.SessionMsg:
		logger.Info("session changed",
			zap.Bool("authenticated", msg.Authenticated),
			zap.String("member", msg.Member.Nickname),
		)
	case appsync.ChannelStateMsg:
		fields := []zap.Field{zap.Stringer("state", msg.State)}
		if msg.Err != nil {
			fields = append(fields, zap.Error(msg.Err))
		}
		logger.Info("live channel", fields...)
	case appsync.StoreChangedMsg:
		for _, n := range msg.Items {
			if _, ok := seen[n.ID]; ok {
				continue
			}
			seen[n.ID] = struct{}{}
			logger.Info("notification",
				zap.Int64("id", n.ID),
				zap.String("category", string(n.Category)),
				zap.String("title", n.Title),
				zap.Bool("read", n.Read),
			)
		}
		logger.Info("inbox", zap.Int("items", len(msg.Items)), zap.Int("unread", msg.Unread))
	case appsync.ErrorMsg:
		logger.Warn("background error", zap.String("op", msg.Op), zap.Error(msg.Err))
	}
}
