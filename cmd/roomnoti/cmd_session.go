package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/backend"
	"github.com/roomcrew/roomnoti/internal/session"
)

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout()*2)
	defer cancel()

	token := loginToken
	if token == "" {
		var err error
		token, err = promptToken()
		if err != nil {
			return err
		}
	}

	gate, _ := newGate(cfg, logger)
	if err := gate.Login(ctx, token); err != nil {
		if backend.IsAuthError(err) {
			return fmt.Errorf("the backend rejected this token: %w", err)
		}
		return fmt.Errorf("login failed: %w", err)
	}

	member := gate.Member()
	logger.Info("signed in", zap.Int64("member_id", member.ID))
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", member.Nickname)
	return nil
}

// promptToken asks for the token without echoing it.
func promptToken() (string, error) {
	var token string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Access token").
				Description("Copy it from the community web app's account settings.").
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("token is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", errors.New("login canceled")
		}
		return "", fmt.Errorf("reading token: %w", err)
	}
	return token, nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout())
	defer cancel()

	gate, _ := newGate(cfg, logger)

	// Best effort: learn who was signed in so their cached inbox goes too.
	if err := gate.Check(ctx); err != nil && !errors.Is(err, session.ErrNoToken) {
		logger.Debug("session check before logout failed", zap.Error(err))
	}
	memberID := gate.Member().ID

	if err := gate.Logout(); err != nil {
		return err
	}
	if err := clearCache(cfg, memberID); err != nil {
		logger.Warn("clearing cached inbox failed", zap.Error(err))
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout()*2)
	defer cancel()

	gate, client := newGate(cfg, logger)
	out := cmd.OutOrStdout()

	err := gate.Check(ctx)
	switch {
	case errors.Is(err, session.ErrNoToken):
		fmt.Fprintln(out, "Not signed in. Run 'roomnoti login'.")
		return nil
	case errors.Is(err, session.ErrExpired), backend.IsAuthError(err):
		fmt.Fprintln(out, "Session expired. Run 'roomnoti login'.")
		return nil
	case err != nil:
		return fmt.Errorf("checking session: %w", err)
	}

	member := gate.Member()
	unread, err := client.UnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("fetching unread count: %w", err)
	}

	fmt.Fprintf(out, "Signed in as %s (member %d)\n", member.Nickname, member.ID)
	fmt.Fprintf(out, "Backend:     %s\n", client.BaseURL())
	fmt.Fprintf(out, "Unread:      %d\n", unread)
	return nil
}
