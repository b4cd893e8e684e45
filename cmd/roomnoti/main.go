package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/logging"
	"github.com/roomcrew/roomnoti/internal/model"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded in PersistentPreRunE.
	cfg    *model.AppConfig
	logger *zap.Logger
)

// rootCmd starts the terminal inbox.
var rootCmd = &cobra.Command{
	Use:   "roomnoti",
	Short: "Escape-room community notifications in your terminal",
	Long: `roomnoti shows your community notifications and keeps them current
over a live connection to the backend.

Run without arguments to open the inbox. Sign in first with 'roomnoti login'.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runInbox,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an access token and confirm it with the backend",
	Long: `Prompts for the access token issued by the community web app (or takes
it from --token) and keeps it in the system keyring.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token and the cached inbox",
	RunE:  runLogout,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow notifications without the terminal UI",
	Long: `Keeps the live connection open and logs every inbox change, channel
state transition, and error until interrupted.`,
	RunE: runWatch,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the signed-in member and unread count",
	RunE:  runStatus,
}

var loginToken string

func init() {
	// Set here rather than in the literal: the hook compares against rootCmd.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = model.LoadConfig(configPath)
		if err != nil {
			return err
		}

		// The inbox owns the terminal, so it only logs to the file.
		logger, err = logging.New(logging.Options{
			FilePath: cfg.Log.Path,
			Stderr:   cmd != rootCmd,
			Verbose:  verbose,
		})
		return err
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	loginCmd.Flags().StringVar(&loginToken, "token", "", "Access token (prompted for when omitted)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
