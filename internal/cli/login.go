package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/veylan/armory/internal/auth"
	"github.com/veylan/armory/internal/control"
)

var loginCmd = &cobra.Command{
	Use:   "login <authorization-code>",
	Short: "Redeem an authorization code and store the session",
	Args:  cobra.ExactArgs(1),
	Run:   runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	log := setupLogging(cfg)

	store, closeStore, err := control.NewStore(cfg.Store)
	if err != nil {
		log.Error("Failed to init credential store", "error", err)
		os.Exit(1)
	}
	defer closeQuiet(closeStore)

	manager := auth.NewManager(cfg.OAuth, store, nil, log, nil)
	state, err := manager.ExchangeCode(context.Background(), args[0])
	if err != nil {
		log.Error("Login failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Logged in as account %s (token valid until %s)\n",
		state.AccountID, state.ExpiresAt.Format("2006-01-02 15:04:05"))
}

func closeQuiet(closer func() error) {
	if closer == nil {
		return
	}
	if err := closer(); err != nil {
		slog.Warn("Failed to close credential store", "error", err)
	}
}
