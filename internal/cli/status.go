package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/veylan/armory/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session state",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	log := setupLogging(cfg)

	store, closeStore, err := control.NewStore(cfg.Store)
	if err != nil {
		log.Error("Failed to init credential store", "error", err)
		os.Exit(1)
	}
	defer closeQuiet(closeStore)

	state, err := store.Load(context.Background())
	if err != nil {
		log.Error("Failed to load credentials", "error", err)
		os.Exit(1)
	}
	if state == nil {
		fmt.Println("Not logged in.")
		return
	}

	expiresIn := time.Until(state.ExpiresAt).Round(time.Second)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Account\t%s\n", state.AccountID)
	fmt.Fprintf(w, "Token expires\t%s (%s)\n", state.ExpiresAt.Format(time.RFC3339), expiresIn)
	fmt.Fprintf(w, "Refresh token\t%s\n", presence(state.RefreshToken))
	_ = w.Flush()
}

func presence(s string) string {
	if s == "" {
		return "absent"
	}
	return "present"
}
