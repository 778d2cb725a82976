package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/veylan/armory/internal/control"
	"github.com/veylan/armory/internal/platform"
)

var getNoAuth bool

var getCmd = &cobra.Command{
	Use:   "get <endpoint>",
	Short: "Issue a single GET against the platform API",
	Long:  `Issues one paced, authenticated GET through the full client stack and prints the response payload. Useful for poking endpoints and verifying the stored session.`,
	Args:  cobra.ExactArgs(1),
	Run:   runGet,
}

func init() {
	getCmd.Flags().BoolVar(&getNoAuth, "no-auth", false, "send without an Authorization header")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	log := setupLogging(cfg)

	app, err := control.New(cfg, log)
	if err != nil {
		log.Error("Failed to initialize client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start client", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	payload, err := app.Client.Do(ctx, platform.Request{
		Endpoint:     args[0],
		Method:       http.MethodGet,
		RequiresAuth: !getNoAuth,
		AllowRetry:   true,
	})
	if err != nil {
		log.Error("Request failed", "endpoint", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Println(string(payload))
}
