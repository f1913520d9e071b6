package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/storeops/bulkops/internal/config"
	"github.com/storeops/bulkops/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new bulkops project",
	Long: `Initialize a new bulkops project in the current directory.
This creates a .bulkops directory holding the configuration and the
operation history.

The Admin API access token is never written to the config. Set
SHOPIFY_ACCESS_TOKEN in the environment or in a .env file next to
the .bulkops directory.`,
	Example: `  bulkops init --shop example.myshopify.com
  bulkops init --shop example --backend sqlite`,
	Run: runInit,
}

var (
	initShop    string
	initBackend string
)

func init() {
	initCmd.Flags().StringVar(&initShop, "shop", os.Getenv("SHOPIFY_SHOP_DOMAIN"), "Shop domain (example.myshopify.com)")
	initCmd.Flags().StringVar(&initBackend, "backend", store.BackendBolt, "History backend (bbolt|sqlite)")
}

func runInit(cmd *cobra.Command, args []string) {
	if root, err := config.FindRoot(); err == nil {
		exitError("bulkops project already exists at %s", root)
	}
	if initShop == "" {
		exitError("--shop is required")
	}

	dir, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}

	cfg, err := config.Initialize(dir, initShop)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	if initBackend != cfg.HistoryBackend {
		cfg.HistoryBackend = initBackend
		if err := cfg.Validate(); err != nil {
			os.RemoveAll(cfg.Path())
			exitError("%v", err)
		}
		if err := cfg.Save(); err != nil {
			os.RemoveAll(cfg.Path())
			exitError("failed to save config: %v", err)
		}
	}

	// Create the history database up front so permission problems surface now.
	backend, err := store.Open(cfg.HistoryBackend, cfg.HistoryPath())
	if err != nil {
		os.RemoveAll(cfg.Path())
		exitError("failed to create history: %v", err)
	}
	backend.Close()

	fmt.Printf("Initialized bulkops project in %s/\n", config.Dir)
	fmt.Printf("Shop: %s\n", cfg.ShopDomain)
	fmt.Printf("History: %s (%s)\n", cfg.HistoryPath(), cfg.HistoryBackend)
	fmt.Printf("\nSet %s before running operations.\n", config.EnvAccessToken)
}
