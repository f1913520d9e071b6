package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <entry-id>",
	Short: "Undo a recorded operation",
	Long: `Undo a recorded operation. The ID may be a full entry ID or any unique
suffix of it, as shown by 'bulkops history'. Rolling back the aggregate
entry of a batch reverses every successful item of the batch.

The original entry is kept; a new rollback entry is recorded instead.`,
	Example: `  bulkops rollback 3f9c2a1e
  bulkops rollback 5b0c7d14-2f6e-4d7b-9a51-0e2c3f9c2a1e`,
	Args: cobra.ExactArgs(1),
	Run:  runRollback,
}

var retryCmd = &cobra.Command{
	Use:   "retry <batch-id>",
	Short: "Retry the failed items of a batch",
	Long: `Retry the failed items of a batch as a new batch linked to the original.
Prices and discounts are recomputed from the live values using the
recorded rule. Retrying a partially failed rollback rolls back its source
again, skipping items already reversed.`,
	Args: cobra.ExactArgs(1),
	Run:  runRetry,
}

var (
	rollbackJSON bool
	retryJSON    bool
)

func init() {
	rollbackCmd.Flags().BoolVar(&rollbackJSON, "json", false, "Print the result as JSON")
	retryCmd.Flags().BoolVar(&retryJSON, "json", false, "Print the result as JSON")
}

func runRollback(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	obs := progressObserver(os.Stderr)
	if rollbackJSON {
		obs = nil
	}
	res, err := c.Service.Rollback(ctx, args[0], obs)
	if err != nil {
		exitError("%s", describeError(err))
	}
	if rollbackJSON {
		printJSON(res)
		return
	}
	printRollbackResult(res)
	if !res.Success {
		c.Close()
		os.Exit(1)
	}
}

func runRetry(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	obs := progressObserver(os.Stderr)
	if retryJSON {
		obs = nil
	}
	out, err := c.Service.Retry(ctx, args[0], obs)
	if err != nil {
		exitError("%s", describeError(err))
	}
	if retryJSON {
		printJSON(out)
		return
	}

	switch {
	case out.Rollback != nil:
		printRollbackResult(out.Rollback)
	case out.Batch != nil:
		color.New(color.FgCyan).Printf("Retry of %s\n", args[0])
		printBatchOutcome(out.Batch)
	default:
		fmt.Println("Nothing retried")
	}
}
