package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/storeops/bulkops/internal/remote"
)

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Single product edits",
}

var productUpdateCmd = &cobra.Command{
	Use:   "update <product-id> <field=value>...",
	Short: "Update product fields",
	Long: `Update product-level fields and record the previous values so the
change can be rolled back.

Editable fields: ` + strings.Join(remote.ProductFields, ", "),
	Example: `  bulkops product update 7001 title="Classic Tee" tags="summer, cotton"
  bulkops product update 7001 status=draft`,
	Args: cobra.MinimumNArgs(2),
	Run:  runProductUpdate,
}

var productJSON bool

func init() {
	productCmd.AddCommand(productUpdateCmd)
	productUpdateCmd.Flags().BoolVar(&productJSON, "json", false, "Print the result as JSON")
}

func runProductUpdate(cmd *cobra.Command, args []string) {
	fields, err := parseFields(args[1:])
	if err != nil {
		exitError("%v", err)
	}

	c := initFullContext()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	out, err := c.Service.UpdateProduct(ctx, args[0], fields)
	if err != nil {
		exitError("%s", describeError(err))
	}
	if productJSON {
		printJSON(out)
		return
	}

	color.New(color.FgGreen).Printf("Updated %s\n", out.Product.Title)
	if e := out.Entry; e != nil {
		for _, k := range e.OperationData.NewValues.Keys() {
			fmt.Printf("  %-13s %s -> %s\n", k, orDash(e.OperationData.OldValues[k]), orDash(e.OperationData.NewValues[k]))
		}
		fmt.Printf("\nRecorded as %s\n", e.ShortID())
	}
	if out.StorageError != "" {
		color.New(color.FgRed).Printf("history not recorded: %s\n", out.StorageError)
	}
}
