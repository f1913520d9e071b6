package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/storeops/bulkops/internal/core"
	"github.com/storeops/bulkops/internal/models"
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Bulk price changes",
}

var priceApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a price rule to many variants",
	Long: `Apply a price rule to a set of variants. Current prices are read from
the store unless the items file supplies current_values.

Rule types:
  percentage  raise or lower by VALUE percent
  fixed       raise or lower by VALUE
  absolute    set the price to VALUE

Rounding (applied after the change): none, nearest_99, nearest_00, nearest_95.`,
	Example: `  bulkops price apply --items 4011,4012 --type percentage --value 10 --direction increase
  bulkops price apply --file items.json --type absolute --value 19.99 --rounding nearest_99
  bulkops price apply --items 4011 --type fixed --value 5 --direction decrease --dry-run`,
	Run: runPriceApply,
}

var (
	priceItems       []string
	priceFile        string
	priceType        string
	priceValue       string
	priceApplyTo     string
	priceRounding    string
	priceDirection   string
	priceDescription string
	priceDryRun      bool
	priceJSON        bool
)

func init() {
	priceCmd.AddCommand(priceApplyCmd)

	f := priceApplyCmd.Flags()
	f.StringSliceVar(&priceItems, "items", nil, "Comma-separated variant IDs")
	f.StringVarP(&priceFile, "file", "f", "", "JSON file with an array of items (- for stdin)")
	f.StringVar(&priceType, "type", "", "Rule type (percentage|fixed|absolute)")
	f.StringVar(&priceValue, "value", "", "Rule value")
	f.StringVar(&priceApplyTo, "apply-to", string(models.ApplyToPrice), "Fields to change (price|compareAtPrice|both)")
	f.StringVar(&priceRounding, "rounding", string(models.RoundNone), "Rounding (none|nearest_99|nearest_00|nearest_95)")
	f.StringVar(&priceDirection, "direction", "", "increase or decrease (not used by absolute rules)")
	f.StringVarP(&priceDescription, "message", "m", "", "Description recorded in history")
	f.BoolVar(&priceDryRun, "dry-run", false, "Show the new prices without changing anything")
	f.BoolVar(&priceJSON, "json", false, "Print the result as JSON")
}

func runPriceApply(cmd *cobra.Command, args []string) {
	items, err := loadItems(priceItems, priceFile)
	if err != nil {
		exitError("%v", err)
	}

	req := core.ApplyRuleRequest{
		Items: items,
		Rule: models.PriceRule{
			Type:     models.RuleType(priceType),
			Value:    priceValue,
			ApplyTo:  models.ApplyTo(priceApplyTo),
			Rounding: models.Rounding(priceRounding),
		},
		Direction:   models.Direction(priceDirection),
		Description: priceDescription,
	}

	c := initFullContext()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if priceDryRun {
		rows, err := c.Service.PreviewRule(ctx, req)
		if err != nil {
			exitError("%s", describeError(err))
		}
		if priceJSON {
			printJSON(rows)
			return
		}
		printPreview(rows, req.Rule.Fields())
		return
	}

	var obs = progressObserver(os.Stderr)
	if priceJSON {
		obs = nil
	}
	out, err := c.Service.ApplyRule(ctx, req, obs)
	if err != nil {
		exitError("%s", describeError(err))
	}
	if priceJSON {
		printJSON(out)
		return
	}
	printBatchOutcome(out)
}

func printPreview(rows []*core.PricePreview, fields []string) {
	red := color.New(color.FgRed)
	for _, row := range rows {
		fmt.Printf("%s\n", row.Label)
		if row.Error != "" {
			red.Printf("  error: %s\n", row.Error)
			continue
		}
		for _, k := range fields {
			fmt.Printf("  %-17s %s -> %s\n", k, orDash(row.OldValues[k]), orDash(row.NewValues[k]))
		}
	}
	fmt.Printf("\n%d items previewed, nothing changed\n", len(rows))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
