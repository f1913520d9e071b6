package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/storeops/bulkops/internal/core"
)

var discountCmd = &cobra.Command{
	Use:   "discount",
	Short: "Temporary percentage discounts",
}

var discountApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Discount many variants by a percentage",
	Long: `Discount a set of variants by a percentage. The current price becomes
the compare-at price so the storefront shows the reduction.

With --expires the discount is rolled back by 'bulkops discount expire'
or by the expiry sweeper of 'bulkops serve' once the time has passed.`,
	Example: `  bulkops discount apply --items 4011,4012 --percent 20
  bulkops discount apply --file sale.json --percent 15 --expires 2026-12-01T00:00:00Z`,
	Run: runDiscountApply,
}

var discountExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Roll back discounts whose expiry has passed",
	Run:   runDiscountExpire,
}

var (
	discountItems       []string
	discountFile        string
	discountPercent     string
	discountExpires     string
	discountDescription string
	discountJSON        bool
)

func init() {
	discountCmd.AddCommand(discountApplyCmd)
	discountCmd.AddCommand(discountExpireCmd)

	f := discountApplyCmd.Flags()
	f.StringSliceVar(&discountItems, "items", nil, "Comma-separated variant IDs")
	f.StringVarP(&discountFile, "file", "f", "", "JSON file with an array of items (- for stdin)")
	f.StringVar(&discountPercent, "percent", "", "Discount percentage (0-100)")
	f.StringVar(&discountExpires, "expires", "", "Expiry time (RFC3339 or YYYY-MM-DD)")
	f.StringVarP(&discountDescription, "message", "m", "", "Description recorded in history")
	f.BoolVar(&discountJSON, "json", false, "Print the result as JSON")

	discountExpireCmd.Flags().BoolVar(&discountJSON, "json", false, "Print the result as JSON")
}

// parseTime accepts RFC3339 timestamps and plain dates (midnight UTC).
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (use RFC3339 or YYYY-MM-DD)", s)
	}
	return t, nil
}

func runDiscountApply(cmd *cobra.Command, args []string) {
	items, err := loadItems(discountItems, discountFile)
	if err != nil {
		exitError("%v", err)
	}

	req := core.DiscountRequest{
		Items:       items,
		Percent:     discountPercent,
		Description: discountDescription,
	}
	if discountExpires != "" {
		t, err := parseTime(discountExpires)
		if err != nil {
			exitError("%v", err)
		}
		req.ExpiresAt = &t
	}

	c := initFullContext()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	obs := progressObserver(os.Stderr)
	if discountJSON {
		obs = nil
	}
	out, err := c.Service.ApplyDiscount(ctx, req, obs)
	if err != nil {
		exitError("%s", describeError(err))
	}
	if discountJSON {
		printJSON(out)
		return
	}
	printBatchOutcome(out)
	if req.ExpiresAt != nil && out.StorageError == "" {
		fmt.Printf("\nExpires %s\n", req.ExpiresAt.Local().Format("Mon Jan 2 15:04:05 2006"))
	}
}

func runDiscountExpire(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := c.Service.ExpireDiscounts(ctx, time.Now())
	if err != nil {
		exitError("%s", describeError(err))
	}
	if discountJSON {
		printJSON(res)
		return
	}

	if res.Checked == 0 {
		fmt.Println("No expired discounts")
		return
	}
	for _, r := range res.RolledBack {
		printRollbackResult(r)
	}
	for _, e := range res.Errors {
		color.New(color.FgRed).Printf("error: %s\n", e)
	}
	fmt.Printf("\n%d expired discounts checked, %d rolled back\n", res.Checked, len(res.RolledBack))
}
