package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/storeops/bulkops/internal/history"
	"github.com/storeops/bulkops/internal/models"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the operation history",
	Long: `Display recorded operations, most recent first. Item entries of a
batch are hidden unless --items or --batch is given.`,
	Example: `  bulkops history
  bulkops history --category pricing --status error -n 20
  bulkops history --batch 3f9c2a1e --oneline
  bulkops history --since 2026-10-01 --search "summer"`,
	Args: cobra.NoArgs,
	Run:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <entry-id>",
	Short: "Show one history entry",
	Args:  cobra.ExactArgs(1),
	Run:   runHistoryShow,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the history",
	Args:  cobra.NoArgs,
	Run:   runHistoryStats,
}

var historyExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the history as JSON",
	Args:  cobra.MaximumNArgs(1),
	Run:   runHistoryExport,
}

var historyImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge an exported history",
	Long:  `Merge entries from an exported history. Entries already present are skipped.`,
	Args:  cobra.ExactArgs(1),
	Run:   runHistoryImport,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every history entry",
	Args:  cobra.NoArgs,
	Run:   runHistoryClear,
}

var (
	histCategory string
	histType     string
	histStatus   string
	histProduct  string
	histBatch    string
	histSearch   string
	histSince    string
	histUntil    string
	histLimit    int
	histItems    bool
	histOneline  bool
	histJSON     bool
	histYes      bool
)

func init() {
	historyCmd.AddCommand(historyShowCmd, historyStatsCmd, historyExportCmd, historyImportCmd, historyClearCmd)

	f := historyCmd.Flags()
	f.StringVar(&histCategory, "category", "", "Filter by category (products|pricing|discounts|media|system)")
	f.StringVar(&histType, "type", "", "Filter by operation type")
	f.StringVar(&histStatus, "status", "", "Filter by status (success|warning|error|pending)")
	f.StringVar(&histProduct, "product", "", "Filter by product ID")
	f.StringVar(&histBatch, "batch", "", "Show the entries of one batch")
	f.StringVar(&histSearch, "search", "", "Search descriptions, titles and SKUs")
	f.StringVar(&histSince, "since", "", "Only entries at or after this time")
	f.StringVar(&histUntil, "until", "", "Only entries at or before this time")
	f.IntVarP(&histLimit, "n", "n", 50, "Limit the number of entries (0 for all)")
	f.BoolVar(&histItems, "items", false, "Include item entries of batches")
	f.BoolVar(&histOneline, "oneline", false, "Show each entry on a single line")
	f.BoolVar(&histJSON, "json", false, "Print entries as JSON")

	historyShowCmd.Flags().BoolVar(&histJSON, "json", false, "Print the entry as JSON")
	historyStatsCmd.Flags().BoolVar(&histJSON, "json", false, "Print statistics as JSON")
	historyClearCmd.Flags().BoolVarP(&histYes, "yes", "y", false, "Do not ask for confirmation")
}

// buildFilter converts the history flags into a filter.
func buildFilter() (history.Filter, error) {
	f := history.Filter{
		Category:      models.Category(histCategory),
		OperationType: models.OperationType(histType),
		Status:        models.Status(histStatus),
		ProductID:     histProduct,
		BatchID:       histBatch,
		Search:        histSearch,
	}
	if histSince != "" {
		t, err := parseTime(histSince)
		if err != nil {
			return f, fmt.Errorf("--since: %w", err)
		}
		f.From = t
	}
	if histUntil != "" {
		t, err := parseTime(histUntil)
		if err != nil {
			return f, fmt.Errorf("--until: %w", err)
		}
		f.To = t
	}
	return f, nil
}

// visibleEntries hides batch items unless asked for, then applies limit.
func visibleEntries(entries []*models.HistoryEntry, items bool, limit int) []*models.HistoryEntry {
	var out []*models.HistoryEntry
	for _, e := range entries {
		if e.IsChild() && !items {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func runHistory(cmd *cobra.Command, args []string) {
	f, err := buildFilter()
	if err != nil {
		exitError("%v", err)
	}

	c := initContext()
	defer c.Close()

	entries, err := c.History.Query(f)
	if err != nil {
		exitError("failed to read history: %v", err)
	}
	entries = visibleEntries(entries, histItems || histBatch != "", histLimit)

	if histJSON {
		printJSON(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("No history entries")
		return
	}

	done, _ := c.History.RolledBack()
	for _, e := range entries {
		if histOneline {
			printEntryOneline(e, done[e.ID])
		} else {
			printEntry(e, done[e.ID])
			fmt.Println()
		}
	}
}

func printEntryOneline(e *models.HistoryEntry, rolledBack bool) {
	color.New(color.FgYellow).Printf("%s ", e.ShortID())
	statusColor(e.Status).Printf("%-7s ", e.Status)
	if e.IsChild() {
		fmt.Print("  ")
	}
	fmt.Print(e.Description)
	if rolledBack {
		color.New(color.FgMagenta).Print(" [rolled back]")
	}
	fmt.Println()
}

func printEntry(e *models.HistoryEntry, rolledBack bool) {
	yellow := color.New(color.FgYellow)
	magenta := color.New(color.FgMagenta)

	yellow.Printf("entry %s", e.ID)
	if rolledBack {
		magenta.Print(" [rolled back]")
	}
	fmt.Println()
	fmt.Printf("Date:   %s\n", e.Timestamp.Local().Format("Mon Jan 2 15:04:05 2006"))
	fmt.Printf("Type:   %s (%s)\n", e.OperationType, e.Category)
	fmt.Print("Status: ")
	statusColor(e.Status).Println(e.Status)
	if d := e.OperationData; d.BatchID != "" {
		fmt.Printf("Batch:  %s\n", d.BatchID)
	}
	if e.Title != "" || e.SKU != "" {
		fmt.Printf("Item:   %s\n", (&models.Item{ID: e.OperationData.ItemID, Title: e.Title, SKU: e.SKU}).Label())
	}
	fmt.Printf("\n    %s\n", e.Description)

	if s := e.BulkSummary; s != nil {
		fmt.Printf("\n    %d items, %d succeeded, %d failed", s.TotalItems, s.SuccessfulItems, s.FailedItems)
		if s.Cancelled {
			fmt.Print(", cancelled")
		}
		fmt.Println()
	}
	if e.Error != "" {
		color.New(color.FgRed).Printf("\n    error: %s\n", e.Error)
	}
}

func runHistoryShow(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	e, err := c.History.Get(args[0])
	if err != nil {
		exitError("%v", err)
	}
	if histJSON {
		printJSON(e)
		return
	}

	done, _ := c.History.RolledBack()
	printEntry(e, done[e.ID])

	d := e.OperationData
	if len(d.OldValues) > 0 || len(d.NewValues) > 0 {
		fmt.Println()
		keys := models.Values{}
		for k := range d.OldValues {
			keys[k] = ""
		}
		for k := range d.NewValues {
			keys[k] = ""
		}
		for _, k := range keys.Keys() {
			fmt.Printf("    %-17s %s -> %s\n", k, orDash(d.OldValues[k]), orDash(d.NewValues[k]))
		}
	}

	rb := e.RollbackData
	fmt.Println()
	switch {
	case !rb.CanRollback:
		fmt.Println("Not rollbackable")
	case done[e.ID]:
		fmt.Println("Already rolled back")
	default:
		fmt.Printf("Rollback: bulkops rollback %s (%s)\n", e.ShortID(), rb.Type)
	}

	if e.IsAggregate() {
		items, err := c.History.GetBulkOperationItems(d.BatchID)
		if err != nil {
			exitError("failed to read batch items: %v", err)
		}
		if len(items) > 0 {
			fmt.Printf("\nItems:\n")
			for _, it := range items {
				printEntryOneline(it, done[it.ID])
			}
		}
	}
}

func runHistoryStats(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	st, err := c.History.Statistics()
	if err != nil {
		exitError("failed to read history: %v", err)
	}
	if histJSON {
		printJSON(st)
		return
	}

	fmt.Printf("Total entries:   %d (max %d)\n", st.Total, c.History.MaxEntries())
	fmt.Printf("Today:           %d\n", st.Today)
	fmt.Printf("Last 7 days:     %d\n", st.ThisWeek)
	fmt.Printf("Bulk operations: %d\n", st.BulkOperationsCount)

	if len(st.ByCategory) > 0 {
		fmt.Println("\nBy category:")
		cats := make([]string, 0, len(st.ByCategory))
		for k := range st.ByCategory {
			cats = append(cats, string(k))
		}
		sort.Strings(cats)
		for _, k := range cats {
			fmt.Printf("  %-10s %d\n", k, st.ByCategory[models.Category(k)])
		}
	}
	if len(st.ByStatus) > 0 {
		fmt.Println("\nBy status:")
		for _, s := range []models.Status{models.StatusSuccess, models.StatusWarning, models.StatusError, models.StatusPending} {
			if n := st.ByStatus[s]; n > 0 {
				fmt.Print("  ")
				statusColor(s).Printf("%-10s", s)
				fmt.Printf(" %d\n", n)
			}
		}
	}
}

func runHistoryExport(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	data, err := c.History.Export()
	if err != nil {
		exitError("failed to export history: %v", err)
	}
	if len(args) == 0 || args[0] == "-" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(args[0], data, 0644); err != nil {
		exitError("failed to write %s: %v", args[0], err)
	}
	fmt.Fprintf(os.Stderr, "Exported history to %s\n", args[0])
}

func runHistoryImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		exitError("%v", err)
	}

	c := initContext()
	defer c.Close()

	n, err := c.History.Import(data)
	if err != nil {
		exitError("failed to import history: %v", err)
	}
	fmt.Printf("Imported %d entries\n", n)
}

func runHistoryClear(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	n, err := c.History.Count()
	if err != nil {
		exitError("failed to read history: %v", err)
	}
	if n == 0 {
		fmt.Println("History is already empty")
		return
	}

	if !histYes && !confirm(os.Stdin, fmt.Sprintf("Delete %d history entries? Rollback will no longer be possible. [y/N] ", n)) {
		fmt.Println("Aborted")
		return
	}
	if err := c.History.Clear(); err != nil {
		exitError("failed to clear history: %v", err)
	}
	fmt.Printf("Deleted %d entries\n", n)
}

// confirm prints prompt and reports whether the answer starts with y.
func confirm(in io.Reader, prompt string) bool {
	fmt.Print(prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
}
