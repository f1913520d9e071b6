package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/storeops/bulkops/internal/batch"
	"github.com/storeops/bulkops/internal/config"
	"github.com/storeops/bulkops/internal/core"
	"github.com/storeops/bulkops/internal/models"
	"github.com/storeops/bulkops/internal/remote"
)

// readJSONInput decodes a JSON document from path, or from stdin when path is "-".
func readJSONInput(path string, v any) error {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// loadItems builds the target items from a JSON file or a list of variant IDs.
func loadItems(ids []string, file string) ([]*models.Item, error) {
	if file != "" && len(ids) > 0 {
		return nil, errors.New("use either --items or --file, not both")
	}
	if file != "" {
		var items []*models.Item
		if err := readJSONInput(file, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var items []*models.Item
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			items = append(items, &models.Item{ID: id})
		}
	}
	if len(items) == 0 {
		return nil, errors.New("no items given (use --items or --file)")
	}
	return items, nil
}

// parseFields parses key=value pairs.
func parseFields(pairs []string) (models.Values, error) {
	out := make(models.Values, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q (want key=value)", p)
		}
		out[k] = v
	}
	return out, nil
}

// progressObserver reports orchestrator progress on w.
func progressObserver(w io.Writer) *batch.Observer {
	dim := color.New(color.Faint)
	return &batch.Observer{
		OnProgress: func(p batch.Progress) {
			fmt.Fprintf(w, "[%d/%d] ", p.Completed, p.Total)
			if p.Failed > 0 {
				color.New(color.FgRed).Fprintf(w, "%d failed ", p.Failed)
			}
			fmt.Fprintln(w, p.CurrentLabel)
		},
		OnGroup: func(index, groups int, message string) {
			dim.Fprintf(w, "group %d/%d: %s\n", index+1, groups, message)
		},
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		exitError("failed to encode output: %v", err)
	}
}

func statusColor(s models.Status) *color.Color {
	switch s {
	case models.StatusSuccess:
		return color.New(color.FgGreen)
	case models.StatusWarning:
		return color.New(color.FgYellow)
	case models.StatusError:
		return color.New(color.FgRed)
	}
	return color.New(color.Reset)
}

func printBatchOutcome(out *core.BatchOutcome) {
	res := out.Result
	yellow := color.New(color.FgYellow)

	fmt.Println()
	yellow.Printf("batch %s\n", out.BatchID)
	fmt.Printf("  %d items: ", res.Total)
	color.New(color.FgGreen).Printf("%d succeeded", res.Successful)
	fmt.Print(", ")
	if res.Failed > 0 {
		color.New(color.FgRed).Printf("%d failed", res.Failed)
	} else {
		fmt.Print("0 failed")
	}
	fmt.Println()
	if res.Cancelled {
		color.New(color.FgRed).Println("  cancelled before all items were dispatched")
	}

	for _, r := range res.Items {
		if r.Succeeded() {
			continue
		}
		fmt.Printf("  ")
		color.New(color.FgRed).Print("failed ")
		fmt.Printf("%s: %s\n", r.Item.Label(), r.Error)
	}

	if out.StorageError != "" {
		color.New(color.FgRed).Printf("  history not recorded: %s\n", out.StorageError)
	} else if res.Failed > 0 {
		fmt.Printf("\nRun 'bulkops retry %s' to retry the failed items.\n", out.BatchID)
	}
}

func printRollbackResult(res *core.RollbackResult) {
	if res.Success {
		color.New(color.FgGreen).Println(res.Message)
	} else {
		color.New(color.FgRed).Println(res.Message)
	}
	for _, e := range res.Errors {
		fmt.Printf("  %s (%s): %s\n", e.ItemID, e.EntryID, e.Error)
	}
	if len(res.Skipped) > 0 {
		fmt.Printf("  skipped %d already reversed entries\n", len(res.Skipped))
	}
	if res.RollbackEntryID != "" {
		fmt.Printf("  recorded as %s\n", res.RollbackEntryID)
	}
	if res.StorageError != "" {
		color.New(color.FgRed).Printf("  history not recorded: %s\n", res.StorageError)
	}
}

// describeError adds a hint for errors returned by the store API.
func describeError(err error) string {
	var re *remote.RemoteError
	if errors.As(err, &re) && re.Status == 401 {
		return fmt.Sprintf("%v (check %s)", err, config.EnvAccessToken)
	}
	return err.Error()
}
