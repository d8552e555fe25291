package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JhanGutierrez/ventry/internal/catalog"
	"github.com/JhanGutierrez/ventry/internal/store"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <warehouses|products|inventories|movements>",
		Short: "List cached records",
		Long: `List records of one entity. When the backend is reachable the listing
comes from the server and refreshes the local cache; otherwise the cache is
shown. Records still waiting to be synced are always included.

Example:
  ventry list inventories
  ventry list movements --format json`,
		Args:          cobra.ExactArgs(1),
		ValidArgs:     []string{store.CollectionWarehouses, store.CollectionProducts, store.CollectionInventories, store.CollectionMovements},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(a *app, f *OutputFormatter) error {
				ctx := cmd.Context()
				var view listView
				switch args[0] {
				case store.CollectionWarehouses:
					l := a.catalog.Warehouses(ctx)
					view = newListView(args[0], l, []string{"ID", "NAME", "LOCATION", "STATUS"}, len(l.Records), func(i int) []any {
						r := l.Records[i]
						return []any{r.ID, r.Name, r.Location, r.SyncStatus}
					})
				case store.CollectionProducts:
					l := a.catalog.Products(ctx)
					view = newListView(args[0], l, []string{"ID", "SKU", "NAME", "STATUS"}, len(l.Records), func(i int) []any {
						r := l.Records[i]
						return []any{r.ID, r.SKU, r.Name, r.SyncStatus}
					})
				case store.CollectionInventories:
					l := a.catalog.Inventories(ctx)
					view = newListView(args[0], l, []string{"ID", "PRODUCT", "WAREHOUSE", "QUANTITY", "STATUS"}, len(l.Records), func(i int) []any {
						r := l.Records[i]
						return []any{r.ID, r.ProductID, r.WarehouseID, r.Quantity, r.SyncStatus}
					})
				case store.CollectionMovements:
					l := a.catalog.Movements(ctx)
					view = newListView(args[0], l, []string{"ID", "INVENTORY", "TYPE", "QUANTITY", "REASON", "STATUS"}, len(l.Records), func(i int) []any {
						r := l.Records[i]
						return []any{r.ID, r.InventoryID, r.Type, r.Quantity, r.Reason, r.SyncStatus}
					})
				default:
					_ = f.Error("INVALID_ARGUMENT", fmt.Sprintf("unknown collection %q", args[0]), nil)
					return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("unknown collection %q", args[0]), Reported: true}
				}
				return f.Success(view)
			})
		},
	}
}

// listView is the result of the list command.
type listView struct {
	Collection string         `json:"collection"`
	Source     catalog.Source `json:"source"`
	Records    any            `json:"records"`

	header []string
	rows   [][]any
}

func newListView[T any](name string, l catalog.Listing[T], header []string, n int, row func(i int) []any) listView {
	v := listView{Collection: name, Source: l.Source, Records: l.Records, header: header}
	for i := 0; i < n; i++ {
		v.rows = append(v.rows, row(i))
	}
	return v
}

func (v listView) renderText(w io.Writer) error {
	if len(v.rows) == 0 {
		_, err := fmt.Fprintf(w, "No %s (source: %s)\n", v.Collection, v.Source)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, h := range v.header {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, h)
	}
	fmt.Fprintln(tw)
	for _, row := range v.rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, cell)
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d %s (source: %s)\n", len(v.rows), v.Collection, v.Source)
	return err
}
