package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JhanGutierrez/ventry/internal/builder"
	"github.com/JhanGutierrez/ventry/internal/model"
)

// NewWarehouseCommand creates the warehouse command group.
func NewWarehouseCommand(rootOpts *RootOptions) *cobra.Command {
	var in model.WarehouseInput

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a warehouse",
		Long: `Create a warehouse on the backend, or queue it when the backend is
unreachable.

Example:
  ventry warehouse create --name "North" --location "Dock 1"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(a *app, f *OutputFormatter) error {
				res, err := a.builder.CreateWarehouse(cmd.Context(), in)
				if err != nil {
					return f.Fail("create warehouse failed", err)
				}
				return f.Success(createdView{
					Entity:   model.EntityWarehouse,
					ID:       res.Warehouse.ID,
					Label:    res.Warehouse.Name,
					Mode:     res.Mode,
					ActionID: res.ActionID,
					Record:   res.Warehouse,
				})
			})
		},
	}
	create.Flags().StringVar(&in.Name, "name", "", "warehouse name (required)")
	create.Flags().StringVar(&in.Location, "location", "", "warehouse location (required)")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("location")

	cmd := &cobra.Command{
		Use:   "warehouse",
		Short: "Manage warehouses",
	}
	cmd.AddCommand(create)
	return cmd
}

// NewProductCommand creates the product command group.
func NewProductCommand(rootOpts *RootOptions) *cobra.Command {
	var in model.ProductInput

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a product",
		Long: `Create a product on the backend, or queue it when the backend is
unreachable.

Example:
  ventry product create --sku WID-1 --name "Widget" --description "Blue"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(a *app, f *OutputFormatter) error {
				res, err := a.builder.CreateProduct(cmd.Context(), in)
				if err != nil {
					return f.Fail("create product failed", err)
				}
				return f.Success(createdView{
					Entity:   model.EntityProduct,
					ID:       res.Product.ID,
					Label:    res.Product.SKU,
					Mode:     res.Mode,
					ActionID: res.ActionID,
					Record:   res.Product,
				})
			})
		},
	}
	create.Flags().StringVar(&in.SKU, "sku", "", "stock keeping unit (required)")
	create.Flags().StringVar(&in.Name, "name", "", "product name (required)")
	create.Flags().StringVar(&in.Description, "description", "", "product description")
	_ = create.MarkFlagRequired("sku")
	_ = create.MarkFlagRequired("name")

	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage products",
	}
	cmd.AddCommand(create)
	return cmd
}

// NewMovementCommand creates the movement command group.
func NewMovementCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		in  model.MovementInput
		typ string
	)

	record := &cobra.Command{
		Use:   "record",
		Short: "Record an inbound or outbound stock movement",
		Long: `Record a stock movement for a product in a warehouse. The inventory
record for the pair is updated, or created by a first INBOUND movement.

Example:
  ventry movement record --product p-1 --warehouse w-1 --type INBOUND --quantity 10
  ventry movement record --product p-1 --warehouse w-1 --type OUTBOUND --quantity 3 --reason sale`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(a *app, f *OutputFormatter) error {
				t, err := model.ParseMovementType(typ)
				if err != nil {
					return f.Fail("record movement failed",
						model.NewValidationError("record movement", model.CodeInvalidInput, err))
				}
				in.Type = t

				res, err := a.builder.RecordMovement(cmd.Context(), in)
				if err != nil {
					return f.Fail("record movement failed", err)
				}
				return f.Success(movementResult{res})
			})
		},
	}
	record.Flags().StringVar(&in.ProductID, "product", "", "product id (required)")
	record.Flags().StringVar(&in.WarehouseID, "warehouse", "", "warehouse id (required)")
	record.Flags().StringVar(&typ, "type", "", "INBOUND or OUTBOUND (required)")
	record.Flags().Int64Var(&in.Quantity, "quantity", 0, "positive quantity (required)")
	record.Flags().StringVar(&in.Reason, "reason", "", "reason for the movement")
	for _, name := range []string{"product", "warehouse", "type", "quantity"} {
		_ = record.MarkFlagRequired(name)
	}

	cmd := &cobra.Command{
		Use:   "movement",
		Short: "Record stock movements",
	}
	cmd.AddCommand(record)
	return cmd
}

// createdView is the result of a create command.
type createdView struct {
	Entity   model.Entity `json:"entity"`
	ID       string       `json:"id"`
	Label    string       `json:"-"`
	Mode     builder.Mode `json:"mode"`
	ActionID string       `json:"action_id,omitempty"`
	Record   any          `json:"record"`
}

func (v createdView) renderText(w io.Writer) error {
	if v.Mode == builder.ModeOnline {
		_, err := fmt.Fprintf(w, "Created %s %s (%s)\n", v.Entity, v.ID, v.Label)
		return err
	}
	_, err := fmt.Fprintf(w, "Queued %s %s (%s) as action %s; run \"ventry sync\" once online\n",
		v.Entity, v.ID, v.Label, v.ActionID)
	return err
}

type movementResult struct {
	builder.MovementResult
}

func (v movementResult) renderText(w io.Writer) error {
	m := v.Movement
	if v.Mode == builder.ModeOnline {
		_, err := fmt.Fprintf(w, "Recorded %s %d on inventory %s, quantity now %d\n",
			m.Type, m.Quantity, v.Inventory.ID, v.Inventory.Quantity)
		return err
	}
	_, err := fmt.Fprintf(w, "Queued %s %d on inventory %s as action %s (%s), quantity now %d\n",
		m.Type, m.Quantity, v.Inventory.ID, v.ActionID, v.Intent, v.Inventory.Quantity)
	return err
}

// withApp opens the client for the duration of fn.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(a *app, f *OutputFormatter) error) error {
	f := opts.formatter(cmd)
	a, err := openApp(cmd, opts)
	if err != nil {
		_ = f.Error("COMMAND_ERROR", err.Error(), nil)
		if exitErr, ok := err.(*ExitError); ok {
			exitErr.Reported = true
		}
		return err
	}
	defer a.close()
	return fn(a, f)
}
