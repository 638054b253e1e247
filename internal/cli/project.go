package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"carbonledger/internal/project"
)

type projectFlags struct {
	name      string
	vintage   string
	standard  string
	price     string
	available string
	inactive  bool
}

func (f projectFlags) toProject(id string) (*project.Project, error) {
	price, err := decimal.NewFromString(f.price)
	if err != nil || !price.IsPositive() {
		return nil, fmt.Errorf("--price must be a positive decimal, got %q", f.price)
	}
	available, err := decimal.NewFromString(f.available)
	if err != nil || available.IsNegative() {
		return nil, fmt.Errorf("--available must be a non-negative decimal, got %q", f.available)
	}
	return &project.Project{
		ID:               id,
		Name:             f.name,
		Vintage:          f.vintage,
		Standard:         f.standard,
		PricePerUnit:     price,
		AvailableCredits: available,
		Active:           !f.inactive,
	}, nil
}

func NewProjectCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Inspect and maintain project listings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a listing as purchases see it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.build(ctx, false)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize", err)
			}
			defer a.Close()
			if a.Projects == nil {
				return WrapExitError(ExitCommandError, "project listings need STORE_DRIVER=postgres", nil)
			}

			p, err := a.Projects.Get(ctx, args[0])
			if errors.Is(err, project.ErrNotFound) {
				return WrapExitError(ExitFailure, "project not found", err)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "project lookup failed", err)
			}
			return output(cmd, opts, p, func(w io.Writer) { printProject(w, p) })
		},
	})

	var f projectFlags
	set := &cobra.Command{
		Use:   "set <project-id>",
		Short: "Create or replace a listing",
		Long: `Creates the listing or replaces every field of an existing one.

Examples:
  ledgerctl project set proj-amazon-2024 --name "Amazon REDD+" --vintage 2024 \
    --standard VCS --price 20 --available 5000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := f.toProject(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid listing", err)
			}

			ctx := cmd.Context()
			a, err := opts.build(ctx, false)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize", err)
			}
			defer a.Close()
			if a.Projects == nil {
				return WrapExitError(ExitCommandError, "project listings need STORE_DRIVER=postgres", nil)
			}

			if err := a.Projects.Upsert(ctx, p); err != nil {
				return WrapExitError(ExitFailure, "failed to save listing", err)
			}
			return output(cmd, opts, p, func(w io.Writer) { printProject(w, p) })
		},
	}
	set.Flags().StringVar(&f.name, "name", "", "display name")
	set.Flags().StringVar(&f.vintage, "vintage", "", "credit vintage year")
	set.Flags().StringVar(&f.standard, "standard", "", "certification standard, e.g. VCS")
	set.Flags().StringVar(&f.price, "price", "", "price per credit")
	set.Flags().StringVar(&f.available, "available", "0", "credits available for purchase")
	set.Flags().BoolVar(&f.inactive, "inactive", false, "delist the project")
	_ = set.MarkFlagRequired("price")
	cmd.AddCommand(set)

	return cmd
}

func printProject(w io.Writer, p *project.Project) {
	status := "listed"
	if !p.Active {
		status = "delisted"
	}
	fmt.Fprintf(w, "Project:   %s (%s)\n", p.ID, status)
	if p.Name != "" {
		fmt.Fprintf(w, "Name:      %s\n", p.Name)
	}
	fmt.Fprintf(w, "Vintage:   %s  Standard: %s\n", p.Vintage, p.Standard)
	fmt.Fprintf(w, "Price:     %s per credit\n", p.PricePerUnit)
	fmt.Fprintf(w, "Available: %s credits\n", p.AvailableCredits)
}
