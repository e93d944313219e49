package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/wolfeidau/stockpile/internal/api"
)

const categoriesRoute = "/product/categories"

type CategoriesCmd struct {
	List   CategoriesListCmd   `cmd:"" default:"1" help:"List product categories"`
	Create CategoriesCreateCmd `cmd:"" help:"Create a product category"`
}

type CategoriesListCmd struct{}

func (c *CategoriesListCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.require(ctx, categoriesRoute); err != nil {
		return err
	}

	list, err := a.api.Categories(ctx)
	if err != nil {
		return err
	}

	return globals.printer().Print(list, func(w *tabwriter.Writer) {
		if len(list.Data) == 0 {
			fmt.Fprintln(w, "No categories found.")
			return
		}

		fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION\tCREATED")
		for _, cat := range list.Data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cat.ID, cat.Name, cat.Description, cat.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(w, "\nTotal: %d\n", list.Total)
	})
}

type CategoriesCreateCmd struct {
	Name        string `arg:"" help:"Category name"`
	Description string `help:"Category description"`
}

func (c *CategoriesCreateCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.require(ctx, categoriesRoute); err != nil {
		return err
	}

	cat, err := a.api.CreateCategory(ctx, api.CreateCategoryRequest{Name: c.Name, Description: c.Description})
	if err != nil {
		return err
	}

	// the cached list is stale now
	a.api.Client().PurgeCache()

	return globals.printer().Print(cat, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Created category %s (%s)\n", cat.Name, cat.ID)
	})
}
