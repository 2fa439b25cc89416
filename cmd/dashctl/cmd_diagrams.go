package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"gridops/internal/domain"
)

type diagramView struct {
	domain.DiagramView
	Changed bool `json:"changed"`
}

func (c *cli) diagramsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "diagrams",
		Aliases: []string{"d"},
		Short:   "List and edit single-line diagrams",
	}

	var file string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a diagram, optionally seeded from a YAML or JSON component list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var components []domain.Component
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				// JSON files parse as YAML too.
				if err := yaml.Unmarshal(raw, &components); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
			}
			return c.edit(cmd, args, http.MethodPost, "/diagrams", map[string]interface{}{
				"name":       args[0],
				"components": components,
			})
		},
	}
	create.Flags().StringVarP(&file, "file", "f", "", "Component list file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List your diagrams",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd, args)
			defer cancel()
			var resp struct {
				Diagrams []domain.Diagram `json:"diagrams"`
			}
			if err := c.client.DoJSON(ctx, http.MethodGet, "/diagrams", nil, &resp); err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(resp.Diagrams)
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tVERSION\tCOMPONENTS\tUPDATED")
			for _, d := range resp.Diagrams {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", d.ID, d.Name, d.Version, len(d.State.Components), d.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a diagram with its undo/redo state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.edit(cmd, args, http.MethodGet, "/diagrams/"+url.PathEscape(args[0]), nil)
		},
	}

	move := &cobra.Command{
		Use:   "move <id> <component> <x> <y>",
		Short: "Move a component",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("x: %w", err)
			}
			y, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("y: %w", err)
			}
			path := "/diagrams/" + url.PathEscape(args[0]) + "/components/" + url.PathEscape(args[1]) + "/move"
			return c.edit(cmd, args, http.MethodPost, path, map[string]float64{"x": x, "y": y})
		},
	}

	cmd.AddCommand(create, list, show, move,
		c.historyCmd("undo", "Undo the last change", "/undo"),
		c.historyCmd("redo", "Redo the last undone change", "/redo"),
		c.historyCmd("clear", "Forget the undo and redo history", "/history/clear"),
	)
	return cmd
}

func (c *cli) historyCmd(use, short, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.edit(cmd, args, http.MethodPost, "/diagrams/"+url.PathEscape(args[0])+suffix, nil)
		},
	}
}

// edit sends one diagram request and prints the resulting view.
func (c *cli) edit(cmd *cobra.Command, args []string, method, path string, body interface{}) error {
	ctx, cancel := c.context(cmd, args)
	defer cancel()
	var view diagramView
	if err := c.client.DoJSON(ctx, method, path, body, &view); err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(view)
	}
	return c.printDiagram(view, method != http.MethodGet)
}

func (c *cli) printDiagram(v diagramView, edited bool) error {
	fmt.Fprintf(c.out, "%s  %s  v%d  undo=%t redo=%t", v.ID, v.Name, v.Version, v.CanUndo, v.CanRedo)
	if edited && !v.Changed {
		fmt.Fprint(c.out, "  (unchanged)")
	}
	fmt.Fprintln(c.out)
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tKIND\tLABEL\tX\tY")
	for _, comp := range v.State.Components {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%g\n", comp.ID, comp.Kind, comp.Label, comp.X, comp.Y)
	}
	return tw.Flush()
}

func (c *cli) eventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent dashboard events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd, args)
			defer cancel()
			var resp struct {
				Events []domain.Event `json:"events"`
			}
			path := "/events?limit=" + strconv.Itoa(limit)
			if err := c.client.DoJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(resp.Events)
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tSUBJECT")
			for _, e := range resp.Events {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Type, e.Subject)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events")
	return cmd
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
