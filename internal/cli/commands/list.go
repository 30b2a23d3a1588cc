package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapbase/internal/cli/output"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/filter"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	var filterJSON string
	var limit int

	cmd := &cobra.Command{
		Use:   "list <table>",
		Short: "List the records of a table",
		Long: `List records in creation order, with formulas and rollups computed.

The filter is a JSON condition tree:
  {"field": "status", "operator": "Is", "value": "done"}
  {"and": [ ... ]} and {"or": [ ... ]} combine conditions.`,
		Example: `  leapbase list tasks
  leapbase list tasks --filter '{"field":"title","operator":"Contains","value":"ship"}'
  leapbase list tasks -o json | jq '.[].id'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}

			var f filter.Filter
			if filterJSON != "" {
				if f, err = filter.Parse([]byte(filterJSON)); err != nil {
					return err
				}
			}

			e, err := openEngine(ctx, cfg, loggerFrom(ctx))
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			t, err := e.Table(args[0])
			if err != nil {
				return err
			}
			recs, err := t.Read(ctx, f)
			if err != nil {
				return err
			}
			if limit > 0 && len(recs) > limit {
				recs = recs[:limit]
			}
			return renderRecords(rendererFrom(ctx), t.Definition(), recs)
		},
	}

	cmd.Flags().StringVarP(&filterJSON, "filter", "f", "", "JSON filter")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of records (0 for all)")
	return cmd
}

func renderRecords(r *output.Renderer, def *core.Table, recs []core.Record) error {
	values := make([]map[string]any, len(recs))
	for i := range recs {
		values[i] = recs[i].Values()
	}
	if ok, err := r.Structured(values); ok {
		return err
	}

	header := []string{core.FieldID}
	for _, f := range def.Fields {
		header = append(header, f.FieldName())
	}
	header = append(header, core.FieldCreatedAt)

	rows := make([][]any, len(recs))
	for i, rec := range recs {
		row := make([]any, 0, len(header))
		row = append(row, rec.ID)
		for _, f := range def.Fields {
			row = append(row, rec.Fields[f.FieldName()])
		}
		row = append(row, rec.CreatedAt.Format(time.DateTime))
		rows[i] = row
	}
	r.Table(header, rows)
	return nil
}
