package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danthegoodman1/sdcdb/pruner"
	"github.com/danthegoodman1/sdcdb/utils"
)

var ErrBadFilter = errors.New("filter must be \"<column> <operator> <operand>\"")

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ingestCmd() *cobra.Command {
	var tableID, file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Replace the rows of a table with a JSON array or NDJSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeDB(db)
			var r io.Reader = os.Stdin
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("error in os.Open: %w", err)
				}
				defer f.Close()
				r = f
			}
			rows, err := readRows(r)
			if err != nil {
				return err
			}
			stats, err := db.Table(tableID).Ingest(cmd.Context(), rows)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().StringVar(&tableID, "table", "", "table id")
	cmd.Flags().StringVar(&file, "file", "-", "JSON array or NDJSON file, - for stdin")
	cmd.MarkFlagRequired("table")
	return cmd
}

// readRows accepts either a JSON array of objects or one object per line.
func readRows(r io.Reader) ([]map[string]any, error) {
	br := bufio.NewReader(r)
	dec := json.NewDecoder(br)
	dec.UseNumber()

	first, err := peekNonSpace(br)
	if err != nil {
		return nil, err
	}
	if first == '[' {
		var rows []map[string]any
		if err = dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("error decoding JSON array: %w", err)
		}
		return rows, nil
	}

	var rows []map[string]any
	for {
		var row map[string]any
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error decoding row %d: %w", len(rows)+1, err)
		}
		if row == nil {
			return nil, fmt.Errorf("row %d is not a JSON object", len(rows)+1)
		}
		rows = append(rows, row)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for i := 1; ; i++ {
		b, err := br.Peek(i)
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		switch c := b[i-1]; c {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return c, nil
		}
	}
}

type filterFlag struct {
	column, op, operand string
	isCol               bool
}

// parseFilter splits "amount >= 20" into its three parts.
func parseFilter(s string, isCol bool) (filterFlag, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return filterFlag{}, fmt.Errorf("%w: %q", ErrBadFilter, s)
	}
	return filterFlag{column: fields[0], op: fields[1], operand: fields[2], isCol: isCol}, nil
}

func queryCmd() *cobra.Command {
	var (
		tableID, index     string
		filters, colFilter []string
		projections        []string
		head               int
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Filter and project a table",
		Example: `  sdcdb query --table sales --filter "amount > 20" --filter "price <= 3.5" --project amount
  sdcdb query --table sales --col-filter "price < amount" --index predicateTree`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := pruner.ParseMode(index)
			if err != nil {
				return err
			}
			var parsed []filterFlag
			for _, f := range filters {
				ff, err := parseFilter(f, false)
				if err != nil {
					return err
				}
				parsed = append(parsed, ff)
			}
			for _, f := range colFilter {
				ff, err := parseFilter(f, true)
				if err != nil {
					return err
				}
				parsed = append(parsed, ff)
			}

			db, err := openDB(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeDB(db)
			df := db.Table(tableID).ChooseIndex(mode).Projection(projections...)
			for _, f := range parsed {
				df = df.Filter(f.column, f.op, f.operand, f.isCol)
			}
			res, err := df.Head(cmd.Context(), head)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "index=%s blocks=%d scanned=%d pruned=%d rowsRead=%d rows=%d time=%dms\n",
				res.IndexKind, res.TotalBlocks, res.ScannedBlocks, res.PrunedBlocks, res.RowsRead, res.Table.NumRows(), res.TimeMS)
			w := bufio.NewWriter(out)
			fmt.Fprintln(w, strings.Join(res.Table.ColumnNames(), "\t"))
			for i := 0; i < res.Table.NumRows(); i++ {
				vals := make([]string, len(res.Table.Columns))
				for j, c := range res.Table.Columns {
					vals[j] = fmt.Sprint(c.Value(i))
				}
				fmt.Fprintln(w, strings.Join(vals, "\t"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&tableID, "table", "", "table id")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "\"<column> <op> <constant>\", repeatable")
	cmd.Flags().StringArrayVar(&colFilter, "col-filter", nil, "\"<column> <op> <column>\", repeatable")
	cmd.Flags().StringSliceVar(&projections, "project", nil, "columns to return, all when empty")
	cmd.Flags().StringVar(&index, "index", "auto", "auto, primary, rangePartition or predicateTree")
	cmd.Flags().IntVar(&head, "head", 20, "rows to print, -1 for all")
	cmd.MarkFlagRequired("table")
	return cmd
}

func optimizeCmd() *cobra.Command {
	var (
		tableID, partitionColumn string
		minLeafSize              int64
	)
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Rebuild the predicate tree, and optionally range partitions, from the recorded workload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeDB(db)
			stats, err := db.Table(tableID).Optimize(cmd.Context(), partitionColumn, minLeafSize)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().StringVar(&tableID, "table", "", "table id")
	cmd.Flags().StringVar(&partitionColumn, "partition-column", "", "also build range partitions on this column")
	cmd.Flags().Int64Var(&minLeafSize, "min-leaf-size", utils.MIN_LEAF_SIZE, "smallest number of rows a tree leaf may hold")
	cmd.MarkFlagRequired("table")
	return cmd
}

func indexesCmd() *cobra.Command {
	var (
		tableID string
		verify  bool
	)
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "Print the index catalog of a table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeDB(db)
			indexes, err := db.Indexes(cmd.Context(), tableID)
			if err != nil {
				return err
			}
			if verify {
				if err = db.VerifyIndexes(cmd.Context(), tableID); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), indexes)
		},
	}
	cmd.Flags().StringVar(&tableID, "table", "", "table id")
	cmd.Flags().BoolVar(&verify, "verify", false, "check every index document against the catalog")
	cmd.MarkFlagRequired("table")
	return cmd
}
