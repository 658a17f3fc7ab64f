package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var (
		driverName string
		dsn        string
	)

	cmd := &cobra.Command{
		Use:   "query SQL",
		Short: "Run a query as a profiled command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			probe, err := newProbe(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if shutdownErr := probe.Shutdown(cmd.Context()); err == nil {
					err = shutdownErr
				}
			}()

			db, err := probe.OpenDB(driverName, dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			session := probe.StartCLI(cmd.Context(), os.Args)
			runErr := printQuery(session.Context(), cmd, db, args[0])
			if err := session.End(); err != nil {
				logger := probe.Logger()
				logger.Warn().Err(err).Msg("Profiler logs incomplete")
			}
			if session.Profiled() {
				fmt.Fprintf(cmd.ErrOrStderr(), "Profile: %s\n", session.ProfilerURL())
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&driverName, "driver", "sqlite3", "database/sql driver name")
	cmd.Flags().StringVar(&dsn, "db", demoDSN, "Data source name")
	return cmd
}

func printQuery(ctx context.Context, cmd *cobra.Command, db *sql.DB, query string) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(cols, "\t")))

	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		fields := make([]string, len(values))
		for i, v := range values {
			fields[i] = v.String
			if !v.Valid {
				fields[i] = "NULL"
			}
		}
		fmt.Fprintln(w, strings.Join(fields, "\t"))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return w.Flush()
}
