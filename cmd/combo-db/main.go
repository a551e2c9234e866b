// Command combo-db is a read-only inspection tool for the pump sqlite
// store: list paired pumps and their persisted state, or run an ad-hoc
// SELECT.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
)

var (
	dbPath  string
	rootCmd = &cobra.Command{
		Use:   "combo-db",
		Short: "Combo pump store CLI",
		Long:  "Command-line tool for inspecting the combo-control pump sqlite store.",
	}

	devicesCmd = &cobra.Command{
		Use:   "devices",
		Short: "List all paired pumps",
		RunE:  listDevices,
	}

	queryCmd = &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute a raw read-only SQL query",
		Args:  cobra.ExactArgs(1),
		RunE:  executeQuery,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/combo-control/pumps.db", "Database file path")
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*sql.DB, error) {
	return sql.Open("sqlite3", dbPath+"?mode=ro")
}

func listDevices(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT address, pump_id, key_response_address, utc_offset_seconds,
			tbr_percentage, tbr_duration_mins, created_at
		FROM pumps ORDER BY created_at DESC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tPUMP ID\tKEY RESP\tUTC OFFSET\tTBR %\tTBR MINS\tCREATED")
	fmt.Fprintln(w, "-------\t-------\t--------\t----------\t-----\t--------\t-------")

	for rows.Next() {
		var addr, pumpID string
		var keyResp, utcOffset int
		var tbrPct, tbrMins sql.NullInt64
		var createdAt time.Time

		if err := rows.Scan(&addr, &pumpID, &keyResp, &utcOffset, &tbrPct, &tbrMins, &createdAt); err != nil {
			return err
		}

		pctStr, minsStr := "-", "-"
		if tbrPct.Valid {
			pctStr = fmt.Sprintf("%d", tbrPct.Int64)
		}
		if tbrMins.Valid {
			minsStr = fmt.Sprintf("%d", tbrMins.Int64)
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%ds\t%s\t%s\t%s\n",
			addr, pumpID, keyResp, utcOffset, pctStr, minsStr,
			createdAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
	return nil
}

func executeQuery(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	query := args[0]
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(cols)))

	values := make([]interface{}, len(cols))
	valuePtrs := make([]interface{}, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}
		var row []string
		for _, v := range values {
			switch val := v.(type) {
			case nil:
				row = append(row, "NULL")
			case []byte:
				row = append(row, string(val))
			default:
				row = append(row, fmt.Sprintf("%v", val))
			}
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	return nil
}
