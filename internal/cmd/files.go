package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dnyoussef/hooklog/internal/archive"
	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/dnyoussef/hooklog/internal/output"
	"github.com/spf13/cobra"
)

var (
	queryFilter  filterFlags
	queryOffset  int
	exportFilter filterFlags
	exportFormat string
	exportOut    string
	recentHours  int
	recentLimit  int
)

var queryCmd = &cobra.Command{
	Use:   "query [file]",
	Short: "Read entries from a log file",
	Long: `Read entries from one log file (today's file by default), filtered by
level, agent, correlation id, time range or a CEL expression. Compressed
rotated files are read transparently.

Examples:
  hooklog query --level error
  hooklog query hooks-2026-02-16.log --agent backend-dev --since 2h
  hooklog query --expr 'metrics.cost > 1.0' -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a := openArchive(cfg)
		f, err := queryFilter.filter(time.Now())
		if err != nil {
			return err
		}
		name := a.CurrentFile()
		if len(args) == 1 {
			name = args[0]
		}
		entries, err := a.Read(name, f, queryOffset)
		if err != nil {
			return err
		}
		return render(cmd, entries)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export a log file as JSON or CSV",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a := openArchive(cfg)
		f, err := exportFilter.filter(time.Now())
		if err != nil {
			return err
		}
		name := a.CurrentFile()
		if len(args) == 1 {
			name = args[0]
		}
		data, err := a.Export(name, exportFormat, f)
		if err != nil {
			return err
		}
		if exportOut == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "exported %s to %s\n", name, exportOut)
		return nil
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List log files with their sizes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		files, err := openArchive(cfg).Files()
		if err != nil {
			return err
		}
		if strings.EqualFold(outputFmt, "json") {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(files)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED\tCOMPRESSED")
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%v\n", f.Name, f.Size, f.Modified.Format(time.RFC3339), f.Compressed)
		}
		return tw.Flush()
	},
}

var traceCmd = &cobra.Command{
	Use:   "trace <correlation-id>",
	Short: "Show every entry for a correlation id across all files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		entries, searched, err := openArchive(cfg).Trace(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d entries in %d files\n", len(entries), searched)
		return render(cmd, entries)
	},
}

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show recent ERROR and FATAL entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if recentHours < 1 || recentHours > 168 {
			return fmt.Errorf("--hours must be between 1 and 168")
		}
		if recentLimit < 1 || recentLimit > 500 {
			return fmt.Errorf("--limit must be between 1 and 500")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		since := time.Now().Add(-time.Duration(recentHours) * time.Hour)
		entries, err := openArchive(cfg).RecentErrors(since, recentLimit)
		if err != nil {
			return err
		}
		return render(cmd, entries)
	},
}

func init() {
	queryFilter.register(queryCmd)
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "skip this many matching entries")

	exportFilter.register(exportCmd)
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", archive.FormatJSON, "export format: json, csv")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "write to this file instead of stdout")

	errorsCmd.Flags().IntVar(&recentHours, "hours", 24, "look back this many hours")
	errorsCmd.Flags().IntVar(&recentLimit, "limit", 50, "maximum number of entries")

	rootCmd.AddCommand(queryCmd, exportCmd, filesCmd, traceCmd, errorsCmd)
}

func render(cmd *cobra.Command, entries []model.LogEntry) error {
	r := output.NewRenderer(outputFmt, cmd.OutOrStdout())
	for _, e := range entries {
		if err := r.Render(e); err != nil {
			return err
		}
	}
	return nil
}
