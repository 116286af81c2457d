package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dnyoussef/hooklog/internal/config"
	"github.com/dnyoussef/hooklog/internal/logger"
	"github.com/spf13/cobra"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate, compress and prune log files now",
	Long: `Rotate the active log file if it has content, compress rotated files when
compression is enabled, and delete files beyond the retention count or age.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Transports = []string{config.TransportFile}

		l, err := logger.New(cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		stats, err := l.Rotate(ctx)
		if err != nil {
			return err
		}

		if strings.EqualFold(outputFmt, "json") {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rotated %d, compressed %d, deleted %d, freed %d bytes\n",
			stats.Rotated, stats.Compressed, stats.Deleted, stats.BytesFreed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rotateCmd)
}
