package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dnyoussef/hooklog/internal/output"
	"github.com/dnyoussef/hooklog/internal/query"
	"github.com/dnyoussef/hooklog/internal/tailer"
	"github.com/dnyoussef/hooklog/internal/watcher"
	"github.com/spf13/cobra"
)

var (
	followFilter     filterFlags
	followFromStart  bool
	followCheckpoint string
	followCritical   bool
)

var followCmd = &cobra.Command{
	Use:   "follow",
	Short: "Stream new entries from the log directory",
	Long: `Follow the active log file and stream new entries to the terminal. The
directory is watched, so the next day's file and the fresh file after a
rotation are picked up automatically.

Examples:
  hooklog follow
  hooklog follow --level warn --agent backend-dev
  hooklog follow --critical --from-start -o json`,
	Args: cobra.NoArgs,
	RunE: runFollow,
}

func init() {
	followFilter.register(followCmd)
	followCmd.Flags().BoolVar(&followFromStart, "from-start", false, "read existing files from the beginning")
	followCmd.Flags().StringVar(&followCheckpoint, "checkpoint", "", "persist read offsets to this file")
	followCmd.Flags().BoolVar(&followCritical, "critical", false, "also follow the critical file")
	rootCmd.AddCommand(followCmd)
}

func runFollow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := followFilter.filter(time.Now())
	if err != nil {
		return err
	}
	m, err := query.Compile(f)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	patterns := []string{cfg.File.Filename + "-????-??-??.log"}
	if followCritical {
		patterns = append(patterns, cfg.Critical.Filename)
	}
	if err := os.MkdirAll(cfg.File.Directory, 0o755); err != nil {
		return err
	}
	w, err := watcher.New(cfg.File.Directory, patterns...)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	ckpt, err := tailer.NewCheckpoint(followCheckpoint)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	t := tailer.New(w, ckpt, tailer.Options{FromStart: followFromStart, Matcher: m})

	fmt.Fprintf(os.Stderr, "hooklog following %s\n", w.Dir())
	for _, p := range w.Paths() {
		fmt.Fprintf(os.Stderr, "   - %s\n", p)
	}

	go w.Start(ctx)
	go t.Start(ctx)

	r := output.NewRenderer(outputFmt, cmd.OutOrStdout())
	for entry := range t.Entries() {
		if err := r.Render(entry); err != nil {
			log.Printf("render error: %v", err)
		}
	}
	return nil
}
