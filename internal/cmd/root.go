package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dnyoussef/hooklog/internal/archive"
	"github.com/dnyoussef/hooklog/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	outputFmt string
	levelFlag string
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "hooklog",
	Short: "hooklog: structured logging for autonomous agents",
	Long: `hooklog records what autonomous agents do: who acted, under which
authorization decision, at what cost and with what outcome. Entries go to the
console, daily rotated files, an in-memory index and a critical side channel.

The subcommands emit entries, query and export the log files, rotate them on
demand, follow them live, and serve the query API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $HOME/.hooklog.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "output format: text, json")
	rootCmd.PersistentFlags().StringVarP(&levelFlag, "level", "l", "", "minimum severity: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("dir", "", "log directory (overrides file.directory)")

	_ = viper.BindPFlag("file.directory", rootCmd.PersistentFlags().Lookup("dir"))
}

func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)
	config.Bind(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigName(".hooklog")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			log.Printf("warning: cannot read config: %v", err)
		}
	}
}

// loadConfig decodes the merged configuration and applies --level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return cfg, err
	}
	if levelFlag != "" {
		cfg.Level = levelFlag
	}
	raw := config.Config{Transports: viper.GetStringSlice("transports")}
	if dropped := raw.Normalize(); len(dropped) > 0 {
		log.Printf("warning: ignoring unknown transports %v", dropped)
	}
	return cfg, nil
}

// openArchive builds an archive over the configured log directory.
func openArchive(cfg config.Config) *archive.Archive {
	return archive.New(cfg.File.Directory, cfg.File.Filename, archive.WithCriticalFile(cfg.Critical.Filename))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nhooklog shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
