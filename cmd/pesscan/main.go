package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/surfacelab/pesscan/pkg/config"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFiles []string
	logLevel string
	owner    string
	log      *logrus.Logger
	cfg      *config.Config
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Failed to execute command")
	}
}

var rootCmd = &cobra.Command{
	Use:   "pesscan",
	Short: "Potential energy surface scan post-processing",
	Long: `pesscan collects the energies of a potential energy surface scan.
It parses the VASP OUTCAR of every run directory, exports the results as a
table with summary statistics and assembles an energy array indexed by run
number for downstream fitting.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFiles...)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if cmd.Flags().Changed("log-level") {
			loaded.Global.LogLevel = logLevel
		}

		if cmd.Flags().Changed("owner") {
			loaded.Global.Owner = owner
		}

		level, err := logrus.ParseLevel(loaded.Global.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", loaded.Global.LogLevel, err)
		}

		log.SetLevel(level)

		cfg = loaded

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pesscan %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&cfgFiles, "config", nil,
		"config file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel,
		"log level ("+strings.Join(logLevels(), ", ")+")")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "",
		"UID:GID applied to written artifacts")

	rootCmd.AddCommand(versionCmd)
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}
