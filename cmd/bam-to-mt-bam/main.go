package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/config"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/copier"
)

var configFilePath string

var rootCmd = &cobra.Command{
	Use:   "bam-to-mt-bam",
	Short: "Extract mitochondrial reads from BAM files in object storage",
	Long: "bam-to-mt-bam finds BAM files under the configured cells, keeps only the reads " +
		"aligned to the mitochondrial region and uploads the result as <stem>_MT.bam. " +
		"Files whose output already exists are skipped, so runs can be repeated safely.",
	Version:       fmt.Sprintf("%s (%s)", copier.Version, copier.GitSHA),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCommand,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFilePath, "config", "c", config.DefaultPath, "path to settings file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.Int("parallelism", 0, "maximum number of files processed at once")
	flags.Bool("metrics", false, "serve Prometheus metrics")

	// Flags override the settings file and the environment only when set.
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("engine.parallelism", flags.Lookup("parallelism"))
	_ = viper.BindPFlag("metrics.enabled", flags.Lookup("metrics"))

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Process every pending file once",
			RunE:  runCommand,
		},
		&cobra.Command{
			Use:   "plan",
			Short: "Print the pending work items as YAML without processing them",
			RunE:  planCommand,
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Repeat the run on an interval until interrupted",
			RunE:  watchCommand,
		},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
