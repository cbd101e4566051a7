package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "appforge",
		Short: "AppForge - idea to shipped repository",
		Long: `AppForge turns a one-line product idea into a deployed repository.
It drives an external coding agent through specification, design, repository
bootstrap, planning, implementation, verification, review, and ship phases,
with durable checkpoints so an interrupted run resumes where it stopped.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	// A local .env is convenient for webhook URLs and cost overrides; its
	// absence is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
