// Corpusd is a document question-answering server. It ingests PDF,
// DOCX, XLSX, and plain-text files into a local vector store and
// answers queries against them using an Ollama-compatible model
// service.
//
// Usage:
//
//	# Start with defaults (config at ~/.config/corpusd/config.yaml)
//	corpusd serve
//
//	# Point at a specific config file
//	corpusd serve --config /etc/corpusd/config.yaml
//
// Every setting can also be supplied via CORPUSD_* environment
// variables, e.g. CORPUSD_SERVER_PORT=9090.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "corpusd",
	Short: "Document ingestion and retrieval server",
	Long: `corpusd ingests documents into a local vector store and answers
questions against them using an Ollama-compatible model service.`,
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the corpusd HTTP server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show detailed version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("corpusd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
