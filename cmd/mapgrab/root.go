package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"mapgrab/pkg/auth"
	"mapgrab/pkg/config"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile  string
	logLevel    string
	accessToken string
	outputDir   string
	concurrent  int
	rateLimit   int
	maxRetries  int
	jpegQuality int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mapgrab",
	Short: "Download Mapillary sequences as geotagged JPEGs",
	Long: `mapgrab downloads street-level imagery sequences from Mapillary and embeds
full geospatial metadata into every image: GPS position, altitude, compass
bearing, capture time with millisecond precision and local UTC offset, and
a 360 projection marker for spherical captures.

Features:
  - Concurrent downloads with a shared, self-adjusting rate limit
  - Automatic retry with exponential backoff
  - Resumable: well-formed existing outputs are never downloaded twice
  - Secure token storage using the system keychain
  - Machine-readable run summaries for auditing and retries`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .mapgrab.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&accessToken, "access-token", "", "Mapillary access token (overrides stored token)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "base output directory")
	rootCmd.PersistentFlags().IntVar(&concurrent, "concurrent", 0, "number of concurrent downloads")
	rootCmd.PersistentFlags().IntVar(&rateLimit, "rate-limit", 0, "requests per minute")
	rootCmd.PersistentFlags().IntVar(&maxRetries, "max-retries", 0, "maximum fetch attempts per request")
	rootCmd.PersistentFlags().IntVar(&jpegQuality, "quality", 0, "re-encode JPEGs at this quality (1-100, 0 keeps original bytes)")

	rootCmd.SetVersionTemplate(`mapgrab {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags builds the flag map handed to config.Load.
func globalFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	if accessToken != "" {
		flags["access-token"] = accessToken
	}
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if concurrent > 0 {
		flags["concurrent"] = concurrent
	}
	if rateLimit > 0 {
		flags["rate-limit"] = rateLimit
	}
	if maxRetries > 0 {
		flags["max-retries"] = maxRetries
	}
	if jpegQuality > 0 {
		flags["quality"] = jpegQuality
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	return flags
}

// loadConfig loads configuration and fills in a stored token when neither
// flag, environment, nor file provided one.
func loadConfig() (*config.Config, error) {
	flags := globalFlags()

	cfg, err := config.Load(configFile, flags)
	if err == nil {
		return cfg, nil
	}

	if _, ok := flags["access-token"]; !ok {
		if token, retrieveErr := auth.NewManager().Retrieve(); retrieveErr == nil {
			flags["access-token"] = token
			return config.Load(configFile, flags)
		}
	}

	return nil, err
}
