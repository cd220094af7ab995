package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mapgrab/pkg/config"
	"mapgrab/pkg/logger"
	"mapgrab/pkg/sequence"
)

var (
	onlyIDs   []string
	onlyFile  string
	overwrite bool
	noSummary bool
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <sequence-id>",
	Short: "Download one sequence as geotagged JPEGs",
	Long: `Download all images of a Mapillary sequence into a timestamped directory
under the output directory, embedding full geospatial metadata into each
JPEG.

Re-running the same download resumes it: images whose outputs already exist
as well-formed geotagged files are skipped without re-downloading. A failed
image never stops the run; failures are collected in the run summary.`,
	Example: `  # Download a sequence with default settings
  mapgrab download zcknwmztjvgqqkcvmfo9np

  # Restrict the run to specific images, e.g. retrying earlier failures
  mapgrab download zcknwmztjvgqqkcvmfo9np --only 153949,153950

  # Re-encode images at quality 85 and overwrite existing outputs
  mapgrab download zcknwmztjvgqqkcvmfo9np --quality 85 --overwrite`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringSliceVar(&onlyIDs, "only", nil, "restrict the run to these image ids")
	downloadCmd.Flags().StringVar(&onlyFile, "only-file", "", "file with one image id per line to restrict the run to")
	downloadCmd.Flags().BoolVar(&overwrite, "overwrite", false, "rewrite outputs that already exist")
	downloadCmd.Flags().BoolVar(&noSummary, "no-summary", false, "skip writing run-summary.json")
}

func runDownload(cmd *cobra.Command, args []string) error {
	sequenceID := strings.TrimSpace(args[0])

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyDownloadFlags(cfg)

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	only, err := collectOnlyIDs()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	downloader := sequence.New(cfg)
	summary, err := downloader.DownloadSequence(ctx, sequenceID, sequence.Options{Only: only})
	if err != nil {
		return err
	}

	fmt.Printf("Sequence %s: %s\n", sequenceID, summary)
	fmt.Printf("Output: %s\n", summary.OutputDir)

	if summary.FetchFailed+summary.MetadataFailed > 0 {
		os.Exit(1)
	}
	return nil
}

func applyDownloadFlags(cfg *config.Config) {
	if overwrite {
		cfg.Output.OverwriteExisting = true
	}
	if noSummary {
		cfg.Output.WriteRunSummary = false
	}
}

// collectOnlyIDs merges the --only list with the --only-file contents.
// Blank lines and # comments in the file are ignored.
func collectOnlyIDs() ([]string, error) {
	ids := append([]string(nil), onlyIDs...)

	if onlyFile != "" {
		file, err := os.Open(onlyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open id file: %w", err)
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			ids = append(ids, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read id file: %w", err)
		}
	}

	return ids, nil
}
