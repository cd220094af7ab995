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

	"mapgrab/pkg/logger"
	"mapgrab/pkg/sequence"
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Download every sequence listed in a file",
	Long: `Download multiple sequences, one per line. Blank lines and lines starting
with # are ignored. Sequences are processed one after another; the images of
each sequence still download concurrently. A failing sequence does not stop
the batch.`,
	Example: `  # sequences.txt:
  #   zcknwmztjvgqqkcvmfo9np
  #   hbnwartqwcl6gluap3spmz
  mapgrab batch sequences.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	sequenceIDs, err := readSequenceFile(args[0])
	if err != nil {
		return err
	}
	if len(sequenceIDs) == 0 {
		return fmt.Errorf("no sequence ids in %s", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyDownloadFlags(cfg)

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	downloader := sequence.New(cfg)
	failed := 0

	for i, sequenceID := range sequenceIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fmt.Printf("[%d/%d] %s\n", i+1, len(sequenceIDs), sequenceID)

		summary, err := downloader.DownloadSequence(ctx, sequenceID, sequence.Options{})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(os.Stderr, "  failed: %v\n", err)
			failed++
			continue
		}

		fmt.Printf("  %s\n", summary)
		if summary.FetchFailed+summary.MetadataFailed > 0 {
			failed++
		}
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d sequences finished with failures\n", failed, len(sequenceIDs))
		os.Exit(1)
	}
	return nil
}

func readSequenceFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sequence file: %w", err)
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sequence file: %w", err)
	}

	return ids, nil
}
