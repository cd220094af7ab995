package main

import (
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

var (
	cameraType    string
	sequencesFile string
)

// sequencesCmd represents the sequences command
var sequencesCmd = &cobra.Command{
	Use:   "sequences <username>",
	Short: "List the sequences a user has uploaded",
	Long: `Discover the sequences a Mapillary user has uploaded, with image counts
and earliest capture times. The output can be written to a file that feeds
directly into 'mapgrab batch'.`,
	Example: `  # List all sequences of a user
  mapgrab sequences streetmapper

  # Only 360 captures, written to a batch file
  mapgrab sequences streetmapper --camera-type spherical --write sequences.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runSequences,
}

func init() {
	rootCmd.AddCommand(sequencesCmd)

	sequencesCmd.Flags().StringVar(&cameraType, "camera-type", "all", "filter by camera type (all, spherical, flat)")
	sequencesCmd.Flags().StringVar(&sequencesFile, "write", "", "write sequence ids to this file, one per line")
}

func runSequences(cmd *cobra.Command, args []string) error {
	username := strings.TrimSpace(args[0])

	switch cameraType {
	case "all", "spherical", "flat":
	default:
		return fmt.Errorf("invalid camera type %q (want all, spherical, or flat)", cameraType)
	}
	filter := cameraType
	if filter == "all" {
		filter = ""
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	downloader := sequence.New(cfg)
	sequences, err := downloader.DiscoverSequences(ctx, username, filter)
	if err != nil {
		return err
	}

	if len(sequences) == 0 {
		fmt.Printf("No sequences found for %s\n", username)
		return nil
	}

	fmt.Printf("%-32s %8s %-20s %s\n", "SEQUENCE", "IMAGES", "EARLIEST (UTC)", "CAMERA")
	for _, info := range sequences {
		camera := "flat"
		if info.Spherical {
			camera = "spherical"
		}
		fmt.Printf("%-32s %8d %-20s %s\n", info.ID, info.ImageCount, info.Earliest.Format("2006-01-02 15:04:05"), camera)
	}

	if sequencesFile != "" {
		var b strings.Builder
		fmt.Fprintf(&b, "# sequences of %s\n", username)
		for _, info := range sequences {
			b.WriteString(info.ID)
			b.WriteByte('\n')
		}
		if err := os.WriteFile(sequencesFile, []byte(b.String()), 0644); err != nil {
			return fmt.Errorf("failed to write sequence file: %w", err)
		}
		fmt.Printf("\nWrote %d sequence ids to %s\n", len(sequences), sequencesFile)
	}

	return nil
}
