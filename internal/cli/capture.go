package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/proofpack/internal/input"
	"github.com/ppiankov/proofpack/internal/model"
	"github.com/ppiankov/proofpack/internal/pipeline"
)

var captureFlagKeys = map[string]string{
	"output-dir":     "output.dir",
	"no-upload":      "output.no_upload",
	"respect-robots": "rate_limiting.respect_robots",
	"pdf":            "capture.emit_pdf",
	"base-path":      "input.base_path",
}

// captureCmd represents the capture command
var captureCmd = &cobra.Command{
	Use:   "capture <url | id,collection>",
	Short: "Capture, bundle and upload evidence for a single entity",
	Long: `Capture runs the full pipeline for one registrant.

Example:
  proofpack capture "https://events.example.com/registrants/view?collectionId=7&id=12345"
  proofpack capture 12345,7 --base-path https://events.example.com/registrants/view
  proofpack capture 12345,7 --no-upload`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	addPipelineFlags(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd, captureFlagKeys)
	if err != nil {
		return err
	}

	entity, err := parseEntityArg(args[0], cfg.Input.BasePath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "Capturing: %s (%s)\n", entity.ID, entity.SourceURL)
	}

	runner, err := pipeline.Build(ctx, cfg, log)
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx, []model.Entity{entity})
	if err != nil {
		return err
	}

	pipeline.RenderSummary(os.Stderr, summary)
	return nil
}

// parseEntityArg accepts the same forms as an input file row
func parseEntityArg(arg, basePath string) (model.Entity, error) {
	var fields []string
	if strings.Contains(arg, "://") {
		fields = []string{arg}
	} else {
		fields = strings.Split(arg, ",")
	}
	return input.ParseRow(fields, basePath)
}
