package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/proofpack/internal/input"
	"github.com/ppiankov/proofpack/internal/model"
	"github.com/ppiankov/proofpack/internal/pipeline"
)

var runTimeout time.Duration

// runFlagKeys maps run flags to configuration keys
var runFlagKeys = map[string]string{
	"sessions":       "concurrency.sessions",
	"output-dir":     "output.dir",
	"no-upload":      "output.no_upload",
	"skip-uploaded":  "ledger.skip_uploaded",
	"respect-robots": "rate_limiting.respect_robots",
	"pdf":            "capture.emit_pdf",
	"base-path":      "input.base_path",
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Capture, bundle and upload evidence for every entity in a file",
	Long: `Run processes every registrant listed in the input file:
- Navigate to the registrant's details page with the authenticated session
- Capture attendance, contact, ticket email, QR code, confirmation and invoice
- Pack the registrant folder into <id>.zip with an integrity manifest
- Upload the archive and remove the local copies once the upload is confirmed

Each line of the input file is either a direct address or an id pair:
  https://events.example.com/registrants/view?collectionId=7&id=12345,Ada Lovelace
  12345,7,Ada Lovelace        (requires --base-path)

Example:
  proofpack run registrants.csv
  proofpack run registrants.csv --sessions 3 --output-dir ./out
  proofpack run registrants.csv --no-upload --pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addPipelineFlags(runCmd)

	runCmd.Flags().Int("sessions", 1, "number of isolated browser sessions")
	runCmd.Flags().Bool("skip-uploaded", false, "skip entities the upload ledger already holds")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "total timeout for the run (0 = none)")
}

// addPipelineFlags registers the flags shared by run and capture
func addPipelineFlags(cmd *cobra.Command) {
	defaults := model.DefaultConfig()
	cmd.Flags().String("output-dir", defaults.Output.Dir, "local working directory")
	cmd.Flags().Bool("no-upload", false, "keep evidence folders locally, skip bundling and upload")
	cmd.Flags().Bool("respect-robots", false, "honour robots.txt crawl delay when pacing navigations")
	cmd.Flags().Bool("pdf", false, "also write a paginated PDF of full-page captures")
	cmd.Flags().String("base-path", "", "details page address used for id,collection rows")
}

func runRun(cmd *cobra.Command, args []string) error {
	file := args[0]

	cfg, log, err := setup(cmd, runFlagKeys)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Proofpack Evidence Run\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Sessions:     %d\n", cfg.Concurrency.Sessions)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", cfg.Output.Dir)
	if cfg.Output.NoUpload {
		fmt.Fprintf(os.Stderr, "  Upload:       disabled\n")
	} else {
		fmt.Fprintf(os.Stderr, "  Upload:       %s %s\n", cfg.Storage.Provider, storageTarget(cfg))
	}
	if runTimeout > 0 {
		fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", runTimeout)
	}
	fmt.Fprintf(os.Stderr, "\n")

	entities, err := input.ReadEntities(file, cfg.Input.BasePath, log)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		return fmt.Errorf("%s: %w", file, pipeline.ErrNoEntities)
	}
	fmt.Fprintf(os.Stderr, "✓ Loaded %d entities\n", len(entities))

	runner, err := pipeline.Build(ctx, cfg, log)
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx, entities)
	if err != nil {
		return err
	}

	pipeline.RenderSummary(os.Stderr, summary)
	return nil
}

func storageTarget(cfg *model.Config) string {
	if cfg.Storage.Provider == "dir" {
		return cfg.Storage.Dir
	}
	return cfg.Storage.Container
}
