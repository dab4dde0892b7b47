package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/flowd/logger"
	"github.com/teranos/flowd/store"
)

// BatchCmd groups batch job operations.
var BatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Manage batch jobs",
	Long: `Manage locally enqueued batch jobs.

Batch jobs carry raw document text instead of frontend questionnaire
responses. Workers process them through the same pipeline; results are
written to the configured batch output directory rather than mirrored
to the frontend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var batchEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue batch jobs from a YAML manifest",
	Long: `Read a YAML manifest and enqueue one batch job per listed file.

Each file's raw text becomes the job payload. Relative paths resolve
against the manifest's directory. Results land in batch.output_dir.

Manifest format:

  mode: PSYCHODIAGNOSTICS
  batch_id: 2026-08-intake     # optional, generated when omitted
  files:
    - name: smith-intake.txt
      path: ./intake/smith.txt
    - path: ./intake/jones.txt # name defaults to the file basename

Example:
  flowd batch enqueue --manifest jobs.yaml
  flowd batch enqueue -m jobs.yaml --dry-run`,
	RunE: runBatchEnqueue,
}

func init() {
	batchEnqueueCmd.Flags().StringP("manifest", "m", "", "Path to the YAML manifest (required)")
	batchEnqueueCmd.MarkFlagRequired("manifest")
	batchEnqueueCmd.Flags().Bool("dry-run", false, "Parse the manifest and list what would be enqueued without writing")

	BatchCmd.AddCommand(batchEnqueueCmd)
}

// batchManifest is the YAML description of a batch enqueue run.
type batchManifest struct {
	Mode    string      `yaml:"mode"`
	BatchID string      `yaml:"batch_id"`
	Files   []batchFile `yaml:"files"`
}

type batchFile struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
	BatchID string `yaml:"batch_id"`
}

// loadBatchManifest reads and validates a YAML enqueue manifest,
// generating a batch ID when the manifest does not pin one.
func loadBatchManifest(path string) (*batchManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest batchManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if manifest.Mode == "" {
		return nil, fmt.Errorf("manifest must set mode")
	}
	if len(manifest.Files) == 0 {
		return nil, fmt.Errorf("manifest lists no files")
	}
	for i, f := range manifest.Files {
		if f.Path == "" {
			return nil, fmt.Errorf("manifest file %d has no path", i+1)
		}
	}
	if manifest.BatchID == "" {
		manifest.BatchID = uuid.New().String()
	}

	return &manifest, nil
}

// resolveManifestPath resolves a manifest-relative file path.
func resolveManifestPath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// jobForFile builds the queued batch job for one manifest entry.
func jobForFile(manifest *batchManifest, file batchFile, text string) *store.Job {
	name := file.Name
	if name == "" {
		name = filepath.Base(file.Path)
	}
	batchID := file.BatchID
	if batchID == "" {
		batchID = manifest.BatchID
	}

	return &store.Job{
		ID:        uuid.New().String(),
		SessionID: batchID,
		Mode:      manifest.Mode,
		Status:    store.JobStatusQueued,
		BatchID:   batchID,
		FileName:  name,
		Responses: store.Input{Raw: text},
	}
}

func runBatchEnqueue(cmd *cobra.Command, args []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	manifest, err := loadBatchManifest(manifestPath)
	if err != nil {
		return err
	}
	baseDir := filepath.Dir(manifestPath)

	if dryRun {
		pterm.Info.Printf("Would enqueue %d file(s) as batch %s (mode %s):\n",
			len(manifest.Files), manifest.BatchID, manifest.Mode)
		for _, f := range manifest.Files {
			fmt.Printf("  %s\n", resolveManifestPath(baseDir, f.Path))
		}
		return nil
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	st := store.NewStore(database, logger.Logger)
	ctx := cmd.Context()

	enqueued := 0
	failed := 0
	for _, f := range manifest.Files {
		path := resolveManifestPath(baseDir, f.Path)
		content, err := os.ReadFile(path)
		if err != nil {
			pterm.Error.Printf("  %s: %v\n", path, err)
			failed++
			continue
		}

		job := jobForFile(manifest, f, string(content))
		if err := st.CreateJob(ctx, job); err != nil {
			pterm.Error.Printf("  %s: %v\n", job.FileName, err)
			failed++
			continue
		}

		fmt.Printf("  queued %s  %s\n", job.ID, job.FileName)
		enqueued++
	}

	if enqueued == 0 {
		return fmt.Errorf("no jobs enqueued (%d file(s) failed)", failed)
	}

	pterm.Success.Printf("Enqueued %d job(s) in batch %s\n", enqueued, manifest.BatchID)
	if failed > 0 {
		pterm.Warning.Printf("%d file(s) skipped\n", failed)
	}
	return nil
}
