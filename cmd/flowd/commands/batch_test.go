package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	flowdtest "github.com/teranos/flowd/internal/testing"
	"github.com/teranos/flowd/store"
)

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBatchManifest(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `
mode: PSYCHODIAGNOSTICS
batch_id: 2026-08-intake
files:
  - name: smith.txt
    path: ./intake/smith.txt
  - path: /data/jones.txt
    batch_id: override
`)

	manifest, err := loadBatchManifest(path)
	require.NoError(t, err)

	assert.Equal(t, "PSYCHODIAGNOSTICS", manifest.Mode)
	assert.Equal(t, "2026-08-intake", manifest.BatchID)
	require.Len(t, manifest.Files, 2)
	assert.Equal(t, "smith.txt", manifest.Files[0].Name)
	assert.Equal(t, "./intake/smith.txt", manifest.Files[0].Path)
	assert.Equal(t, "override", manifest.Files[1].BatchID)
}

func TestLoadBatchManifest_GeneratesBatchID(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `
mode: CAREER_GUIDANCE
files:
  - path: ./a.txt
`)

	manifest, err := loadBatchManifest(path)
	require.NoError(t, err)
	assert.NotEmpty(t, manifest.BatchID)
}

func TestLoadBatchManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing mode", "files:\n  - path: ./a.txt\n", "must set mode"},
		{"no files", "mode: PSYCHODIAGNOSTICS\n", "lists no files"},
		{"file without path", "mode: PSYCHODIAGNOSTICS\nfiles:\n  - name: a.txt\n", "has no path"},
		{"bad yaml", "mode: [unclosed\n", "failed to parse manifest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeManifest(t, t.TempDir(), tt.content)
			_, err := loadBatchManifest(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadBatchManifest_MissingFile(t *testing.T) {
	_, err := loadBatchManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read manifest")
}

func TestResolveManifestPath(t *testing.T) {
	assert.Equal(t, "/abs/file.txt", resolveManifestPath("/manifests", "/abs/file.txt"))
	assert.Equal(t, filepath.Join("/manifests", "intake", "a.txt"),
		resolveManifestPath("/manifests", "./intake/a.txt"))
}

func TestJobForFile(t *testing.T) {
	manifest := &batchManifest{Mode: "PSYCHODIAGNOSTICS", BatchID: "batch-7"}

	job := jobForFile(manifest, batchFile{Path: "./intake/smith.txt"}, "document text")

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "PSYCHODIAGNOSTICS", job.Mode)
	assert.Equal(t, "batch-7", job.BatchID)
	assert.Equal(t, "batch-7", job.SessionID)
	assert.Equal(t, "smith.txt", job.FileName)
	assert.Equal(t, "document text", job.Responses.Raw)
	assert.Equal(t, store.JobStatusQueued, job.Status)
	assert.True(t, job.IsBatch())
}

func TestJobForFile_Overrides(t *testing.T) {
	manifest := &batchManifest{Mode: "CAREER_GUIDANCE", BatchID: "batch-7"}

	job := jobForFile(manifest, batchFile{Name: "renamed.txt", Path: "./a.txt", BatchID: "special"}, "text")

	assert.Equal(t, "renamed.txt", job.FileName)
	assert.Equal(t, "special", job.BatchID)
}

func TestEnqueuedBatchJobRoundTrip(t *testing.T) {
	db := flowdtest.CreateTestDB(t)
	st := store.NewStore(db, zap.NewNop().Sugar())
	ctx := context.Background()

	manifest := &batchManifest{Mode: "PSYCHODIAGNOSTICS", BatchID: "batch-rt"}
	job := jobForFile(manifest, batchFile{Name: "smith.txt", Path: "./smith.txt"}, "raw intake text")
	require.NoError(t, st.CreateJob(ctx, job))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusQueued, got.Status)
	assert.Equal(t, "batch-rt", got.BatchID)
	assert.Equal(t, "smith.txt", got.FileName)
	assert.Equal(t, "raw intake text", got.Responses.Raw)
	assert.True(t, got.IsBatch())
}
