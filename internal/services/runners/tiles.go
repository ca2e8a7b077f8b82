package runners

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/slideflow/internal/common"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
)

// Job type tags for the built-in runners.
const (
	TypeSegmentation = "SEGMENTATION"
	TypeTissueMask   = "TISSUE_MASK"
)

// Default image dimensions used when the submission carries no explicit size.
// A 40x magnification whole-slide scan commonly lands in this range.
const (
	defaultImageWidth  = 16384
	defaultImageHeight = 16384
)

// tileGrid describes how a slide is carved into overlapping tiles.
type tileGrid struct {
	Width    int
	Height   int
	TileSize int
	Overlap  int
	Cols     int
	Rows     int
}

// newTileGrid computes tile counts for the image. Stride is tile size minus
// overlap; edge tiles are clamped to the image bounds, so any remainder adds
// one more row or column.
func newTileGrid(width, height, tileSize, overlap int) tileGrid {
	stride := tileSize - overlap
	cols := tilesAlong(width, tileSize, stride)
	rows := tilesAlong(height, tileSize, stride)
	return tileGrid{
		Width:    width,
		Height:   height,
		TileSize: tileSize,
		Overlap:  overlap,
		Cols:     cols,
		Rows:     rows,
	}
}

// tilesAlong counts windows of tileSize placed every stride pixels, with the
// last window clamped to the image edge.
func tilesAlong(length, tileSize, stride int) int {
	if length <= tileSize {
		return 1
	}
	return (length-tileSize+stride-1)/stride + 1
}

// Total returns the number of tiles in the grid.
func (g tileGrid) Total() int {
	return g.Cols * g.Rows
}

// tilePipeline is the simulated inference loop shared by the built-in
// runners. It walks the tile grid in batches, sleeps for the configured
// per-batch delay in place of model execution, reports progress after each
// batch, and persists an intermediate result document so partly-finished
// work is inspectable.
type tilePipeline struct {
	config     common.RunnersConfig
	resultsDir string
	batchDelay time.Duration
}

func newTilePipeline(config common.RunnersConfig, resultsDir string) tilePipeline {
	return tilePipeline{
		config:     config,
		resultsDir: resultsDir,
		batchDelay: common.ParseDurationOr(config.BatchDelay, 10*time.Millisecond),
	}
}

// gridFor resolves the tile grid from job params, falling back to defaults.
func (p tilePipeline) gridFor(job models.JobView) tileGrid {
	width := paramInt(job.Params, "image_width", defaultImageWidth)
	height := paramInt(job.Params, "image_height", defaultImageHeight)
	return newTileGrid(width, height, p.config.TileSize, p.config.Overlap)
}

// run executes the batch loop. perBatch is invoked once per completed batch
// with the count of tiles processed so far and may accumulate runner-specific
// state for the final result.
func (p tilePipeline) run(ctx context.Context, job models.JobView, sink interfaces.ProgressSink, perBatch func(processed, total int) error) (tileGrid, error) {
	grid := p.gridFor(job)
	total := grid.Total()

	sink.Report(0, total, "tiling started")

	processed := 0
	for processed < total {
		if err := ctx.Err(); err != nil {
			return grid, err
		}

		batch := p.config.BatchSize
		if remaining := total - processed; batch > remaining {
			batch = remaining
		}

		// Simulated model inference for one batch of tiles.
		select {
		case <-time.After(p.batchDelay):
		case <-ctx.Done():
			return grid, ctx.Err()
		}

		processed += batch
		if perBatch != nil {
			if err := perBatch(processed, total); err != nil {
				return grid, err
			}
		}
		sink.Report(processed, total, "")
	}

	return grid, nil
}

// jobDir returns (and creates) the per-workflow results directory.
func (p tilePipeline) jobDir(job models.JobView) (string, error) {
	dir := filepath.Join(p.resultsDir, job.WorkflowID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}
	return dir, nil
}

// writeJSON persists a result document atomically via rename.
func writeJSON(path string, doc interface{}) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result document: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write result document: %w", err)
	}
	return os.Rename(tmp, path)
}

// intermediatePath returns where a job's in-flight snapshot lives.
func intermediatePath(dir, jobID string) string {
	return filepath.Join(dir, jobID+"_intermediate.json")
}

// IntermediatePath exposes the intermediate document location for the API layer.
func IntermediatePath(resultsDir, workflowID, jobID string) string {
	return intermediatePath(filepath.Join(resultsDir, workflowID), jobID)
}

func paramInt(params map[string]interface{}, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		// JSON numbers decode as float64.
		if v > 0 {
			return int(v)
		}
	}
	return def
}

func paramFloat(params map[string]interface{}, key string, def float64) float64 {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
