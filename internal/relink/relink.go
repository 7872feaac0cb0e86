// Package relink re-runs link extraction over every stored page in
// ascending id order, in chunks, recording a checkpoint after each chunk so
// an interrupted run resumes where it stopped.
package relink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/progress"
)

const (
	// DefaultChunkSize is the number of pages loaded per chunk.
	DefaultChunkSize = 100
	// CheckpointFile is the checkpoint file name under the save root.
	CheckpointFile = "relink.checkpoint"
)

// Checkpoint records how far a run got.
type Checkpoint struct {
	// LastID is the highest page id whose chunk completed.
	LastID    int64 `json:"last_id"`
	Processed int64 `json:"processed"`
	Created   int64 `json:"created"`
}

// Populator extracts links from one stored page into new addresses.
type Populator interface {
	PopulateFromPage(ctx context.Context, page crawler.Page, sameDomainOnly bool) ([]crawler.Address, error)
}

// Config tunes a Relinker.
type Config struct {
	ChunkSize int
	// CheckpointPath, when set, is rewritten after every chunk.
	CheckpointPath string
}

// Dependencies are the collaborators of a Relinker.
type Dependencies struct {
	Pages     crawler.PageStore
	Populator Populator
	Guard     *crawler.RunGuard
	Emitter   progress.Emitter
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
}

// Relinker runs the chunked backfill.
type Relinker struct {
	pages     crawler.PageStore
	populator Populator
	guard     *crawler.RunGuard
	emitter   progress.Emitter
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Relinker.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Relinker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = progress.Discard
	}
	return &Relinker{
		pages:     deps.Pages,
		populator: deps.Populator,
		guard:     deps.Guard,
		emitter:   emitter,
		ids:       deps.IDs,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger.Named("relink"),
	}
}

func (r *Relinker) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}

// Run processes every page with an id above from.LastID. onChunk, when not
// nil, observes the checkpoint after each completed chunk. Cancellation is
// honored between chunks; the returned checkpoint is always the last
// completed one.
func (r *Relinker) Run(ctx context.Context, from Checkpoint, onChunk func(Checkpoint)) (Checkpoint, error) {
	release, err := r.guard.Acquire(string(progress.ModeRelink))
	if err != nil {
		return from, err
	}
	defer release()

	runID := uuid.New()
	if r.ids != nil {
		if id, err := r.ids.NewRunID(); err == nil {
			runID = id
		}
	}
	started := r.now()
	r.emit(runID, progress.Event{Stage: progress.StageRunStart})

	cp, err := r.run(ctx, runID, from, onChunk)

	done := progress.Event{
		Stage:     progress.StageRunDone,
		Processed: cp.Processed,
		Created:   cp.Created,
		Dur:       r.now().Sub(started),
	}
	if err != nil {
		done.Stage = progress.StageRunError
		done.Note = err.Error()
		r.logger.Error("relink stopped", zap.Int64("last_id", cp.LastID), zap.Error(err))
	} else {
		r.logger.Info("no more pages to process", zap.Int64("processed", cp.Processed), zap.Int64("created", cp.Created))
	}
	r.emit(runID, done)
	return cp, err
}

func (r *Relinker) run(ctx context.Context, runID uuid.UUID, cp Checkpoint, onChunk func(Checkpoint)) (Checkpoint, error) {
	for {
		if err := ctx.Err(); err != nil {
			return cp, fmt.Errorf("relink interrupted after page %d: %w", cp.LastID, err)
		}
		chunk, err := r.pages.ListPagesAfter(ctx, cp.LastID, r.cfg.ChunkSize)
		if err != nil {
			return cp, fmt.Errorf("list pages after %d: %w", cp.LastID, err)
		}
		if len(chunk) == 0 {
			return cp, nil
		}

		// The chunk runs to completion even if ctx is cancelled meanwhile.
		chunkCtx := context.WithoutCancel(ctx)
		var created int64
		for _, page := range chunk {
			created += r.processPage(chunkCtx, page)
		}
		cp.LastID = chunk[len(chunk)-1].ID
		cp.Processed += int64(len(chunk))
		cp.Created += created
		r.logger.Info("chunk processed", zap.Int64("last_id", cp.LastID), zap.Int64("created", created))

		if r.cfg.CheckpointPath != "" {
			if err := SaveCheckpoint(r.cfg.CheckpointPath, cp); err != nil {
				return cp, err
			}
		}
		r.emit(runID, progress.Event{
			Stage:     progress.StageRelinkChunk,
			PageID:    cp.LastID,
			Processed: int64(len(chunk)),
			Created:   created,
		})
		if onChunk != nil {
			onChunk(cp)
		}
	}
}

func (r *Relinker) processPage(ctx context.Context, page crawler.Page) int64 {
	created, err := r.populator.PopulateFromPage(ctx, page, false)
	if err != nil {
		r.logger.Error("error processing page",
			zap.Int64("page_id", page.ID),
			zap.Int64("address_id", page.AddressID),
			zap.Error(err),
		)
		return 0
	}
	r.logger.Debug("processed page",
		zap.Int64("page_id", page.ID),
		zap.Int64("address_id", page.AddressID),
		zap.Int("created", len(created)),
	)
	return int64(len(created))
}

func (r *Relinker) emit(runID uuid.UUID, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(runID)
	evt.TS = r.now()
	evt.Mode = progress.ModeRelink
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	r.emitter.Emit(evt)
}

// LoadCheckpoint reads the checkpoint at path. A missing file yields the
// zero checkpoint.
func LoadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration.
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read relink checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode relink checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// SaveCheckpoint atomically replaces the checkpoint at path.
func SaveCheckpoint(path string, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode relink checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".relink-*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
