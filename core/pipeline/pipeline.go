package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"soniqfm/config"
	"soniqfm/core/metadata"
	"soniqfm/core/publish"
	"soniqfm/core/transcode"
	"soniqfm/logger"
	"soniqfm/model"
	"soniqfm/repository"
)

// StatusInvalidator drops any cached polling status after a commit so API
// readers never see a stale state.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, trackID int64)
}

// Pipeline drives one track from PENDING to READY or ERROR: metadata
// extraction, the PROCESSING commit, transcode, publish, and the terminal
// commit. It owns no retry logic; a returned error tells the dispatcher to
// schedule the next attempt.
type Pipeline struct {
	cfg        *config.Config
	repo       repository.TrackRepository
	transcoder transcode.Transcoder
	publisher  publish.Publisher
	status     StatusInvalidator // may be nil
}

// New creates a Pipeline. status may be nil when no status cache is wired.
func New(cfg *config.Config, repo repository.TrackRepository, tc transcode.Transcoder, pub publish.Publisher, status StatusInvalidator) *Pipeline {
	return &Pipeline{cfg: cfg, repo: repo, transcoder: tc, publisher: pub, status: status}
}

// Run executes one ingestion job. It returns nil on success and on terminal
// discard (missing record, already-READY track); any non-nil return is a
// *Failure the dispatcher should retry.
//
// Jobs are delivered at least once, so Run must be safe to re-enter for a
// track that is already PROCESSING or beyond: the working directory is
// re-derived and overwritten, and metadata extraction is non-destructive.
// On failure the temporary input file and the working directory are kept on
// disk for post-mortem inspection; they are only removed by a later
// successful run.
func (p *Pipeline) Run(ctx context.Context, job model.IngestJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f := failf(KindInternal, nil, "panic: %v", r)
			err = p.fail(ctx, job, f)
		}
	}()

	logger.Info("starting ingestion",
		logger.Int64("trackId", job.TrackID),
		logger.String("input", job.InputPath),
		logger.String("format", job.OutputFormat),
		logger.Int("attempt", job.Attempt))

	track, loadErr := p.repo.GetByID(ctx, job.TrackID)
	if loadErr != nil {
		return p.fail(ctx, job, failf(KindPersistence, loadErr, "failed to load track %d", job.TrackID))
	}
	if track == nil {
		// No record to mark in error: discard the job and remove the
		// orphaned input.
		logger.Error("track not found, discarding job", logger.Int64("trackId", job.TrackID))
		p.removeInput(job.InputPath)
		return nil
	}

	if track.Status == model.StatusReady {
		// Redelivered job for a finished track. Re-transcoding would
		// transiently knock the record back to PROCESSING for no benefit.
		logger.Info("track already ready, skipping redelivered job", logger.Int64("trackId", track.ID))
		p.removeInput(job.InputPath)
		return nil
	}

	p.applyMetadata(ctx, track, job.InputPath)

	track.Status = model.StatusProcessing
	track.ErrorMessage = nil
	if commitErr := p.repo.Update(ctx, track); commitErr != nil {
		// The PROCESSING commit is the synchronization point. If it cannot
		// land there is nothing consistent to mark; report the failure and
		// let the dispatcher retry from scratch.
		logger.Error("failed to commit PROCESSING transition",
			logger.Int64("trackId", track.ID),
			logger.ErrorField(commitErr))
		return failf(KindPersistence, commitErr, "failed to commit PROCESSING for track %d", track.ID)
	}
	p.invalidate(ctx, track.ID)
	logger.Info("track marked processing",
		logger.Int64("trackId", track.ID),
		logger.Any("durationMs", track.DurationMS))

	workDir := p.workDir(track.UserID, track.ID)
	// Idempotent: a prior partial run may have left a stale directory; the
	// transcoder overwrites its segment files.
	if mkErr := os.MkdirAll(workDir, 0755); mkErr != nil {
		return p.fail(ctx, job, failf(KindInternal, mkErr, "cannot create working directory %s", workDir))
	}

	if !p.cfg.TranscodingEnabled {
		return p.fail(ctx, job, failf(KindConfig, nil, "transcoding is disabled, cannot generate segments"))
	}

	outputFormat, ok := model.ParseManifestType(job.OutputFormat)
	if !ok || !p.cfg.FormatAllowed(job.OutputFormat) {
		return p.fail(ctx, job, failf(KindConfig, nil, "unsupported output format %q", job.OutputFormat))
	}

	req := transcode.Request{
		InputPath:       job.InputPath,
		OutputDir:       workDir,
		Format:          outputFormat,
		Codec:           p.cfg.DefaultAudioCodec,
		Bitrate:         p.cfg.DefaultAudioBitrate,
		SegmentDuration: p.cfg.DefaultSegmentDuration,
	}
	if tcErr := p.transcoder.Transcode(ctx, req); tcErr != nil {
		return p.fail(ctx, job, failf(KindTranscode, tcErr, "transcode to %s failed", outputFormat))
	}

	manifestURL, manifestType, pubErr := p.publisher.Publish(ctx, workDir, track.UserID, track.ID)
	if pubErr != nil {
		return p.fail(ctx, job, failf(KindPublish, pubErr, "publish failed for track %d", track.ID))
	}

	if readyErr := p.repo.MarkReady(ctx, track.ID, manifestURL, manifestType); readyErr != nil {
		return p.fail(ctx, job, failf(KindPersistence, readyErr, "failed to commit READY for track %d", track.ID))
	}
	p.invalidate(ctx, track.ID)

	// Cleanup failures are logged inside the publisher, never escalated.
	p.publisher.Cleanup(workDir)
	p.removeInput(job.InputPath)

	logger.Info("track ready",
		logger.Int64("trackId", track.ID),
		logger.String("manifestUrl", manifestURL),
		logger.String("manifestType", string(manifestType)))
	return nil
}

// applyMetadata merges extracted tags into the track. User-supplied values
// always win; extraction only backfills unset fields. Duration preference:
// extractor, then probe, then left null.
func (p *Pipeline) applyMetadata(ctx context.Context, track *model.Track, inputPath string) {
	extracted := metadata.Extract(inputPath)

	if track.Title == nil && extracted.Title != nil {
		track.Title = extracted.Title
	}
	if track.Artist == nil && extracted.Artist != nil {
		track.Artist = extracted.Artist
	}
	if track.Album == nil && extracted.Album != nil {
		track.Album = extracted.Album
	}
	if track.TrackNumber == nil && extracted.TrackNumber != nil {
		track.TrackNumber = extracted.TrackNumber
	}

	if extracted.DurationMS != nil {
		track.DurationMS = extracted.DurationMS
	} else if track.DurationMS == nil {
		ms, probeErr := p.transcoder.ProbeDurationMS(ctx, inputPath)
		if probeErr != nil {
			logger.Warn("could not determine duration",
				logger.Int64("trackId", track.ID),
				logger.ErrorField(probeErr))
		} else {
			track.DurationMS = &ms
		}
	}
}

// fail converts a stage failure into the terminal ERROR commit: reload the
// record fresh, store the bounded diagnostic, and leave both the working
// directory and the input file on disk. The failure is returned so the
// dispatcher can schedule a retry.
func (p *Pipeline) fail(ctx context.Context, job model.IngestJob, f *Failure) error {
	logger.Error("pipeline stage failed",
		logger.Int64("trackId", job.TrackID),
		logger.String("kind", string(f.Kind)),
		logger.ErrorField(f))

	fresh, loadErr := p.repo.GetByID(ctx, job.TrackID)
	if loadErr != nil || fresh == nil {
		logger.Error("could not reload track to mark error",
			logger.Int64("trackId", job.TrackID),
			logger.ErrorField(loadErr))
		return f
	}

	if markErr := p.repo.MarkError(ctx, fresh.ID, f.Message()); markErr != nil {
		logger.Error("failed to commit ERROR state",
			logger.Int64("trackId", fresh.ID),
			logger.ErrorField(markErr))
		return f
	}
	p.invalidate(ctx, fresh.ID)

	logger.Warn("keeping input file and working directory for inspection",
		logger.Int64("trackId", fresh.ID),
		logger.String("input", job.InputPath),
		logger.String("workDir", p.workDir(fresh.UserID, fresh.ID)))
	return f
}

func (p *Pipeline) workDir(userID, trackID int64) string {
	return filepath.Join(p.cfg.OutputDir, strconv.FormatInt(userID, 10), strconv.FormatInt(trackID, 10))
}

func (p *Pipeline) removeInput(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := os.Remove(path); err != nil {
		logger.Error("failed to remove temporary input file",
			logger.String("path", path),
			logger.ErrorField(err))
		return
	}
	logger.Debug("removed temporary input file", logger.String("path", path))
}

func (p *Pipeline) invalidate(ctx context.Context, trackID int64) {
	if p.status != nil {
		p.status.Invalidate(ctx, trackID)
	}
}
