package repository

import (
	"context"
	"errors"
	"fmt"

	"soniqfm/model"

	"gorm.io/gorm"
)

// ErrTrackBusy is returned when a delete is refused because the track is
// mid-processing. Hard-deleting under a live worker would leave that worker
// committing status updates into a void.
var ErrTrackBusy = errors.New("track is currently processing")

// TrackRepository defines the persistence operations for tracks.
//
// The pipeline is the only writer once a track has been created via upload:
// Update persists the PROCESSING transition together with backfilled
// metadata, MarkReady and MarkError are the terminal commits.
type TrackRepository interface {
	Create(ctx context.Context, track *model.Track) error
	GetByID(ctx context.Context, id int64) (*model.Track, error)
	ListByUser(ctx context.Context, userID int64) ([]*model.Track, error)
	Update(ctx context.Context, track *model.Track) error
	MarkReady(ctx context.Context, id int64, manifestURL string, manifestType model.ManifestType) error
	MarkError(ctx context.Context, id int64, message string) error
	Delete(ctx context.Context, id int64) error
	StatusByID(ctx context.Context, id int64) (*model.StatusInfo, error)
}

// gormTrackRepository implements TrackRepository on GORM.
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository creates a new GORM-backed track repository.
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) error {
	if track.Status == "" {
		track.Status = model.StatusPending
	}
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		return fmt.Errorf("failed to create track: %w", err)
	}
	return nil
}

// GetByID retrieves a track by its ID. Returns (nil, nil) when no such track
// exists.
func (r *gormTrackRepository) GetByID(ctx context.Context, id int64) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).First(&track, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load track %d: %w", id, err)
	}
	return &track, nil
}

func (r *gormTrackRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Track, error) {
	tracks := make([]*model.Track, 0)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks for user %d: %w", userID, err)
	}
	return tracks, nil
}

// Update persists the full track row. Used by the pipeline for the
// PROCESSING commit, where backfilled metadata, the status change and the
// cleared error message must land together.
func (r *gormTrackRepository) Update(ctx context.Context, track *model.Track) error {
	if err := r.db.WithContext(ctx).Save(track).Error; err != nil {
		return fmt.Errorf("failed to update track %d: %w", track.ID, err)
	}
	return nil
}

// MarkReady sets the terminal success state: manifest URL and type are
// written together, never one without the other.
func (r *gormTrackRepository) MarkReady(ctx context.Context, id int64, manifestURL string, manifestType model.ManifestType) error {
	err := r.db.WithContext(ctx).Model(&model.Track{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.StatusReady,
			"manifest_url":  manifestURL,
			"manifest_type": manifestType,
			"error_message": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark track %d ready: %w", id, err)
	}
	return nil
}

func (r *gormTrackRepository) MarkError(ctx context.Context, id int64, message string) error {
	err := r.db.WithContext(ctx).Model(&model.Track{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.StatusError,
			"error_message": message,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark track %d errored: %w", id, err)
	}
	return nil
}

// Delete removes a track. A track that is currently PROCESSING is refused
// with ErrTrackBusy; the caller can retry once the pipeline has committed a
// terminal state.
func (r *gormTrackRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var track model.Track
		if err := tx.First(&track, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to load track %d for delete: %w", id, err)
		}
		if track.Status == model.StatusProcessing {
			return ErrTrackBusy
		}
		if err := tx.Delete(&model.Track{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete track %d: %w", id, err)
		}
		return nil
	})
}

// StatusByID returns the minimal polling shape. Returns (nil, nil) when the
// track does not exist.
func (r *gormTrackRepository) StatusByID(ctx context.Context, id int64) (*model.StatusInfo, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Select("id", "status", "error_message").First(&track, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load status for track %d: %w", id, err)
	}
	return &model.StatusInfo{ID: track.ID, Status: track.Status, ErrorMessage: track.ErrorMessage}, nil
}
