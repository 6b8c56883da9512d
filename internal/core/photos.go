package core

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"petri/internal/blob"
	"petri/internal/overlay"
	"petri/pkg/domain"
)

const (
	photoPrefix = "photos/"
	// photoURLExpiry is the longest lifetime S3 accepts for a presigned GET.
	photoURLExpiry = 7 * 24 * time.Hour
)

// PhotoUpload is a captured photo to attach to a tree.
type PhotoUpload struct {
	Data        []byte
	ContentType string
	Note        string
	TakenAt     time.Time
}

func photoKey(id string) string { return photoPrefix + id }

// storePhoto writes the payload to the blob store and returns its record.
func (s *Synchronizer) storePhoto(ctx context.Context, tree domain.TreeID, up PhotoUpload) (domain.Photo, error) {
	if len(up.Data) == 0 {
		return domain.Photo{}, domain.InvalidArgumentf("photo is empty")
	}
	if s.blobs == nil {
		return domain.Photo{}, domain.StorageFailure(errors.New("no blob store configured"), "store photo")
	}
	contentType := up.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(up.Data)
	}
	id := uuid.NewString()
	key := photoKey(id)
	info, err := s.blobs.Put(ctx, key, bytes.NewReader(up.Data), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"tree": tree.Key()},
	})
	if err != nil {
		return domain.Photo{}, domain.StorageFailure(err, "store photo")
	}
	url := info.URL
	if url == "" {
		url, err = s.blobs.PresignURL(ctx, key, blob.SignedURLOptions{Expiry: photoURLExpiry})
		if err != nil {
			s.deleteBlobs(ctx, []string{id})
			return domain.Photo{}, domain.StorageFailure(err, "sign photo url")
		}
	}
	takenAt := up.TakenAt
	if takenAt.IsZero() {
		takenAt = s.now()
	}
	return domain.Photo{ID: id, URL: url, TakenAt: takenAt, Note: up.Note}, nil
}

func (s *Synchronizer) deleteBlobs(ctx context.Context, photoIDs []string) {
	if s.blobs == nil {
		return
	}
	for _, id := range photoIDs {
		if _, err := s.blobs.Delete(ctx, photoKey(id)); err != nil {
			s.logger.Warn("delete photo blob", zap.String("photo", id), zap.Error(err))
		}
	}
}

// bindPhotosLocked records photos and appends them to tree's binding.
// It returns a function restoring the previous overlay maps.
func (s *Synchronizer) bindPhotosLocked(ctx context.Context, tree domain.TreeID, photos []domain.Photo) (func(), error) {
	set, err := s.overlays.Load(ctx)
	if err != nil {
		return nil, err
	}
	prevPhotos := clonePhotos(set.Photos)
	prevBindings := cloneBindings(set.Bindings)
	for _, p := range photos {
		set.Photos[p.ID] = p
		set.Bindings[tree] = append(set.Bindings[tree], p.ID)
	}
	restore := func() {
		if err := s.overlays.SavePhotos(ctx, prevPhotos); err != nil {
			s.logger.Warn("restore photo records", zap.Error(err))
		}
		if err := s.overlays.SaveBindings(ctx, prevBindings); err != nil {
			s.logger.Warn("restore photo bindings", zap.Error(err))
		}
	}
	if err := s.overlays.SavePhotos(ctx, set.Photos); err != nil {
		return nil, err
	}
	if err := s.overlays.SaveBindings(ctx, set.Bindings); err != nil {
		restore()
		return nil, err
	}
	return restore, nil
}

// AddProgressPhoto stores a progress photo: care +2 and health +3 (capped at 100).
func (s *Synchronizer) AddProgressPhoto(ctx context.Context, id domain.TreeID, up PhotoUpload) (domain.CanonicalTree, error) {
	var out domain.CanonicalTree
	err := s.run(ctx, "add_progress_photo", func(ctx context.Context) error {
		s.mu.Lock()
		closed, idx := s.closed, s.indexOf(id)
		s.mu.Unlock()
		if closed {
			return errClosed("add progress photo")
		}
		if idx < 0 {
			return domain.NotFound(id)
		}
		photo, err := s.storePhoto(ctx, id, up)
		if err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if idx = s.indexOf(id); idx < 0 {
			s.deleteBlobs(ctx, []string{photo.ID})
			return domain.NotFound(id)
		}
		restore, err := s.bindPhotosLocked(ctx, id, []domain.Photo{photo})
		if err != nil {
			s.deleteBlobs(ctx, []string{photo.ID})
			return err
		}
		next := cloneTrees(s.trees)
		t := &next[idx]
		t.Photos = append(t.Photos, photo)
		t.CareIndex += 2
		t.HealthScore = domain.ClampHealth(t.HealthScore + 3)
		if err := s.commitLocked(ctx, next); err != nil {
			restore()
			s.deleteBlobs(ctx, []string{photo.ID})
			return err
		}
		out = next[idx].Clone()
		return nil
	})
	return out, err
}

func clonePhotos(in overlay.Photos) overlay.Photos {
	out := make(overlay.Photos, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneBindings(in overlay.Bindings) overlay.Bindings {
	out := make(overlay.Bindings, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
