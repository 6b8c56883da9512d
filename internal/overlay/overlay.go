// Package overlay persists the client-only tree data (photo records, photo
// bindings, NFT image bindings and the merged snapshot) as JSON entries of a
// domain.KeyValueStore.
package overlay

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"petri/pkg/domain"
)

// Photos maps photo id to its record.
type Photos map[string]domain.Photo

// Bindings maps tree id to the ordered ids of its photos.
type Bindings map[domain.TreeID][]string

// NFTImages maps tree id to its NFT image URI.
type NFTImages map[domain.TreeID]string

// Snapshot is the last merged tree list keyed by tree id.
type Snapshot map[domain.TreeID]domain.CanonicalTree

// Set groups the three overlay maps read together during a merge.
type Set struct {
	Photos    Photos
	Bindings  Bindings
	NFTImages NFTImages
}

// PhotosFor resolves the photo records bound to id, skipping dangling ids.
func (s Set) PhotosFor(id domain.TreeID) []domain.Photo {
	ids := s.Bindings[id]
	out := make([]domain.Photo, 0, len(ids))
	for _, pid := range ids {
		if p, ok := s.Photos[pid]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Store reads and writes overlay entries.
type Store struct {
	kv     domain.KeyValueStore
	logger *zap.Logger
}

// New wraps kv. A nil logger discards corruption reports.
func New(kv domain.KeyValueStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, logger: logger}
}

// KV exposes the underlying store.
func (s *Store) KV() domain.KeyValueStore { return s.kv }

// Load reads the three overlay maps. Missing or corrupt entries load empty.
func (s *Store) Load(ctx context.Context) (Set, error) {
	set := Set{Photos: Photos{}, Bindings: Bindings{}, NFTImages: NFTImages{}}
	if err := s.read(ctx, domain.KeyPhotos, &set.Photos); err != nil {
		return Set{}, err
	}
	if err := s.read(ctx, domain.KeyPhotoBindings, &set.Bindings); err != nil {
		return Set{}, err
	}
	if err := s.read(ctx, domain.KeyNFTImages, &set.NFTImages); err != nil {
		return Set{}, err
	}
	return set, nil
}

// LoadSnapshot reads the persisted snapshot. Missing or corrupt loads empty.
func (s *Store) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{}
	if err := s.read(ctx, domain.KeySnapshot, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// SavePhotos replaces the photo record map.
func (s *Store) SavePhotos(ctx context.Context, photos Photos) error {
	return s.write(ctx, domain.KeyPhotos, photos)
}

// SaveBindings replaces the photo binding map.
func (s *Store) SaveBindings(ctx context.Context, bindings Bindings) error {
	return s.write(ctx, domain.KeyPhotoBindings, bindings)
}

// SaveNFTImages replaces the NFT image binding map.
func (s *Store) SaveNFTImages(ctx context.Context, images NFTImages) error {
	return s.write(ctx, domain.KeyNFTImages, images)
}

// SaveSnapshot persists trees keyed by id.
func (s *Store) SaveSnapshot(ctx context.Context, trees []domain.CanonicalTree) error {
	snap := make(Snapshot, len(trees))
	for _, t := range trees {
		snap[t.ID] = t
	}
	return s.write(ctx, domain.KeySnapshot, snap)
}

// Clear removes every tree entry.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, domain.TreeDataKeys...); err != nil {
		return domain.StorageFailure(err, "clear tree data")
	}
	return nil
}

// Ordered returns the snapshot trees ordered by creation time then id.
func (snap Snapshot) Ordered() []domain.CanonicalTree {
	out := make([]domain.CanonicalTree, 0, len(snap))
	for _, t := range snap {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) read(ctx context.Context, key string, dst any) error {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return domain.StorageFailure(err, "read "+key)
	}
	if !ok || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		corrupt := errors.Wrapf(errors.Mark(err, domain.ErrStorageCorrupt), "decode %s", key)
		s.logger.Warn("discarding corrupt overlay entry", zap.String("key", key), zap.Error(corrupt))
		resetMap(dst)
	}
	return nil
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		return domain.StorageFailure(err, "write "+key)
	}
	return nil
}

// resetMap empties a partially decoded map so a corrupt entry loads as empty.
func resetMap(dst any) {
	switch m := dst.(type) {
	case *Photos:
		*m = Photos{}
	case *Bindings:
		*m = Bindings{}
	case *NFTImages:
		*m = NFTImages{}
	case *Snapshot:
		*m = Snapshot{}
	}
}
