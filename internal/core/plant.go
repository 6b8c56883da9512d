package core

import (
	"context"

	"go.uber.org/zap"

	"petri/pkg/domain"
)

// Pending is the outcome of an optimistic plant. The temporary tree is
// visible immediately; Wait blocks until the remote create settled.
type Pending struct {
	temp domain.CanonicalTree
	done chan struct{}
	tree domain.CanonicalTree
	err  error
}

// Temporary returns the optimistic tree carrying a negative id.
func (p *Pending) Temporary() domain.CanonicalTree { return p.temp.Clone() }

// Done is closed once the remote create succeeded or was rolled back.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait returns the authoritative tree, or the create error after rollback.
func (p *Pending) Wait(ctx context.Context) (domain.CanonicalTree, error) {
	select {
	case <-p.done:
		return p.tree.Clone(), p.err
	case <-ctx.Done():
		return domain.CanonicalTree{}, ctx.Err()
	}
}

// PlantAsync inserts a temporary tree, persists it and creates the tree
// remotely in the background. Validation, session and storage failures are
// returned before anything is applied. The remote create uses ctx.
func (s *Synchronizer) PlantAsync(ctx context.Context, req domain.PlantRequest, photos ...PhotoUpload) (*Pending, error) {
	var pending *Pending
	err := s.run(ctx, "plant", func(ctx context.Context) error {
		if err := req.Validate(); err != nil {
			return err
		}
		token := s.token()
		if token == "" {
			return domain.Unauthenticated("plant")
		}
		gen := s.generation()
		user, _ := s.currentUser()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return errClosed("plant")
		}
		tempID := s.nextTemp
		s.nextTemp--
		s.mu.Unlock()

		stored := make([]domain.Photo, 0, len(photos))
		storedIDs := make([]string, 0, len(photos))
		for _, up := range photos {
			p, err := s.storePhoto(ctx, tempID, up)
			if err != nil {
				s.deleteBlobs(ctx, storedIDs)
				return err
			}
			stored = append(stored, p)
			storedIDs = append(storedIDs, p.ID)
		}

		now := s.now()
		temp := domain.CanonicalTree{
			ID:           tempID,
			OwnerID:      user.ID,
			OwnerName:    user.Name(),
			Species:      req.Species,
			Nickname:     req.Nickname,
			Latitude:     req.Latitude,
			Longitude:    req.Longitude,
			LocationName: req.LocationName,
			Description:  req.Description,
			HealthScore:  domain.MaxHealth,
			PlantingDate: now,
			CreatedAt:    now,
			UpdatedAt:    now,
			TokenID:      domain.TokenPlaceholder(tempID),
			Photos:       stored,
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			s.deleteBlobs(ctx, storedIDs)
			return errClosed("plant")
		}
		if s.generation() != gen {
			s.deleteBlobs(ctx, storedIDs)
			return errSessionChanged("plant")
		}
		restore := func() {}
		if len(stored) > 0 {
			var err error
			if restore, err = s.bindPhotosLocked(ctx, tempID, stored); err != nil {
				s.deleteBlobs(ctx, storedIDs)
				return err
			}
		}
		next := append(cloneTrees(s.trees), temp)
		if err := s.commitLocked(ctx, next); err != nil {
			restore()
			s.deleteBlobs(ctx, storedIDs)
			return err
		}
		pending = &Pending{temp: temp.Clone(), done: make(chan struct{})}
		s.pending.Add(1)
		go s.completePlant(ctx, token, gen, req, pending)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// Plant plants a tree and waits for the remote create.
func (s *Synchronizer) Plant(ctx context.Context, req domain.PlantRequest, photos ...PhotoUpload) (domain.CanonicalTree, error) {
	p, err := s.PlantAsync(ctx, req, photos...)
	if err != nil {
		return domain.CanonicalTree{}, err
	}
	return p.Wait(ctx)
}

func (s *Synchronizer) completePlant(ctx context.Context, token string, gen uint64, req domain.PlantRequest, p *Pending) {
	defer s.pending.Done()
	defer close(p.done)

	_ = s.run(ctx, "plant_confirm", func(ctx context.Context) error {
		rec, err := s.remote.CreateTree(ctx, token, req)
		if err != nil {
			s.expireOn401(ctx, err)
			s.rollbackPlant(context.WithoutCancel(ctx), p.temp.ID)
			p.err = err
			return err
		}
		p.tree, p.err = s.confirmPlant(context.WithoutCancel(ctx), gen, p.temp, rec)
		return p.err
	})
}

// rollbackPlant removes the temporary tree, its photo binding and blobs.
func (s *Synchronizer) rollbackPlant(ctx context.Context, tempID domain.TreeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropPhotosLocked(ctx, tempID)
	if idx := s.indexOf(tempID); idx >= 0 {
		next := make([]domain.CanonicalTree, 0, len(s.trees)-1)
		next = append(next, cloneTrees(s.trees[:idx])...)
		next = append(next, cloneTrees(s.trees[idx+1:])...)
		if err := s.commitLocked(ctx, next); err != nil {
			// memory must not keep a tree the service rejected
			s.trees = next
			s.observeCount()
			s.logger.Warn("persist plant rollback", zap.Error(err))
		}
	}
	s.logger.Info("plant rolled back", zap.Int64("temporary_id", int64(tempID)))
}

// dropPhotosLocked unbinds the photos of a tree and deletes their blobs.
func (s *Synchronizer) dropPhotosLocked(ctx context.Context, id domain.TreeID) {
	set, err := s.overlays.Load(ctx)
	if err != nil {
		s.logger.Warn("load overlays to drop photos", zap.Error(err))
		return
	}
	ids, ok := set.Bindings[id]
	if !ok {
		return
	}
	delete(set.Bindings, id)
	for _, pid := range ids {
		delete(set.Photos, pid)
	}
	if err := s.overlays.SaveBindings(ctx, set.Bindings); err != nil {
		s.logger.Warn("drop photo binding", zap.Error(err))
	}
	if err := s.overlays.SavePhotos(ctx, set.Photos); err != nil {
		s.logger.Warn("drop photo records", zap.Error(err))
	}
	s.deleteBlobs(ctx, ids)
}

// confirmPlant swaps the temporary tree for the authoritative record. Nothing
// is inserted when the session's data was cleared since the plant began, or
// when the temporary tree was deleted while the create was in flight.
func (s *Synchronizer) confirmPlant(ctx context.Context, gen uint64, temp domain.CanonicalTree, rec domain.TreeRecord) (domain.CanonicalTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, hasUser := s.currentUser()
	if s.generation() != gen {
		s.logger.Info("discarding plant confirm from an ended session",
			zap.Int64("temporary_id", int64(temp.ID)), zap.Int64("id", int64(rec.ID)))
		return canonicalFromRecord(rec, user, hasUser), errSessionChanged("plant")
	}

	tempIdx, realIdx := s.indexOf(temp.ID), s.indexOf(rec.ID)
	if tempIdx < 0 && realIdx < 0 {
		s.dropPhotosLocked(ctx, temp.ID)
		s.logger.Info("temporary tree deleted before plant confirm",
			zap.Int64("temporary_id", int64(temp.ID)), zap.Int64("id", int64(rec.ID)))
		return canonicalFromRecord(rec, user, hasUser), nil
	}

	set, err := s.overlays.Load(ctx)
	if err != nil {
		s.logger.Warn("load overlays for plant confirm", zap.Error(err))
	} else if ids, ok := set.Bindings[temp.ID]; ok {
		set.Bindings[rec.ID] = append(set.Bindings[rec.ID], ids...)
		delete(set.Bindings, temp.ID)
		if err := s.overlays.SaveBindings(ctx, set.Bindings); err != nil {
			s.logger.Warn("move photo binding", zap.Error(err))
		}
	}

	confirmed := canonicalFromRecord(rec, user, hasUser)
	if err == nil {
		confirmed.Photos = set.PhotosFor(rec.ID)
		if uri := set.NFTImages[rec.ID]; uri != "" {
			confirmed.NFTImageURL = uri
		}
	} else {
		confirmed.Photos = append([]domain.Photo{}, temp.Photos...)
	}

	next := cloneTrees(s.trees)
	if realIdx >= 0 {
		// a refresh already brought the server record in
		confirmed.ActionDelta = next[realIdx].Clone().ActionDelta
		next[realIdx] = confirmed
		if tempIdx >= 0 {
			next = append(next[:tempIdx], next[tempIdx+1:]...)
		}
	} else {
		confirmed.ActionDelta = next[tempIdx].Clone().ActionDelta
		next[tempIdx] = confirmed
	}
	if err := s.commitLocked(ctx, next); err != nil {
		s.trees = next
		s.observeCount()
		s.logger.Warn("persist plant confirm", zap.Error(err))
	}
	s.logger.Info("plant confirmed", zap.Int64("temporary_id", int64(temp.ID)), zap.Int64("id", int64(rec.ID)))
	return confirmed.Clone(), nil
}
