package core

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"petri/pkg/domain"
)

// errNoChange lets a mutation skip the snapshot write.
var errNoChange = errors.New("no change")

// mutate applies fn to a copy of the target tree, persists the resulting list
// and only then commits it to memory.
func (s *Synchronizer) mutate(ctx context.Context, op string, id domain.TreeID, fn func(t *domain.CanonicalTree) error) (domain.CanonicalTree, error) {
	var out domain.CanonicalTree
	err := s.run(ctx, op, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return errClosed(op)
		}
		idx := s.indexOf(id)
		if idx < 0 {
			return domain.NotFound(id)
		}
		next := cloneTrees(s.trees)
		if err := fn(&next[idx]); err != nil {
			if errors.Is(err, errNoChange) {
				out = s.trees[idx].Clone()
				return nil
			}
			return err
		}
		if err := s.commitLocked(ctx, next); err != nil {
			return err
		}
		out = next[idx].Clone()
		return nil
	})
	return out, err
}

// commitLocked persists next as the snapshot and installs it in memory.
func (s *Synchronizer) commitLocked(ctx context.Context, next []domain.CanonicalTree) error {
	if err := s.overlays.SaveSnapshot(ctx, next); err != nil {
		if !errors.Is(err, domain.ErrStorageFailure) {
			err = domain.StorageFailure(err, "save snapshot")
		}
		return err
	}
	s.trees = next
	s.observeCount()
	return nil
}

// Water records a watering: health +2 (capped at 100) and care +1.
func (s *Synchronizer) Water(ctx context.Context, id domain.TreeID) (domain.CanonicalTree, error) {
	now := s.now()
	return s.mutate(ctx, "water", id, func(t *domain.CanonicalTree) error {
		t.LastWateredAt = &now
		t.HealthScore = domain.ClampHealth(t.HealthScore + 2)
		t.CareIndex++
		return nil
	})
}

// CompleteLesson credits a finished lesson: stewardship +5 and care +3.
func (s *Synchronizer) CompleteLesson(ctx context.Context, id domain.TreeID, lessonID string) (domain.CanonicalTree, error) {
	tree, err := s.mutate(ctx, "complete_lesson", id, func(t *domain.CanonicalTree) error {
		t.StewardshipScore += 5
		t.CareIndex += 3
		return nil
	})
	if err == nil {
		s.logger.Debug("lesson completed", zap.Int64("tree", int64(id)), zap.String("lesson", lessonID))
	}
	return tree, err
}

// ListForSale puts a tree on the marketplace at price.
func (s *Synchronizer) ListForSale(ctx context.Context, id domain.TreeID, price float64) (domain.CanonicalTree, error) {
	if !domain.ValidPrice(price) {
		return domain.CanonicalTree{}, errors.WithHint(
			domain.InvalidArgumentf("price %v must be a positive finite number", price),
			"enter a price greater than zero")
	}
	return s.mutate(ctx, "list_for_sale", id, func(t *domain.CanonicalTree) error {
		p := price
		t.Listed = true
		t.Price = &p
		return nil
	})
}

// Unlist removes a tree from the marketplace.
func (s *Synchronizer) Unlist(ctx context.Context, id domain.TreeID) (domain.CanonicalTree, error) {
	return s.mutate(ctx, "unlist", id, func(t *domain.CanonicalTree) error {
		t.Listed = false
		t.Price = nil
		return nil
	})
}

// Buy transfers a tree to the current user. The purchase is client-side and
// survives refreshes until logout or delete.
func (s *Synchronizer) Buy(ctx context.Context, id domain.TreeID) (domain.CanonicalTree, error) {
	user, ok := s.currentUser()
	if !ok {
		return domain.CanonicalTree{}, domain.Unauthenticated("buy")
	}
	return s.mutate(ctx, "buy", id, func(t *domain.CanonicalTree) error {
		if t.OwnerID == user.ID {
			return errNoChange
		}
		t.OwnerID = user.ID
		t.OwnerName = user.Name()
		t.Listed = false
		t.Price = nil
		t.Purchased = true
		return nil
	})
}

// Delete removes a tree from the list and the snapshot.
func (s *Synchronizer) Delete(ctx context.Context, id domain.TreeID) error {
	return s.run(ctx, "delete", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return errClosed("delete")
		}
		idx := s.indexOf(id)
		if idx < 0 {
			return domain.NotFound(id)
		}
		next := make([]domain.CanonicalTree, 0, len(s.trees)-1)
		next = append(next, cloneTrees(s.trees[:idx])...)
		next = append(next, cloneTrees(s.trees[idx+1:])...)
		return s.commitLocked(ctx, next)
	})
}

// BindNFTImage records the generated NFT image of a tree.
func (s *Synchronizer) BindNFTImage(ctx context.Context, id domain.TreeID, uri string) (domain.CanonicalTree, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return domain.CanonicalTree{}, domain.InvalidArgumentf("nft image uri is empty")
	}
	var out domain.CanonicalTree
	err := s.run(ctx, "bind_nft_image", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return errClosed("bind nft image")
		}
		var err error
		out, err = s.bindNFTLocked(ctx, id, uri)
		return err
	})
	return out, err
}

func (s *Synchronizer) bindNFTLocked(ctx context.Context, id domain.TreeID, uri string) (domain.CanonicalTree, error) {
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.CanonicalTree{}, domain.NotFound(id)
	}
	set, err := s.overlays.Load(ctx)
	if err != nil {
		return domain.CanonicalTree{}, err
	}
	prev, hadPrev := set.NFTImages[id]
	set.NFTImages[id] = uri
	if err := s.overlays.SaveNFTImages(ctx, set.NFTImages); err != nil {
		return domain.CanonicalTree{}, err
	}
	next := cloneTrees(s.trees)
	next[idx].NFTImageURL = uri
	if err := s.commitLocked(ctx, next); err != nil {
		if hadPrev {
			set.NFTImages[id] = prev
		} else {
			delete(set.NFTImages, id)
		}
		if rerr := s.overlays.SaveNFTImages(ctx, set.NFTImages); rerr != nil {
			s.logger.Warn("revert nft binding", zap.Error(rerr))
		}
		return domain.CanonicalTree{}, err
	}
	return next[idx].Clone(), nil
}

// MintNFT mints the tree's token remotely and binds the returned image.
func (s *Synchronizer) MintNFT(ctx context.Context, id domain.TreeID) (domain.MintResult, error) {
	var out domain.MintResult
	err := s.run(ctx, "mint_nft", func(ctx context.Context) error {
		if id.Temporary() {
			return errors.WithHint(domain.InvalidArgumentf("tree %s is not confirmed yet", id), "wait for planting to finish")
		}
		s.mu.Lock()
		closed, idx := s.closed, s.indexOf(id)
		s.mu.Unlock()
		if closed {
			return errClosed("mint nft")
		}
		if idx < 0 {
			return domain.NotFound(id)
		}
		token := s.token()
		if token == "" {
			return domain.Unauthenticated("mint nft")
		}
		res, err := s.remote.MintToken(ctx, token, id)
		if err != nil {
			s.expireOn401(ctx, err)
			return err
		}
		out = res
		if res.ImageURI == "" {
			return nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		_, err = s.bindNFTLocked(ctx, id, res.ImageURI)
		return err
	})
	return out, err
}
