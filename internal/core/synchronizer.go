package core

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"petri/internal/blob"
	"petri/internal/overlay"
	"petri/pkg/domain"
)

// Synchronizer owns the canonical tree list. It merges remote records with the
// local overlays and applies optimistic mutations. All state changes are
// serialized by mu; remote calls run without holding it.
type Synchronizer struct {
	remote   Remote
	session  Session
	overlays *overlay.Store
	blobs    blob.Store
	logger   *zap.Logger
	metrics  MetricsRecorder
	tracer   Tracer
	now      func() time.Time

	mu         sync.Mutex
	trees      []domain.CanonicalTree
	nextTemp   domain.TreeID
	closed     bool
	deregister func()
	pending    sync.WaitGroup
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the operation metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Synchronizer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the operation tracer.
func WithTracer(t Tracer) Option {
	return func(s *Synchronizer) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the time source used for action timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a synchronizer. Call Init before use and Dispose when done.
func New(remote Remote, sess Session, kv domain.KeyValueStore, blobs blob.Store, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		remote:   remote,
		session:  sess,
		blobs:    blobs,
		logger:   zap.NewNop(),
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
		now:      func() time.Time { return time.Now().UTC() },
		nextTemp: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.overlays = overlay.New(kv, s.logger)
	return s
}

// Init hydrates the list from the persisted snapshot and registers the logout
// hook, so the last known state is visible before the first refresh.
// Temporary trees left by an interrupted plant are dropped.
func (s *Synchronizer) Init(ctx context.Context) error {
	return s.run(ctx, "init", func(ctx context.Context) error {
		snap, err := s.overlays.LoadSnapshot(ctx)
		if err != nil {
			return err
		}
		trees := make([]domain.CanonicalTree, 0, len(snap))
		for _, t := range snap.Ordered() {
			// no create is in flight for a temporary tree of an earlier run
			if t.ID.Temporary() {
				s.logger.Warn("discarding unconfirmed tree", zap.Int64("id", int64(t.ID)))
				continue
			}
			trees = append(trees, t)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return errClosed("init")
		}
		s.trees = trees
		if s.deregister == nil && s.session != nil {
			s.deregister = s.session.OnLogout(s.onLogout)
		}
		s.observeCount()
		s.logger.Debug("synchronizer hydrated", zap.Int("trees", len(trees)))
		return nil
	})
}

// Dispose waits for in-flight plants, deregisters the logout hook and rejects
// further operations with domain.ErrClosed.
func (s *Synchronizer) Dispose() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	deregister := s.deregister
	s.deregister = nil
	s.mu.Unlock()

	s.pending.Wait()
	if deregister != nil {
		deregister()
	}
}

// Trees returns a copy of the canonical list.
func (s *Synchronizer) Trees() []domain.CanonicalTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTrees(s.trees)
}

// Tree returns one canonical tree.
func (s *Synchronizer) Tree(id domain.TreeID) (domain.CanonicalTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.CanonicalTree{}, domain.NotFound(id)
	}
	return s.trees[idx].Clone(), nil
}

// Refresh fetches the remote list, merges it with the overlays and the
// previous snapshot, persists the snapshot and replaces the in-memory list.
// On fetch or persist failure memory is left untouched. A fetch that settles
// after the session's data was cleared is discarded.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	return s.run(ctx, "refresh", func(ctx context.Context) error {
		if err := s.checkOpen("refresh"); err != nil {
			return err
		}
		token := s.token()
		if token == "" {
			return domain.Unauthenticated("refresh")
		}
		gen := s.generation()
		records, err := s.remote.ListTrees(ctx, token)
		if err != nil {
			s.expireOn401(ctx, err)
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return errClosed("refresh")
		}
		if s.generation() != gen {
			s.logger.Info("discarding refresh from an ended session", zap.Int("remote", len(records)))
			return errSessionChanged("refresh")
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "refresh")
		}
		set, err := s.overlays.Load(ctx)
		if err != nil {
			return err
		}
		snap, err := s.overlays.LoadSnapshot(ctx)
		if err != nil {
			return err
		}
		merged := s.merge(records, set, snap)
		merged = append(merged, s.unconfirmedLocked()...)
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "refresh")
		}
		if err := s.commitLocked(ctx, merged); err != nil {
			return err
		}
		s.logger.Info("trees refreshed", zap.Int("remote", len(records)), zap.Int("trees", len(merged)))
		return nil
	})
}

// merge builds one canonical tree per valid remote record.
func (s *Synchronizer) merge(records []domain.TreeRecord, set overlay.Set, snap overlay.Snapshot) []domain.CanonicalTree {
	user, hasUser := s.currentUser()
	out := make([]domain.CanonicalTree, 0, len(records))
	seen := make(map[domain.TreeID]int, len(records))
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			s.logger.Warn("discarding remote tree", zap.Int64("id", int64(rec.ID)), zap.Error(err))
			continue
		}
		tree := canonicalFromRecord(rec, user, hasUser)
		tree.Photos = set.PhotosFor(rec.ID)
		if uri := set.NFTImages[rec.ID]; uri != "" {
			tree.NFTImageURL = uri
		}
		if prev, ok := snap[rec.ID]; ok {
			tree.ActionDelta = prev.Clone().ActionDelta
			if prev.Purchased {
				tree.OwnerID = prev.OwnerID
				tree.OwnerName = prev.OwnerName
			}
		}
		if i, dup := seen[rec.ID]; dup {
			out[i] = tree
			continue
		}
		seen[rec.ID] = len(out)
		out = append(out, tree)
	}
	return out
}

// unconfirmedLocked returns the temporary trees whose create is still in flight.
func (s *Synchronizer) unconfirmedLocked() []domain.CanonicalTree {
	var out []domain.CanonicalTree
	for _, t := range s.trees {
		if t.ID.Temporary() {
			out = append(out, t.Clone())
		}
	}
	return out
}

func canonicalFromRecord(rec domain.TreeRecord, user domain.User, hasUser bool) domain.CanonicalTree {
	return domain.CanonicalTree{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		OwnerName:    ownerName(rec.OwnerID, user, hasUser),
		Species:      rec.Species,
		Nickname:     rec.Nickname,
		Latitude:     rec.Latitude,
		Longitude:    rec.Longitude,
		LocationName: rec.LocationName,
		Description:  rec.Description,
		HealthScore:  domain.ClampHealth(rec.HealthScore),
		CurrentValue: rec.CurrentValue,
		PlantingDate: rec.PlantingDate,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		TokenID:      domain.TokenPlaceholder(rec.ID),
		Photos:       []domain.Photo{},
		NFTImageURL:  rec.NFTImageURL,
	}
}

func ownerName(ownerID int64, user domain.User, hasUser bool) string {
	if hasUser && (ownerID == 0 || ownerID == user.ID) {
		return user.Name()
	}
	return "Unknown"
}

// onLogout clears the list, the tree entries and the photo blobs.
func (s *Synchronizer) onLogout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees = nil
	s.observeCount()
	err := s.overlays.Clear(ctx)
	if s.blobs != nil {
		infos, lerr := s.blobs.List(ctx, photoPrefix)
		if lerr != nil {
			err = errors.CombineErrors(err, errors.Wrap(lerr, "list photo blobs"))
		}
		for _, info := range infos {
			if _, derr := s.blobs.Delete(ctx, info.Key); derr != nil {
				err = errors.CombineErrors(err, errors.Wrapf(derr, "delete %s", info.Key))
			}
		}
	}
	s.logger.Info("tree data cleared on logout")
	return err
}

func (s *Synchronizer) run(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err != nil {
		s.logger.Debug("operation failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

func (s *Synchronizer) checkOpen(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	return nil
}

func errClosed(op string) error {
	return errors.Wrap(domain.ErrClosed, op)
}

func errSessionChanged(op string) error {
	return errors.WithHint(
		errors.Wrapf(domain.ErrUnauthenticated, "%s: session changed while the call was in flight", op),
		"sign in again and retry")
}

func (s *Synchronizer) token() string {
	if s.session == nil {
		return ""
	}
	return s.session.Token()
}

func (s *Synchronizer) generation() uint64 {
	if s.session == nil {
		return 0
	}
	return s.session.Generation()
}

func (s *Synchronizer) currentUser() (domain.User, bool) {
	if s.session == nil {
		return domain.User{}, false
	}
	return s.session.CurrentUser()
}

// expireOn401 drops a token the remote service rejected.
func (s *Synchronizer) expireOn401(ctx context.Context, err error) {
	if !errors.Is(err, domain.ErrUnauthenticated) || s.session == nil {
		return
	}
	if xerr := s.session.Expire(ctx); xerr != nil {
		s.logger.Warn("expire session", zap.Error(xerr))
	}
}

func (s *Synchronizer) observeCount() {
	if c, ok := s.metrics.(treeCounter); ok {
		c.SetTreeCount(len(s.trees))
	}
}

func (s *Synchronizer) indexOf(id domain.TreeID) int {
	for i := range s.trees {
		if s.trees[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneTrees(in []domain.CanonicalTree) []domain.CanonicalTree {
	out := make([]domain.CanonicalTree, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
