package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"petri/internal/blob"
	"petri/internal/infra/persistence/memory"
	"petri/internal/session"
	"petri/pkg/domain"
)

var (
	testNow   = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	testUser  = domain.User{ID: 1, Username: "ada", DisplayName: "Ada"}
	plantedAt = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
)

type fakeRemote struct {
	mu        sync.Mutex
	trees     []domain.TreeRecord
	listErr   error
	listCalls int
	listGate  chan struct{}
	listEnter chan struct{}
	createFn  func(ctx context.Context, req domain.PlantRequest) (domain.TreeRecord, error)
	mintRes   domain.MintResult
	mintErr   error
	lastToken string
}

func (f *fakeRemote) ListTrees(_ context.Context, token string) ([]domain.TreeRecord, error) {
	f.mu.Lock()
	gate, enter := f.listGate, f.listEnter
	f.mu.Unlock()
	if enter != nil {
		enter <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.lastToken = token
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.TreeRecord(nil), f.trees...), nil
}

func (f *fakeRemote) CreateTree(ctx context.Context, _ string, req domain.PlantRequest) (domain.TreeRecord, error) {
	f.mu.Lock()
	fn := f.createFn
	f.mu.Unlock()
	if fn == nil {
		return domain.TreeRecord{}, domain.RemoteFailure(errors.New("create not configured"), "create tree")
	}
	return fn(ctx, req)
}

func (f *fakeRemote) MintToken(_ context.Context, _ string, id domain.TreeID) (domain.MintResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mintErr != nil {
		return domain.MintResult{}, f.mintErr
	}
	res := f.mintRes
	res.TreeID = id
	return res, nil
}

func (f *fakeRemote) setTrees(trees ...domain.TreeRecord) {
	f.mu.Lock()
	f.trees = trees
	f.mu.Unlock()
}

type fakeSession struct {
	mu      sync.Mutex
	token   string
	user    *domain.User
	expired int
	gen     uint64
	hooks   []session.LogoutHook
}

func newFakeSession() *fakeSession {
	u := testUser
	return &fakeSession{token: "tok", user: &u}
}

func (f *fakeSession) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeSession) CurrentUser() (domain.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return domain.User{}, false
	}
	return *f.user, true
}

func (f *fakeSession) Expire(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	f.expired++
	return nil
}

func (f *fakeSession) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

// logout clears the session and runs the hooks like session.Manager.Logout.
func (f *fakeSession) logout(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	f.token = ""
	f.user = nil
	f.gen++
	hooks := append([]session.LogoutHook(nil), f.hooks...)
	f.mu.Unlock()
	for _, h := range hooks {
		require.NoError(t, h(context.Background()))
	}
}

func (f *fakeSession) OnLogout(h session.LogoutHook) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, h)
	return func() {}
}

// flakyKV fails writes of one key on demand.
type flakyKV struct {
	*memory.Store
	mu      sync.Mutex
	failKey string
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	fail := f.failKey == key
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Store.Set(ctx, key, value)
}

func (f *flakyKV) failOn(key string) {
	f.mu.Lock()
	f.failKey = key
	f.mu.Unlock()
}

type fixture struct {
	sync    *Synchronizer
	remote  *fakeRemote
	session *fakeSession
	kv      *flakyKV
	blobs   blob.Store
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		remote:  &fakeRemote{},
		session: newFakeSession(),
		kv:      &flakyKV{Store: memory.NewStore()},
		blobs:   blob.NewMemory(),
	}
	base := []Option{WithLogger(zaptest.NewLogger(t)), WithClock(func() time.Time { return testNow })}
	f.sync = New(f.remote, f.session, f.kv, f.blobs, append(base, opts...)...)
	require.NoError(t, f.sync.Init(context.Background()))
	t.Cleanup(f.sync.Dispose)
	return f
}

func record(id domain.TreeID, owner int64, health int) domain.TreeRecord {
	return domain.TreeRecord{
		ID:           id,
		OwnerID:      owner,
		Species:      domain.SpeciesOak,
		HealthScore:  health,
		PlantingDate: plantedAt,
		CreatedAt:    plantedAt,
		UpdatedAt:    plantedAt,
	}
}

func (f *fixture) snapshot(t *testing.T) string {
	t.Helper()
	raw, ok, err := f.kv.Get(context.Background(), domain.KeySnapshot)
	require.NoError(t, err)
	if !ok {
		return ""
	}
	return string(raw)
}

func (f *fixture) refresh(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sync.Refresh(context.Background()))
}

func ids(trees []domain.CanonicalTree) []domain.TreeID {
	out := make([]domain.TreeID, len(trees))
	for i, t := range trees {
		out[i] = t.ID
	}
	return out
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}
