package core

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petri/pkg/domain"
)

var oakRequest = domain.PlantRequest{Species: domain.SpeciesOak, Nickname: "Olive", Latitude: 52.52, Longitude: 13.40}

func createReturning(id domain.TreeID) func(context.Context, domain.PlantRequest) (domain.TreeRecord, error) {
	return func(_ context.Context, req domain.PlantRequest) (domain.TreeRecord, error) {
		rec := record(id, 1, 100)
		rec.Species = req.Species
		rec.Nickname = req.Nickname
		return rec, nil
	}
}

func TestPlantSwapsTemporaryID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.setTrees(record(1, 1, 50))
	f.refresh(t)
	f.remote.createFn = createReturning(42)

	tree, err := f.sync.Plant(ctx, oakRequest, PhotoUpload{Data: []byte("\xff\xd8\xff\xe0jpeg"), Note: "day one"})
	require.NoError(t, err)
	assert.Equal(t, domain.TreeID(42), tree.ID)
	assert.Equal(t, "TT-000042", tree.TokenID)
	require.Len(t, tree.Photos, 1)
	assert.Equal(t, "day one", tree.Photos[0].Note)

	trees := f.sync.Trees()
	assert.Equal(t, []domain.TreeID{1, 42}, ids(trees))
	for _, tr := range trees {
		assert.False(t, tr.ID.Temporary())
	}

	f.remote.setTrees(record(1, 1, 50), record(42, 1, 100))
	f.refresh(t)
	got, err := f.sync.Tree(42)
	require.NoError(t, err)
	require.Len(t, got.Photos, 1, "binding moved to the server id")
	assert.Equal(t, tree.Photos[0].ID, got.Photos[0].ID)
}

func TestPlantAsyncShowsTemporaryTree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	release := make(chan struct{})
	f.remote.createFn = func(ctx context.Context, req domain.PlantRequest) (domain.TreeRecord, error) {
		<-release
		return createReturning(42)(ctx, req)
	}

	pending, err := f.sync.PlantAsync(ctx, oakRequest)
	require.NoError(t, err)
	temp := pending.Temporary()
	assert.Equal(t, domain.TreeID(-1), temp.ID)
	assert.Equal(t, 100, temp.HealthScore)
	assert.Zero(t, temp.CareIndex)
	assert.Zero(t, temp.StewardshipScore)
	assert.Equal(t, "TT-PENDING", temp.TokenID)
	assert.Equal(t, "Ada", temp.OwnerName)
	assert.Equal(t, []domain.TreeID{-1}, ids(f.sync.Trees()))

	_, err = f.sync.Water(ctx, temp.ID)
	require.NoError(t, err)

	close(release)
	tree, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TreeID(42), tree.ID)
	assert.Equal(t, 1, tree.CareIndex, "action delta carries over the swap")
	assert.Equal(t, []domain.TreeID{42}, ids(f.sync.Trees()))
}

func TestPlantConfirmAfterRefreshDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	release := make(chan struct{})
	f.remote.createFn = func(ctx context.Context, req domain.PlantRequest) (domain.TreeRecord, error) {
		<-release
		return createReturning(42)(ctx, req)
	}

	pending, err := f.sync.PlantAsync(ctx, oakRequest)
	require.NoError(t, err)

	f.remote.setTrees(record(42, 1, 100))
	f.refresh(t)
	assert.Equal(t, []domain.TreeID{42, -1}, ids(f.sync.Trees()), "in-flight plant survives refresh")

	close(release)
	<-pending.Done()
	assert.Equal(t, []domain.TreeID{42}, ids(f.sync.Trees()))
}

func TestPlantConfirmAfterLogoutIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	release := make(chan struct{})
	f.remote.createFn = func(ctx context.Context, req domain.PlantRequest) (domain.TreeRecord, error) {
		<-release
		return createReturning(42)(ctx, req)
	}

	pending, err := f.sync.PlantAsync(ctx, oakRequest, PhotoUpload{Data: []byte("png")})
	require.NoError(t, err)
	f.session.logout(t)
	close(release)

	_, err = pending.Wait(ctx)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Empty(t, f.sync.Trees())
	assert.Empty(t, f.snapshot(t))
	left, err := f.blobs.List(ctx, photoPrefix)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPlantConfirmAfterDeleteDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.setTrees(record(1, 1, 50))
	f.refresh(t)
	release := make(chan struct{})
	f.remote.createFn = func(ctx context.Context, req domain.PlantRequest) (domain.TreeRecord, error) {
		<-release
		return createReturning(42)(ctx, req)
	}

	pending, err := f.sync.PlantAsync(ctx, oakRequest, PhotoUpload{Data: []byte("png")})
	require.NoError(t, err)
	require.NoError(t, f.sync.Delete(ctx, pending.Temporary().ID))
	close(release)

	tree, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TreeID(42), tree.ID)
	assert.Equal(t, []domain.TreeID{1}, ids(f.sync.Trees()))
	assert.NotContains(t, f.snapshot(t), `"id":42`)
	set, err := f.sync.overlays.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, set.Bindings)
	left, err := f.blobs.List(ctx, photoPrefix)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPlantRollbackOnCreateFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.setTrees(record(1, 1, 50))
	f.refresh(t)
	before, beforeSnap := f.sync.Trees(), f.snapshot(t)

	f.remote.createFn = func(context.Context, domain.PlantRequest) (domain.TreeRecord, error) {
		return domain.TreeRecord{}, domain.RemoteFailure(errors.New("502 bad gateway"), "create tree")
	}
	_, err := f.sync.Plant(ctx, oakRequest, PhotoUpload{Data: []byte("png")})
	require.ErrorIs(t, err, domain.ErrRemoteFailure)

	assert.Equal(t, before, f.sync.Trees())
	assert.Equal(t, beforeSnap, f.snapshot(t))
	left, err := f.blobs.List(ctx, photoPrefix)
	require.NoError(t, err)
	assert.Empty(t, left)
	set, err := f.sync.overlays.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, set.Bindings)
	assert.Empty(t, set.Photos)
}

func TestPlantRejectedTokenRollsBackAndExpires(t *testing.T) {
	f := newFixture(t)
	f.remote.createFn = func(context.Context, domain.PlantRequest) (domain.TreeRecord, error) {
		return domain.TreeRecord{}, domain.RemoteFailure(domain.Unauthenticated("create tree"), "create tree")
	}
	_, err := f.sync.Plant(context.Background(), oakRequest)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Empty(t, f.sync.Trees())
	assert.Equal(t, 1, f.session.expired)
}

func TestPlantPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.sync.PlantAsync(ctx, domain.PlantRequest{Species: "baobab"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = f.sync.PlantAsync(ctx, domain.PlantRequest{Species: domain.SpeciesElm, Latitude: 91})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = f.sync.PlantAsync(ctx, oakRequest, PhotoUpload{})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	f.session.token = ""
	_, err = f.sync.PlantAsync(ctx, oakRequest)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Empty(t, f.sync.Trees())
	assert.Empty(t, f.snapshot(t))
}

func TestPlantStorageFailureAppliesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.createFn = createReturning(42)
	f.kv.failOn(domain.KeySnapshot)

	_, err := f.sync.PlantAsync(ctx, oakRequest, PhotoUpload{Data: []byte("png")})
	require.ErrorIs(t, err, domain.ErrStorageFailure)
	assert.Empty(t, f.sync.Trees())
	left, err := f.blobs.List(ctx, photoPrefix)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestTemporaryIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	release := make(chan struct{})
	f.remote.createFn = func(context.Context, domain.PlantRequest) (domain.TreeRecord, error) {
		<-release
		return domain.TreeRecord{}, domain.RemoteFailure(errors.New("offline"), "create tree")
	}
	a, err := f.sync.PlantAsync(ctx, oakRequest)
	require.NoError(t, err)
	b, err := f.sync.PlantAsync(ctx, oakRequest)
	require.NoError(t, err)
	assert.Equal(t, domain.TreeID(-1), a.Temporary().ID)
	assert.Equal(t, domain.TreeID(-2), b.Temporary().ID)

	close(release)
	_, errA := a.Wait(ctx)
	_, errB := b.Wait(ctx)
	require.Error(t, errA)
	require.Error(t, errB)
	assert.Empty(t, f.sync.Trees())
}

func TestAddProgressPhoto(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.setTrees(record(1, 1, 98))
	f.refresh(t)

	tree, err := f.sync.AddProgressPhoto(ctx, 1, PhotoUpload{Data: []byte("\x89PNG\r\n\x1a\n"), Note: "week 2"})
	require.NoError(t, err)
	assert.Equal(t, 100, tree.HealthScore)
	assert.Equal(t, 2, tree.CareIndex)
	require.Len(t, tree.Photos, 1)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", tree.Photos[0].URL)
	assert.True(t, tree.Photos[0].TakenAt.Equal(testNow))

	info, err := f.blobs.Head(ctx, photoKey(tree.Photos[0].ID))
	require.NoError(t, err)
	assert.Equal(t, "1", info.Metadata["tree"])

	_, err = f.sync.AddProgressPhoto(ctx, 7, PhotoUpload{Data: []byte("x")})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddProgressPhotoStorageFailureCleansUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.setTrees(record(1, 1, 50))
	f.refresh(t)
	f.kv.failOn(domain.KeySnapshot)

	_, err := f.sync.AddProgressPhoto(ctx, 1, PhotoUpload{Data: []byte("png")})
	require.ErrorIs(t, err, domain.ErrStorageFailure)
	left, err := f.blobs.List(ctx, photoPrefix)
	require.NoError(t, err)
	assert.Empty(t, left)
	set, err := f.sync.overlays.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, set.Bindings)
	tree, err := f.sync.Tree(1)
	require.NoError(t, err)
	assert.Empty(t, tree.Photos)
}
