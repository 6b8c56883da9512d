package core

import (
	"context"

	"petri/internal/session"
	"petri/pkg/domain"
)

type (
	TreeID        = domain.TreeID
	CanonicalTree = domain.CanonicalTree
	TreeRecord    = domain.TreeRecord
	PlantRequest  = domain.PlantRequest
	MintResult    = domain.MintResult
	Photo         = domain.Photo
	Result        = domain.Result
)

// Remote is the subset of the tree service client the synchronizer calls.
// Authenticated calls receive the session token explicitly.
type Remote interface {
	ListTrees(ctx context.Context, token string) ([]domain.TreeRecord, error)
	CreateTree(ctx context.Context, token string, req domain.PlantRequest) (domain.TreeRecord, error)
	MintToken(ctx context.Context, token string, id domain.TreeID) (domain.MintResult, error)
}

// Session exposes the active session to the synchronizer.
type Session interface {
	Token() string
	CurrentUser() (domain.User, bool)
	Expire(ctx context.Context) error
	OnLogout(h session.LogoutHook) func()
	// Generation advances whenever the session's tree data is cleared.
	Generation() uint64
}
