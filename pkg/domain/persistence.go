package domain

import "context"

// Named entries of the local persistence store.
const (
	// KeyPhotos maps photo id to a captured photo record.
	KeyPhotos = "tree_photos"
	// KeyPhotoBindings maps tree id to the ordered ids of its photos.
	KeyPhotoBindings = "tree_photo_map"
	// KeyNFTImages maps tree id to a generated NFT image URI.
	KeyNFTImages = "tree_nft_images"
	// KeySnapshot holds the last merged tree list keyed by tree id.
	KeySnapshot = "trees_state"
	// KeyAuthToken holds the bearer token of the active session.
	KeyAuthToken = "auth_token"
	// KeyUser holds the signed-in user.
	KeyUser = "user"
)

// TreeDataKeys lists the entries scoped to a session's tree data.
var TreeDataKeys = []string{KeyPhotos, KeyPhotoBindings, KeyNFTImages, KeySnapshot}

// SessionKeys lists the entries describing the session itself.
var SessionKeys = []string{KeyAuthToken, KeyUser}

// KeyValueStore is the durable string-keyed store backing local persistence.
// Values are opaque payloads (JSON in practice). Implementations must be safe
// for concurrent use.
type KeyValueStore interface {
	// Get returns the payload stored at key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value at key, replacing any previous payload.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Close releases backend resources.
	Close() error
}
