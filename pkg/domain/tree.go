// Package domain defines the tree records, local overlay shapes, canonical
// merge results, and error taxonomy shared by the petri synchronization layer.
package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Species identifies one of the tree species the remote service accepts.
type Species string

// Supported species vocabulary.
const (
	SpeciesOak    Species = "oak"
	SpeciesPine   Species = "pine"
	SpeciesBirch  Species = "birch"
	SpeciesMaple  Species = "maple"
	SpeciesElm    Species = "elm"
	SpeciesSpruce Species = "spruce"
)

// KnownSpecies lists the accepted species in display order.
var KnownSpecies = []Species{SpeciesOak, SpeciesPine, SpeciesBirch, SpeciesMaple, SpeciesElm, SpeciesSpruce}

// Valid reports whether s belongs to the species vocabulary.
func (s Species) Valid() bool {
	for _, known := range KnownSpecies {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSpecies validates a raw species string.
func ParseSpecies(raw string) (Species, error) {
	s := Species(raw)
	if !s.Valid() {
		return "", InvalidArgumentf("unknown species %q", raw)
	}
	return s, nil
}

// TreeID is the numeric identifier of a tree. Server-assigned ids are always
// positive; client-temporary ids are negative.
type TreeID int64

// Temporary reports whether the id was minted locally and has not been
// reconciled with the remote service yet.
func (id TreeID) Temporary() bool { return id < 0 }

// Key renders the id as used in persisted map keys.
func (id TreeID) Key() string { return strconv.FormatInt(int64(id), 10) }

func (id TreeID) String() string { return id.Key() }

// ParseTreeID parses a decimal tree id.
func ParseTreeID(raw string) (TreeID, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, InvalidArgumentf("invalid tree id %q", raw)
	}
	return TreeID(v), nil
}

// MaxHealth bounds every health score.
const MaxHealth = 100

// TreeRecord is the authoritative record returned by the remote tree service.
type TreeRecord struct {
	ID           TreeID    `json:"id"`
	OwnerID      int64     `json:"user_id"`
	Species      Species   `json:"species"`
	Nickname     string    `json:"nickname,omitempty"`
	Latitude     float64   `json:"latitude,omitempty"`
	Longitude    float64   `json:"longitude,omitempty"`
	LocationName string    `json:"location_name,omitempty"`
	Description  string    `json:"description,omitempty"`
	HealthScore  int       `json:"health_score"`
	CurrentValue float64   `json:"current_value,omitempty"`
	NFTImageURL  string    `json:"nft_image_url,omitempty"`
	PlantingDate time.Time `json:"planting_date"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the fields the merge relies on.
func (r TreeRecord) Validate() error {
	if r.ID <= 0 {
		return InvalidArgumentf("remote tree id %d is not positive", r.ID)
	}
	return nil
}

// Photo is a captured photo bound to a tree.
type Photo struct {
	ID      string    `json:"id"`
	URL     string    `json:"url"`
	TakenAt time.Time `json:"takenAt"`
	Note    string    `json:"note,omitempty"`
}

// ActionDelta holds the client-simulated fields the remote service does not track.
type ActionDelta struct {
	CareIndex        int        `json:"careIndex"`
	StewardshipScore int        `json:"stewardshipScore"`
	LastWateredAt    *time.Time `json:"lastWateredAt,omitempty"`
	Listed           bool       `json:"listed"`
	Price            *float64   `json:"price,omitempty"`
	// Purchased marks a local marketplace purchase; the owner fields of the
	// snapshot then override the remote owner.
	Purchased bool `json:"purchased,omitempty"`
}

// CanonicalTree is the merged, caller-facing representation of a tree.
type CanonicalTree struct {
	ID           TreeID    `json:"id"`
	OwnerID      int64     `json:"ownerId"`
	OwnerName    string    `json:"ownerName"`
	Species      Species   `json:"species"`
	Nickname     string    `json:"nickname,omitempty"`
	Latitude     float64   `json:"latitude,omitempty"`
	Longitude    float64   `json:"longitude,omitempty"`
	LocationName string    `json:"locationName,omitempty"`
	Description  string    `json:"description,omitempty"`
	HealthScore  int       `json:"healthScore"`
	CurrentValue float64   `json:"currentValue,omitempty"`
	PlantingDate time.Time `json:"plantingDate"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	TokenID      string    `json:"tokenId"`
	Photos       []Photo   `json:"photos"`
	NFTImageURL  string    `json:"nftImageUrl,omitempty"`
	ActionDelta
}

// HealthIndex is the display alias of HealthScore.
func (t CanonicalTree) HealthIndex() int { return t.HealthScore }

// HealthLabel buckets the health score into the labels shown to users.
func (t CanonicalTree) HealthLabel() string {
	switch h := t.HealthScore; {
	case h >= 90:
		return "Excellent"
	case h >= 70:
		return "Good"
	case h >= 50:
		return "Fair"
	case h >= 30:
		return "Needs Care"
	default:
		return "Critical"
	}
}

// Clone returns a deep copy so callers cannot alias the synchronizer's state.
func (t CanonicalTree) Clone() CanonicalTree {
	out := t
	if t.Photos != nil {
		out.Photos = append(make([]Photo, 0, len(t.Photos)), t.Photos...)
	}
	if t.LastWateredAt != nil {
		ts := *t.LastWateredAt
		out.LastWateredAt = &ts
	}
	if t.Price != nil {
		p := *t.Price
		out.Price = &p
	}
	return out
}

// TokenPlaceholder derives the display token id for a tree.
func TokenPlaceholder(id TreeID) string {
	if id.Temporary() {
		return "TT-PENDING"
	}
	return fmt.Sprintf("TT-%06d", int64(id))
}

// ClampHealth bounds a health score to 0..MaxHealth.
func ClampHealth(v int) int {
	if v > MaxHealth {
		return MaxHealth
	}
	if v < 0 {
		return 0
	}
	return v
}

// ValidPrice reports whether p is a usable listing price.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// User identifies the signed-in account.
type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Name returns the best display name available.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// PlantRequest carries the data needed to plant a new tree.
type PlantRequest struct {
	Species      Species `json:"species"`
	Nickname     string  `json:"nickname,omitempty"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	LocationName string  `json:"location_name,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// Validate checks the request before anything is applied optimistically.
func (r PlantRequest) Validate() error {
	if !r.Species.Valid() {
		return InvalidArgumentf("unknown species %q", r.Species)
	}
	if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
		return InvalidArgumentf("coordinates %.5f,%.5f out of range", r.Latitude, r.Longitude)
	}
	return nil
}

// MintResult is returned by the remote mint endpoint.
type MintResult struct {
	TokenID     string `json:"token_id"`
	TreeID      TreeID `json:"tree_id"`
	ImageURI    string `json:"image_uri"`
	MetadataURI string `json:"metadata_uri"`
	Message     string `json:"message"`
}

// LoginResponse is returned by the remote auth endpoints.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
}
