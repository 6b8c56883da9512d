package core

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"petri/pkg/domain"
)

// HealthBucket narrows the marketplace by health score.
type HealthBucket string

const (
	HealthAll       HealthBucket = "all"
	HealthExcellent HealthBucket = "excellent" // 90 and above
	HealthGood      HealthBucket = "good"      // 70 to 89
	HealthFair      HealthBucket = "fair"      // below 70
)

// MarketSort orders marketplace offers.
type MarketSort string

const (
	SortNewest MarketSort = "newest"
	SortPrice  MarketSort = "price"
	SortHealth MarketSort = "health"
)

// MarketFilter selects and orders marketplace offers. The zero value lists
// every offer, newest first.
type MarketFilter struct {
	// Query matches species or nickname, case-insensitively.
	Query  string
	Health HealthBucket
	Sort   MarketSort
}

// Validate rejects unknown buckets and sort orders.
func (f MarketFilter) Validate() error {
	switch f.Health {
	case "", HealthAll, HealthExcellent, HealthGood, HealthFair:
	default:
		return domain.InvalidArgumentf("unknown health filter %q", f.Health)
	}
	switch f.Sort {
	case "", SortNewest, SortPrice, SortHealth:
	default:
		return domain.InvalidArgumentf("unknown sort order %q", f.Sort)
	}
	return nil
}

func (f MarketFilter) match(t domain.CanonicalTree) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(string(t.Species)), q) &&
			!strings.Contains(strings.ToLower(t.Nickname), q) {
			return false
		}
	}
	switch h := t.HealthScore; f.Health {
	case HealthExcellent:
		return h >= 90
	case HealthGood:
		return h >= 70 && h < 90
	case HealthFair:
		return h < 70
	}
	return true
}

func (f MarketFilter) compare(a, b domain.CanonicalTree) int {
	switch f.Sort {
	case SortPrice:
		if c := cmp.Compare(priceOf(a), priceOf(b)); c != 0 {
			return c
		}
	case SortHealth:
		if c := cmp.Compare(b.HealthScore, a.HealthScore); c != 0 {
			return c
		}
	default:
		if c := b.PlantingDate.Compare(a.PlantingDate); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ID, b.ID)
}

// priceOf treats an unpriced listing as free.
func priceOf(t domain.CanonicalTree) float64 {
	if t.Price == nil {
		return 0
	}
	return *t.Price
}

// Marketplace returns the listed trees other users offer, filtered and
// sorted. Without a signed-in user every listed tree is an offer.
func (s *Synchronizer) Marketplace(f MarketFilter) ([]domain.CanonicalTree, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	user, hasUser := s.currentUser()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CanonicalTree, 0, len(s.trees))
	for _, t := range s.trees {
		if !t.Listed || (hasUser && t.OwnerID == user.ID) || !f.match(t) {
			continue
		}
		out = append(out, t.Clone())
	}
	slices.SortStableFunc(out, f.compare)
	return out, nil
}

// ProfileStats summarizes one user's trees.
type ProfileStats struct {
	Trees         int     `json:"trees"`
	Owned         int     `json:"owned"`
	Listed        int     `json:"listed"`
	AverageHealth int     `json:"averageHealth"`
	Stewardship   int     `json:"stewardship"`
	ListedValue   float64 `json:"listedValue"`
}

// Stats summarizes the trees user owns. Owned counts the unlisted ones.
func (s *Synchronizer) Stats(user domain.User) ProfileStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st ProfileStats
	health := 0
	for _, t := range s.trees {
		if t.OwnerID != user.ID {
			continue
		}
		st.Trees++
		health += t.HealthScore
		st.Stewardship += t.StewardshipScore
		if t.Listed {
			st.Listed++
			st.ListedValue += priceOf(t)
		} else {
			st.Owned++
		}
	}
	if st.Trees > 0 {
		st.AverageHealth = int(math.Round(float64(health) / float64(st.Trees)))
	}
	return st
}
