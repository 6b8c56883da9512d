package remote

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"petri/pkg/domain"
)

// wireTime accepts RFC 3339 timestamps as well as the naive datetimes and
// plain dates the service emits.
type wireTime struct{ time.Time }

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return errors.Newf("unrecognised timestamp %q", s)
}

type wireTree struct {
	ID           domain.TreeID  `json:"id"`
	UserID       int64          `json:"user_id"`
	Species      domain.Species `json:"species"`
	Nickname     string         `json:"nickname"`
	Latitude     float64        `json:"latitude"`
	Longitude    float64        `json:"longitude"`
	LocationName string         `json:"location_name"`
	Description  string         `json:"description"`
	HealthScore  int            `json:"health_score"`
	CurrentValue float64        `json:"current_value"`
	NFTImageURL  string         `json:"nft_image_url"`
	PlantingDate wireTime       `json:"planting_date"`
	CreatedAt    wireTime       `json:"created_at"`
	UpdatedAt    wireTime       `json:"updated_at"`
}

func (w wireTree) record() domain.TreeRecord {
	return domain.TreeRecord{
		ID:           w.ID,
		OwnerID:      w.UserID,
		Species:      w.Species,
		Nickname:     w.Nickname,
		Latitude:     w.Latitude,
		Longitude:    w.Longitude,
		LocationName: w.LocationName,
		Description:  w.Description,
		HealthScore:  w.HealthScore,
		CurrentValue: w.CurrentValue,
		NFTImageURL:  w.NFTImageURL,
		PlantingDate: w.PlantingDate.Time,
		CreatedAt:    w.CreatedAt.Time,
		UpdatedAt:    w.UpdatedAt.Time,
	}
}

func decodeTreeList(raw json.RawMessage) ([]wireTree, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var list []wireTree
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, errors.Wrap(err, "decode tree list")
		}
		return list, nil
	}
	var wrapped struct {
		Trees []wireTree `json:"trees"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, errors.Wrap(err, "decode tree list")
	}
	return wrapped.Trees, nil
}
