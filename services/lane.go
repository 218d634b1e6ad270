package services

import (
	"fmt"
	"strings"

	"match-wager-system/models"
)

// SeekRequest carries the lane fields of an incoming seek call, as forwarded
// by the gateway.
type SeekRequest struct {
	Game          string `json:"game"`
	Mode          string `json:"mode"`
	Region        string `json:"region"`
	StakeAmount   int64  `json:"stake_amount"`
	SkillBand     string `json:"skill_band"`
	LatencyHintMs *int   `json:"latency_hint_ms,omitempty"`
}

// ClassifySeek derives the lane for a seek request. Pure: the same request
// always yields the same lane. The gateway validates requests before they
// reach this service; these checks are the last line against malformed lane
// fields.
func ClassifySeek(req SeekRequest) (models.Lane, error) {
	if strings.TrimSpace(req.Game) == "" {
		return models.Lane{}, fmt.Errorf("game is required")
	}
	if strings.TrimSpace(req.Mode) == "" {
		return models.Lane{}, fmt.Errorf("mode is required")
	}
	if strings.TrimSpace(req.Region) == "" {
		return models.Lane{}, fmt.Errorf("region is required")
	}
	if strings.TrimSpace(req.SkillBand) == "" {
		return models.Lane{}, fmt.Errorf("skill band is required")
	}
	if req.StakeAmount <= 0 {
		return models.Lane{}, fmt.Errorf("stake amount must be positive, got %d", req.StakeAmount)
	}

	return models.Lane{
		Game:        req.Game,
		Mode:        req.Mode,
		Region:      req.Region,
		StakeBucket: models.BucketForStake(req.StakeAmount),
		SkillBand:   req.SkillBand,
	}, nil
}
