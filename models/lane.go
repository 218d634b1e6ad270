package models

import (
	"fmt"

	"github.com/gosimple/slug"
)

// StakeBucket bands a continuous stake amount (minor currency units) into one
// of five fixed steps. Two seeks only share a lane when their buckets match.
type StakeBucket string

const (
	StakeBucketS5   StakeBucket = "S-5"   // <= 500
	StakeBucketS10  StakeBucket = "S-10"  // <= 1000
	StakeBucketS25  StakeBucket = "S-25"  // <= 2500
	StakeBucketS50  StakeBucket = "S-50"  // <= 5000
	StakeBucketSMax StakeBucket = "S-MAX" // > 5000
)

// BucketForStake maps a stake amount onto the fixed five-step ladder.
func BucketForStake(amount int64) StakeBucket {
	switch {
	case amount <= 500:
		return StakeBucketS5
	case amount <= 1000:
		return StakeBucketS10
	case amount <= 2500:
		return StakeBucketS25
	case amount <= 5000:
		return StakeBucketS50
	default:
		return StakeBucketSMax
	}
}

// Lane is the routing key that groups compatible seek requests. It is a plain
// value, not a stored entity — it only becomes a string at the queue-store
// boundary via Key().
type Lane struct {
	Game        string      `json:"game"`
	Mode        string      `json:"mode"`
	Region      string      `json:"region"`
	StakeBucket StakeBucket `json:"stake_bucket"`
	SkillBand   string      `json:"skill_band"`
}

// Key serializes the lane for the queue store. Free-form identifiers are
// slugified so lane keys stay safe inside colon-delimited redis keys.
func (l Lane) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		slug.Make(l.Game),
		slug.Make(l.Mode),
		slug.Make(l.Region),
		l.StakeBucket,
		slug.Make(l.SkillBand),
	)
}
