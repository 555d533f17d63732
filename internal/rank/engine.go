// Package rank maps lifetime XP onto a tenant's rank table.
//
// All functions are pure. The threshold table comes from the resolved
// tenant config and is sorted ascending by MinXP (tenantcfg guarantees
// this for resolved configs).
package rank

import "github.com/openclub/kudos/internal/models"

// NextRank describes the rank a user has not reached yet and how much
// more lifetime XP it takes.
type NextRank struct {
	Rank     models.RankThreshold `json:"rank"`
	XPNeeded int64                `json:"xp_needed"`
}

// Compute returns the highest threshold whose MinXP is at or below
// lifetimeXP. If no threshold matches (all MinXP above the user, or the
// user is somehow negative), the lowest-defined threshold is returned —
// everyone always has a rank.
//
// Compute is monotonic: more lifetime XP never yields a lower rank.
func Compute(lifetimeXP int64, thresholds []models.RankThreshold) models.RankThreshold {
	if len(thresholds) == 0 {
		return models.RankThreshold{Rank: 1, MinXP: 0, Label: "Unranked"}
	}
	best := thresholds[0]
	for _, t := range thresholds {
		if t.MinXP <= lifetimeXP && t.MinXP >= best.MinXP {
			best = t
		}
	}
	return best
}

// ToNext returns the first threshold above the user's lifetime XP and the
// gap to reach it, or nil when the user already holds the top rank.
func ToNext(lifetimeXP int64, thresholds []models.RankThreshold) *NextRank {
	for _, t := range thresholds {
		if t.MinXP > lifetimeXP {
			return &NextRank{Rank: t, XPNeeded: t.MinXP - lifetimeXP}
		}
	}
	return nil
}
