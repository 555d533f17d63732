// Package tenantcfg resolves a tenant's stored configuration blob into a
// fully-populated, typed Config.
//
// The stored blob is untrusted: it may be missing entirely, partial, or
// malformed. Resolve never fails — any field that cannot be used falls back
// to the system default, so a broken tenant config can degrade behavior but
// never break a request.
package tenantcfg

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/openclub/kudos/internal/models"
)

// Config is a tenant's effective configuration, immutable per read.
// It is derived on demand and never persisted in resolved form.
type Config struct {
	// XPRules maps an XP source to the amount awarded for it.
	XPRules map[models.XPSource]int64

	// RankThresholds is the tenant's rank table, sorted ascending by MinXP.
	RankThresholds []models.RankThreshold

	// SuggestionVoteThreshold is the vote count at which a suggestion
	// earns the TOP_SUGGESTION bonus.
	SuggestionVoteThreshold int

	// QuizHighScorePercent is the minimum score percentage that counts
	// as a quiz high score.
	QuizHighScorePercent int

	// Features toggles optional behavior per tenant.
	Features map[string]bool

	Timezone string
}

// Defaults returns the system default configuration. Resolve(nil) equals
// this exactly.
func Defaults() Config {
	return Config{
		XPRules: map[models.XPSource]int64{
			models.SourceModuleCompleted:    50,
			models.SourceQuizHighScore:      25,
			models.SourceSuggestionCreated:  10,
			models.SourceTopSuggestion:      75,
			models.SourceSuggestionApproved: 30,
			models.SourceChatParticipation:  1,
		},
		RankThresholds: []models.RankThreshold{
			{Rank: 1, MinXP: 0, Label: "Newcomer"},
			{Rank: 2, MinXP: 100, Label: "Contributor"},
			{Rank: 3, MinXP: 500, Label: "Regular"},
			{Rank: 4, MinXP: 1500, Label: "Veteran"},
			{Rank: 5, MinXP: 5000, Label: "Legend"},
		},
		SuggestionVoteThreshold: 10,
		QuizHighScorePercent:    80,
		Features: map[string]bool{
			"suggestions": true,
			"chat":        true,
			"redemptions": true,
		},
		Timezone: "UTC",
	}
}

// doc mirrors the stored JSON shape. Pointer and map fields distinguish
// "absent" from "zero" so partial overrides only replace what they name.
// Unknown keys in the blob are ignored by encoding/json.
type doc struct {
	XPRules                 map[string]int64       `json:"xpRules"`
	RankThresholds          []models.RankThreshold `json:"rankThresholds"`
	SuggestionVoteThreshold *int                   `json:"suggestionVoteThreshold"`
	QuizHighScorePercent    *int                   `json:"quizHighScorePercent"`
	Features                map[string]bool        `json:"features"`
	Timezone                *string                `json:"timezone"`
}

// Resolve merges a tenant's raw configuration with Defaults.
//
// Merge rules:
//   - scalar fields replace the default only when present and valid
//   - map fields (xpRules, features) merge key-by-key over the defaults:
//     keys missing from the override keep their default value
//   - rankThresholds replaces the default table wholesale when it is a
//     non-empty array of usable entries, else the default table stands
//
// raw may be nil, empty, partial, or garbage; Resolve never fails.
func Resolve(raw []byte) Config {
	cfg := Defaults()
	if len(raw) == 0 {
		return cfg
	}

	// A wrong-typed field is a per-field problem, not a whole-blob one:
	// encoding/json keeps decoding the remaining fields after an
	// UnmarshalTypeError, so the offending field stays at its zero value
	// and falls through to the default below while its siblings apply.
	// Only a syntactically broken blob discards everything.
	var d doc
	if err := json.Unmarshal(raw, &d); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return cfg
		}
	}

	for k, v := range d.XPRules {
		if v < 0 {
			continue
		}
		cfg.XPRules[models.XPSource(k)] = v
	}

	if ths := sanitizeThresholds(d.RankThresholds); len(ths) > 0 {
		cfg.RankThresholds = ths
	}

	if d.SuggestionVoteThreshold != nil && *d.SuggestionVoteThreshold > 0 {
		cfg.SuggestionVoteThreshold = *d.SuggestionVoteThreshold
	}
	if d.QuizHighScorePercent != nil && *d.QuizHighScorePercent > 0 && *d.QuizHighScorePercent <= 100 {
		cfg.QuizHighScorePercent = *d.QuizHighScorePercent
	}
	for k, v := range d.Features {
		cfg.Features[k] = v
	}
	if d.Timezone != nil && *d.Timezone != "" {
		cfg.Timezone = *d.Timezone
	}

	return cfg
}

// sanitizeThresholds drops unusable entries (no label, negative MinXP) and
// returns the rest sorted ascending by MinXP, rank numbers normalized to
// their position. Returns nil when nothing usable remains.
func sanitizeThresholds(in []models.RankThreshold) []models.RankThreshold {
	out := make([]models.RankThreshold, 0, len(in))
	for _, t := range in {
		if t.Label == "" || t.MinXP < 0 {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinXP < out[j].MinXP })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
