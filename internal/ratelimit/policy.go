package ratelimit

import "time"

// Policy binds a semantic action to a limit and window. The action name
// doubles as the counter key namespace, so two policies never collide even
// for the same subject.
type Policy struct {
	Action string
	Limit  int
	Window time.Duration
}

// Key returns the counter key for a subject under this policy.
func (p Policy) Key(subjectID string) string {
	return p.Action + ":" + subjectID
}

// Named policies for every mutating entry point the platform guards.
// Subjects are user IDs except LoginAttempt, which is keyed by client IP
// (no authenticated user exists yet at login time).
var (
	ChatMessage      = Policy{Action: "chat-message", Limit: 20, Window: 10 * time.Second}
	TopicChange      = Policy{Action: "topic-change", Limit: 2, Window: time.Minute}
	SuggestionCreate = Policy{Action: "suggestion-create", Limit: 5, Window: time.Minute}
	SuggestionVote   = Policy{Action: "suggestion-vote", Limit: 30, Window: time.Minute}
	Confirm          = Policy{Action: "confirm", Limit: 10, Window: time.Minute}
	Unconfirm        = Policy{Action: "unconfirm", Limit: 10, Window: time.Minute}
	LoginAttempt     = Policy{Action: "login-attempt", Limit: 5, Window: 15 * time.Minute}
	Redemption       = Policy{Action: "redemption", Limit: 3, Window: time.Hour}
	PresencePing     = Policy{Action: "presence-ping", Limit: 12, Window: time.Minute}
)
