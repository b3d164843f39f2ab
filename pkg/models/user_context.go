package models

import "time"

// UserProfile holds slow-moving identity data for a user.
type UserProfile struct {
	Name          string `json:"name"`
	PreferredName string `json:"preferred_name,omitempty"`
	Language      string `json:"language"`
	KYCLevel      string `json:"kyc_level,omitempty"`
}

// UserContext is per-user static or slow data, read-only to the engine core
// except for the language preference.
type UserContext struct {
	UserID            string                    `json:"user_id"`
	Profile           UserProfile               `json:"profile"`
	ProductSummaries  map[string]map[string]any `json:"product_summaries,omitempty"`
	BehavioralSummary string                    `json:"behavioral_summary,omitempty"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// Language returns the user's preferred language, defaulting to English.
func (u *UserContext) Language() string {
	if u == nil || u.Profile.Language == "" {
		return "en"
	}
	return u.Profile.Language
}

// CompactedHistory is the stored summary of older conversation history for a
// user, produced by the compactor and consumed by the context assembler.
type CompactedHistory struct {
	UserID          string    `json:"user_id"`
	CompactedText   string    `json:"compacted_text"`
	LastCompactedAt time.Time `json:"last_compacted_at"`
}
