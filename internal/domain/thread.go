package domain

import "time"

// UserThread tracks a user's persistent conversational thread with the model.
// At most one external thread id exists per user; it is created lazily and
// never recreated once present.
type UserThread struct {
	UserID           string         `dynamodbav:"user_id" json:"userId"`
	ExternalThreadID string         `dynamodbav:"external_thread_id" json:"externalThreadId"`
	SwingCount       int            `dynamodbav:"swing_count" json:"swingCount"`
	MessageCount     int            `dynamodbav:"message_count" json:"messageCount"`
	CreatedAt        time.Time      `dynamodbav:"created_at" json:"createdAt"`
	LastUpdated      time.Time      `dynamodbav:"last_updated" json:"lastUpdated"`
	ChatHistory      []ChatTurn     `dynamodbav:"chat_history,omitempty" json:"chatHistory,omitempty"`
	SwingHistory     []SwingSummary `dynamodbav:"swing_history,omitempty" json:"swingHistory,omitempty"`
}

// SwingSummary is the per-swing metadata appended to a user's thread after a
// completed analysis.
type SwingSummary struct {
	AnalysisID     string    `dynamodbav:"analysis_id" json:"analysisId"`
	AnalyzedAt     time.Time `dynamodbav:"analyzed_at" json:"analyzedAt"`
	SelectedFrames []string  `dynamodbav:"selected_frames,omitempty" json:"selectedFrames,omitempty"`
}

// ChatTurn is one persisted conversation turn.
type ChatTurn struct {
	Role      string    `dynamodbav:"role" json:"role"`
	Content   string    `dynamodbav:"content" json:"content"`
	Timestamp time.Time `dynamodbav:"timestamp" json:"timestamp"`
}
