package domain

import "time"

// Status is the lifecycle state of a swing analysis record.
type Status string

const (
	StatusStarted          Status = "STARTED"
	StatusExtractingFrames Status = "EXTRACTING_FRAMES"
	// StatusCompleted means frame extraction finished; AI analysis may still
	// be pending. Distinct from StatusAICompleted.
	StatusCompleted    Status = "COMPLETED"
	StatusAIProcessing Status = "AI_PROCESSING"
	StatusAICompleted  Status = "AI_COMPLETED"
	StatusFailed       Status = "FAILED"
)

// AnalysisRecord tracks one uploaded swing video through the pipeline.
type AnalysisRecord struct {
	AnalysisID          string            `dynamodbav:"analysis_id" json:"analysisId"`
	UserID              string            `dynamodbav:"user_id" json:"userId"`
	Status              Status            `dynamodbav:"status" json:"status"`
	Bucket              string            `dynamodbav:"bucket,omitempty" json:"bucket,omitempty"`
	S3Key               string            `dynamodbav:"s3_key,omitempty" json:"s3Key,omitempty"`
	FrameURLs           map[string]string `dynamodbav:"frame_urls,omitempty" json:"frameUrls,omitempty"`
	AIAnalysis          *AIAnalysis       `dynamodbav:"ai_analysis,omitempty" json:"aiAnalysis,omitempty"`
	AIAnalysisCompleted bool              `dynamodbav:"ai_analysis_completed" json:"aiAnalysisCompleted"`
	ProgressMessage     string            `dynamodbav:"progress_message,omitempty" json:"progressMessage,omitempty"`
	CreatedAt           time.Time         `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt           time.Time         `dynamodbav:"updated_at" json:"updatedAt"`
}

// AIAnalysis is the persisted output of one AI coaching pass.
type AIAnalysis struct {
	CoachingText   string             `dynamodbav:"coaching_text" json:"coachingText"`
	Metrics        map[string]float64 `dynamodbav:"metrics,omitempty" json:"metrics,omitempty"`
	SelectedFrames []string           `dynamodbav:"selected_frames,omitempty" json:"selectedFrames,omitempty"`
	ThreadID       string             `dynamodbav:"thread_id,omitempty" json:"threadId,omitempty"`
	Model          string             `dynamodbav:"model,omitempty" json:"model,omitempty"`
	CompletedAt    time.Time          `dynamodbav:"completed_at" json:"completedAt"`
}
