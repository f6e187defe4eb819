package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golf-coach/internal/domain"
	"golf-coach/internal/integrations/openai"
)

const (
	defaultBatchSize    = 10
	maxSwingHistory     = 10
	maxFrameBytes       = 8 << 20
	defaultFrameTimeout = 30 * time.Second
)

// frameThreadAPI is the assistants message surface consumed by the analyzer.
// *openai.Client satisfies it.
type frameThreadAPI interface {
	AddMessage(ctx context.Context, threadID, role string, parts []openai.MessagePart) (string, error)
	DeleteMessage(ctx context.Context, threadID, messageID string) error
}

// threadRunner is the slice of ThreadManager the analyzer consumes.
type threadRunner interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.UserThread, error)
	RunAndAwait(ctx context.Context, threadID, instructions string) (string, error)
	Save(ctx context.Context, t domain.UserThread) error
}

// SwingAnalyzer runs the batched vision analysis of one swing's extracted
// frames over the user's persistent thread.
type SwingAnalyzer struct {
	threads    threadRunner
	api        frameThreadAPI
	httpClient *http.Client
	batchSize  int
}

type AnalyzerOption func(*SwingAnalyzer)

// WithBatchSize overrides the vision model's per-call image cap.
func WithBatchSize(n int) AnalyzerOption {
	return func(a *SwingAnalyzer) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

func WithFrameHTTPClient(c *http.Client) AnalyzerOption {
	return func(a *SwingAnalyzer) {
		a.httpClient = c
	}
}

func NewSwingAnalyzer(threads threadRunner, api frameThreadAPI, opts ...AnalyzerOption) (*SwingAnalyzer, error) {
	if threads == nil {
		return nil, errors.New("usecase: thread runner must not be nil")
	}
	if api == nil {
		return nil, errors.New("usecase: thread api must not be nil")
	}
	a := &SwingAnalyzer{
		threads:    threads,
		api:        api,
		httpClient: &http.Client{Timeout: defaultFrameTimeout},
		batchSize:  defaultBatchSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// frame is one downloaded, encoded swing frame.
type frame struct {
	phase string
	b64   string
}

// frameMessage records a frame posted to the thread, for later curation.
type frameMessage struct {
	phase     string
	messageID string
}

// Analyze downloads the record's frames, sends them to the vision model in
// ordered batches over the user's thread, merges the per-batch output, and
// curates non-key frames back out of the thread.
func (a *SwingAnalyzer) Analyze(ctx context.Context, rec *domain.AnalysisRecord) (*domain.AIAnalysis, error) {
	if rec == nil || rec.AnalysisID == "" {
		return nil, newError(ErrorInvalidInput, "missing_analysis_record", nil)
	}
	if len(rec.FrameURLs) == 0 {
		return nil, newError(ErrorInvalidInput, "no_frames_extracted", nil)
	}

	thread, err := a.threads.GetOrCreate(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}

	frames := a.downloadFrames(ctx, rec)
	if len(frames) == 0 {
		return nil, newError(ErrorInvalidInput, "no_valid_frames",
			fmt.Errorf("all %d frame downloads failed", len(rec.FrameURLs)))
	}

	batches := partitionFrames(frames, a.batchSize)

	var (
		sections      []string
		frameMessages []frameMessage
		messagesAdded int
	)
	for i, batch := range batches {
		for _, f := range batch {
			parts := []openai.MessagePart{
				openai.TextPart("Swing " + rec.AnalysisID + " frame " + f.phase),
				openai.ImagePart(f.b64),
			}
			msgID, err := a.api.AddMessage(ctx, thread.ExternalThreadID, "user", parts)
			if err != nil {
				return nil, wrapUpstream("frame_message_error", err)
			}
			frameMessages = append(frameMessages, frameMessage{phase: f.phase, messageID: msgID})
			messagesAdded++
		}

		instructions := firstBatchInstructions(i+1, len(batches), len(batch))
		if i > 0 {
			instructions = continuationInstructions(i+1, len(batches))
		}
		reply, err := a.threads.RunAndAwait(ctx, thread.ExternalThreadID, instructions)
		if err != nil {
			return nil, err
		}
		sections = append(sections, reply)
	}

	keyFrames := collectKeyFrames(sections)
	a.curateFrames(ctx, thread.ExternalThreadID, frameMessages, keyFrames)

	merged := mergeBatchReports(sections)

	thread.SwingCount++
	thread.MessageCount += messagesAdded
	thread.SwingHistory = append(thread.SwingHistory, domain.SwingSummary{
		AnalysisID:     rec.AnalysisID,
		AnalyzedAt:     time.Now().UTC(),
		SelectedFrames: keyFrames,
	})
	if len(thread.SwingHistory) > maxSwingHistory {
		thread.SwingHistory = thread.SwingHistory[len(thread.SwingHistory)-maxSwingHistory:]
	}
	if err := a.threads.Save(ctx, *thread); err != nil {
		return nil, err
	}

	return &domain.AIAnalysis{
		CoachingText:   merged,
		Metrics:        collectMetrics(sections),
		SelectedFrames: keyFrames,
		ThreadID:       thread.ExternalThreadID,
		CompletedAt:    time.Now().UTC(),
	}, nil
}

// downloadFrames fetches every frame in phase order. A single frame's failure
// is logged and the frame skipped; the analysis proceeds with what downloaded.
func (a *SwingAnalyzer) downloadFrames(ctx context.Context, rec *domain.AnalysisRecord) []frame {
	phases := make([]string, 0, len(rec.FrameURLs))
	for phase := range rec.FrameURLs {
		phases = append(phases, phase)
	}
	sortPhases(phases)

	frames := make([]frame, 0, len(phases))
	for _, phase := range phases {
		b64, err := a.fetchFrame(ctx, rec.FrameURLs[phase])
		if err != nil {
			slog.Warn("skipping frame after download failure",
				"analysisId", rec.AnalysisID, "phase", phase, "err", err)
			continue
		}
		frames = append(frames, frame{phase: phase, b64: b64})
	}
	return frames
}

func (a *SwingAnalyzer) fetchFrame(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	res, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxFrameBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("empty frame body")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// partitionFrames splits frames into ordered batches of at most size each.
// Every frame lands in exactly one batch.
func partitionFrames(frames []frame, size int) [][]frame {
	if size <= 0 {
		size = defaultBatchSize
	}
	var batches [][]frame
	for start := 0; start < len(frames); start += size {
		end := start + size
		if end > len(frames) {
			end = len(frames)
		}
		batches = append(batches, frames[start:end])
	}
	return batches
}

func collectKeyFrames(sections []string) []string {
	seen := make(map[string]bool)
	var frames []string
	for _, s := range sections {
		for _, phase := range parseKeyFrames(s) {
			if !seen[phase] {
				seen[phase] = true
				frames = append(frames, phase)
			}
		}
	}
	return frames
}

// curateFrames deletes every frame message the model did not cite as a key
// frame, bounding long-term thread growth. Deletion failures are logged and
// otherwise ignored.
func (a *SwingAnalyzer) curateFrames(ctx context.Context, threadID string, msgs []frameMessage, keyFrames []string) {
	keep := make(map[string]bool, len(keyFrames))
	for _, phase := range keyFrames {
		keep[phase] = true
	}
	for _, m := range msgs {
		if keep[m.phase] {
			continue
		}
		if err := a.api.DeleteMessage(ctx, threadID, m.messageID); err != nil {
			slog.Warn("frame curation delete failed",
				"threadId", threadID, "messageId", m.messageID, "phase", m.phase, "err", err)
		}
	}
}
