package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"golf-coach/internal/domain"
)

// ChangeHandler reacts to one normalized record-change notification.
type ChangeHandler interface {
	HandleRecordChange(ctx context.Context, rec domain.AnalysisRecord) error
}

// Stream dispatches DynamoDB stream events into the status machine. Only
// insert/modify images matter; removals and malformed images are skipped.
type Stream struct {
	svc ChangeHandler
}

func NewStream(svc ChangeHandler) (*Stream, error) {
	if svc == nil {
		return nil, errors.New("handler: change handler must not be nil")
	}
	return &Stream{svc: svc}, nil
}

// Handle processes one stream batch. Per-record failures are logged and the
// batch continues; the first failure is returned at the end so the invocation
// infrastructure records it without a malformed record poisoning the batch.
func (h *Stream) Handle(ctx context.Context, event events.DynamoDBEvent) error {
	var firstErr error
	for _, record := range event.Records {
		if record.EventName != "INSERT" && record.EventName != "MODIFY" {
			continue
		}
		rec, ok := normalizeImage(record.Change.NewImage)
		if !ok {
			slog.Warn("skipping stream record without usable image", "eventId", record.EventID)
			continue
		}
		if err := h.svc.HandleRecordChange(ctx, rec); err != nil {
			slog.Error("record change handling failed",
				"analysisId", rec.AnalysisID, "status", rec.Status, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// normalizeImage maps a stream image onto the explicit record struct at the
// boundary, so downstream logic never branches on attribute shapes. Fields
// sometimes present, sometimes absent are simply left zero.
func normalizeImage(img map[string]events.DynamoDBAttributeValue) (domain.AnalysisRecord, bool) {
	analysisID := streamString(img, "analysis_id")
	status := streamString(img, "status")
	if analysisID == "" || status == "" {
		return domain.AnalysisRecord{}, false
	}

	rec := domain.AnalysisRecord{
		AnalysisID:          analysisID,
		UserID:              streamString(img, "user_id"),
		Status:              domain.Status(status),
		Bucket:              streamString(img, "bucket"),
		S3Key:               streamString(img, "s3_key"),
		AIAnalysisCompleted: streamBool(img, "ai_analysis_completed"),
		ProgressMessage:     streamString(img, "progress_message"),
	}
	if urls := streamStringMap(img, "frame_urls"); len(urls) > 0 {
		rec.FrameURLs = urls
	}
	if ts := streamString(img, "updated_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.UpdatedAt = t
		}
	}
	return rec, true
}

func streamString(img map[string]events.DynamoDBAttributeValue, key string) string {
	v, ok := img[key]
	if !ok || v.DataType() != events.DataTypeString {
		return ""
	}
	return v.String()
}

func streamBool(img map[string]events.DynamoDBAttributeValue, key string) bool {
	v, ok := img[key]
	if !ok || v.DataType() != events.DataTypeBoolean {
		return false
	}
	return v.Boolean()
}

func streamStringMap(img map[string]events.DynamoDBAttributeValue, key string) map[string]string {
	v, ok := img[key]
	if !ok || v.DataType() != events.DataTypeMap {
		return nil
	}
	out := make(map[string]string)
	for k, item := range v.Map() {
		if item.DataType() == events.DataTypeString {
			out[k] = item.String()
		}
	}
	return out
}
