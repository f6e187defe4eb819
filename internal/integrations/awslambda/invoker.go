package awslambda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// lambdaAPI is the minimal Lambda interface required by Invoker.
type lambdaAPI interface {
	Invoke(ctx context.Context, in *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

// ExtractionRequest is the payload sent to the frame-extractor function.
type ExtractionRequest struct {
	Bucket     string `json:"s3_bucket"`
	Key        string `json:"s3_key"`
	AnalysisID string `json:"analysis_id"`
	UserID     string `json:"user_id"`
}

// AnalysisRequest is the payload sent to the analysis-worker function, either
// on direct user request or when a stalled record is re-triggered from the
// results endpoint.
type AnalysisRequest struct {
	AnalysisID string `json:"analysis_id"`
	UserID     string `json:"user_id"`
}

// Invoker fires the downstream pipeline functions asynchronously. Event-type
// invocation acknowledges receipt only; completion flows back through the
// record store's stream.
type Invoker struct {
	api           lambdaAPI
	extractorName string
	workerName    string
}

// NewInvoker creates an Invoker over the named frame-extractor and
// analysis-worker functions.
func NewInvoker(api lambdaAPI, extractorName, workerName string) (*Invoker, error) {
	if api == nil {
		return nil, errors.New("awslambda: api must not be nil")
	}
	if strings.TrimSpace(extractorName) == "" {
		return nil, errors.New("awslambda: extractor function name must not be empty")
	}
	if strings.TrimSpace(workerName) == "" {
		return nil, errors.New("awslambda: worker function name must not be empty")
	}
	return &Invoker{api: api, extractorName: extractorName, workerName: workerName}, nil
}

// TriggerExtraction asynchronously invokes the frame extractor for one video.
func (i *Invoker) TriggerExtraction(ctx context.Context, bucket, key, analysisID, userID string) error {
	req := ExtractionRequest{Bucket: bucket, Key: key, AnalysisID: analysisID, UserID: userID}
	if err := i.invoke(ctx, i.extractorName, req); err != nil {
		return fmt.Errorf("awslambda: trigger extraction: %w", err)
	}
	return nil
}

// TriggerAnalysis asynchronously invokes the analysis worker for one record.
func (i *Invoker) TriggerAnalysis(ctx context.Context, analysisID, userID string) error {
	req := AnalysisRequest{AnalysisID: analysisID, UserID: userID}
	if err := i.invoke(ctx, i.workerName, req); err != nil {
		return fmt.Errorf("awslambda: trigger analysis: %w", err)
	}
	return nil
}

func (i *Invoker) invoke(ctx context.Context, fn string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	out, err := i.api.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName:   aws.String(fn),
		InvocationType: types.InvocationTypeEvent,
		Payload:        body,
	})
	if err != nil {
		return err
	}
	if out.FunctionError != nil {
		return fmt.Errorf("function %s returned error: %s", fn, *out.FunctionError)
	}
	return nil
}
