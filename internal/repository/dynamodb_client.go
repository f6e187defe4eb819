package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"golf-coach/internal/domain"
)

const userIndexName = "user-index"

// ErrAlreadyExists is returned by CreateAnalysis when a record with the same
// analysis id is already present.
var ErrAlreadyExists = errors.New("repository: record already exists")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Client wraps the DynamoDB tables holding analysis records and user threads.
type Client struct {
	api         dynamodbAPI
	analysesTab string
	threadsTab  string
}

// New creates a repository Client over the analyses and user-threads tables.
func New(api dynamodbAPI, analysesTable, threadsTable string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(analysesTable) == "" {
		return nil, errors.New("repository: analyses table name must not be empty")
	}
	if strings.TrimSpace(threadsTable) == "" {
		return nil, errors.New("repository: threads table name must not be empty")
	}
	return &Client{api: api, analysesTab: analysesTable, threadsTab: threadsTable}, nil
}

func analysisKey(analysisID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"analysis_id": &types.AttributeValueMemberS{Value: analysisID},
	}
}

func threadKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

// GetAnalysis fetches one analysis record, or nil when absent.
func (c *Client) GetAnalysis(ctx context.Context, analysisID string) (*domain.AnalysisRecord, error) {
	if strings.TrimSpace(analysisID) == "" {
		return nil, errors.New("repository: GetAnalysis: analysis id is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.analysesTab),
		Key:            analysisKey(analysisID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetAnalysis get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	var rec domain.AnalysisRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("repository: GetAnalysis unmarshal: %w", err)
	}
	return &rec, nil
}

// CreateAnalysis inserts a new record, failing with ErrAlreadyExists when a
// record with the same id is present. Existing records are never overwritten.
func (c *Client) CreateAnalysis(ctx context.Context, rec domain.AnalysisRecord) error {
	if rec.AnalysisID == "" {
		return errors.New("repository: CreateAnalysis: analysis id is required")
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("repository: CreateAnalysis marshal: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.analysesTab),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(analysis_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("repository: CreateAnalysis: %w", err)
	}
	return nil
}

// UpdateStatus sets a record's status, progress message, and updated_at.
func (c *Client) UpdateStatus(ctx context.Context, analysisID string, status domain.Status, progressMessage string) error {
	if strings.TrimSpace(analysisID) == "" {
		return errors.New("repository: UpdateStatus: analysis id is required")
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.analysesTab),
		Key:              analysisKey(analysisID),
		UpdateExpression: aws.String("SET #s = :status, progress_message = :msg, updated_at = :now"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":msg":    &types.AttributeValueMemberS{Value: progressMessage},
			":now":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateStatus: %w", err)
	}
	return nil
}

// SaveAIAnalysis persists the coaching output and marks the record terminal.
// ai_analysis_completed flips in the same write so concurrent triggers observe
// a consistent done flag.
func (c *Client) SaveAIAnalysis(ctx context.Context, analysisID string, analysis *domain.AIAnalysis) error {
	if strings.TrimSpace(analysisID) == "" {
		return errors.New("repository: SaveAIAnalysis: analysis id is required")
	}
	if analysis == nil {
		return errors.New("repository: SaveAIAnalysis: analysis must not be nil")
	}
	av, err := attributevalue.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("repository: SaveAIAnalysis marshal: %w", err)
	}
	_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.analysesTab),
		Key:              analysisKey(analysisID),
		UpdateExpression: aws.String("SET ai_analysis = :a, ai_analysis_completed = :done, #s = :status, progress_message = :msg, updated_at = :now"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":a":      av,
			":done":   &types.AttributeValueMemberBOOL{Value: true},
			":status": &types.AttributeValueMemberS{Value: string(domain.StatusAICompleted)},
			":msg":    &types.AttributeValueMemberS{Value: "AI coaching analysis complete"},
			":now":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveAIAnalysis: %w", err)
	}
	return nil
}

// ListStalledAnalyses scans for records whose AI pass never finished: stuck
// at COMPLETED with the analysis not yet done, or stuck at AI_PROCESSING with
// no write since processingBefore (a crashed or timed-out worker). Pages until
// the limit is met or the table ends.
func (c *Client) ListStalledAnalyses(ctx context.Context, limit int, processingBefore time.Time) ([]domain.AnalysisRecord, error) {
	if limit <= 0 {
		return nil, errors.New("repository: ListStalledAnalyses: limit must be positive")
	}

	var (
		records  []domain.AnalysisRecord
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName: aws.String(c.analysesTab),
			FilterExpression: aws.String(
				"ai_analysis_completed = :no AND (#s = :completed OR (#s = :processing AND updated_at < :stale))"),
			ExpressionAttributeNames: map[string]string{
				"#s": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":completed":  &types.AttributeValueMemberS{Value: string(domain.StatusCompleted)},
				":processing": &types.AttributeValueMemberS{Value: string(domain.StatusAIProcessing)},
				":no":         &types.AttributeValueMemberBOOL{Value: false},
				":stale":      &types.AttributeValueMemberS{Value: processingBefore.UTC().Format(time.RFC3339Nano)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListStalledAnalyses scan: %w", err)
		}
		for _, item := range out.Items {
			var rec domain.AnalysisRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("repository: ListStalledAnalyses unmarshal: %w", err)
			}
			records = append(records, rec)
			if len(records) >= limit {
				return records, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// LatestAnalyses queries a user's most recent analysis records, newest first.
func (c *Client) LatestAnalyses(ctx context.Context, userID string, limit int) ([]domain.AnalysisRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("repository: LatestAnalyses: user id is required")
	}
	if limit <= 0 {
		return nil, errors.New("repository: LatestAnalyses: limit must be positive")
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.analysesTab),
		IndexName:              aws.String(userIndexName),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		// Newest first on the created_at range key.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: LatestAnalyses query: %w", err)
	}
	records := make([]domain.AnalysisRecord, 0, len(out.Items))
	for _, item := range out.Items {
		var rec domain.AnalysisRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("repository: LatestAnalyses unmarshal: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetUserThread fetches a user's thread record, or nil when absent.
func (c *Client) GetUserThread(ctx context.Context, userID string) (*domain.UserThread, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("repository: GetUserThread: user id is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.threadsTab),
		Key:            threadKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetUserThread get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	var t domain.UserThread
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, fmt.Errorf("repository: GetUserThread unmarshal: %w", err)
	}
	return &t, nil
}

// PutUserThread writes or replaces a user's thread record whole. Chat history
// and swing history are trimmed by the caller before the write-back; the
// thread item is the unit of write.
func (c *Client) PutUserThread(ctx context.Context, t domain.UserThread) error {
	if t.UserID == "" {
		return errors.New("repository: PutUserThread: user id is required")
	}
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("repository: PutUserThread marshal: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.threadsTab),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutUserThread: %w", err)
	}
	return nil
}
