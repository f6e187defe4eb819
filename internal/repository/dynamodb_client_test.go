package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"golf-coach/internal/domain"
)

type fakeDynamo struct {
	getOut   *dynamodb.GetItemOutput
	getErr   error
	getIn    *dynamodb.GetItemInput
	putErr   error
	putIn    *dynamodb.PutItemInput
	updErr   error
	updIn    *dynamodb.UpdateItemInput
	queryOut *dynamodb.QueryOutput
	queryIn  *dynamodb.QueryInput
	scanOuts []*dynamodb.ScanOutput
	scanIns  []*dynamodb.ScanInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getIn = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putIn = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updIn = in
	if f.updErr != nil {
		return nil, f.updErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIn = in
	if f.queryOut == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryOut, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scanIns = append(f.scanIns, in)
	if len(f.scanOuts) == 0 {
		return &dynamodb.ScanOutput{}, nil
	}
	out := f.scanOuts[0]
	f.scanOuts = f.scanOuts[1:]
	return out, nil
}

func newTestClient(t *testing.T, api *fakeDynamo) *Client {
	t.Helper()
	c, err := New(api, "analyses", "threads")
	require.NoError(t, err)
	return c
}

func marshalRecord(t *testing.T, rec domain.AnalysisRecord) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(rec)
	require.NoError(t, err)
	return item
}

func TestGetAnalysisAbsentIsNil(t *testing.T) {
	api := &fakeDynamo{}
	c := newTestClient(t, api)

	rec, err := c.GetAnalysis(context.Background(), "swing-1")
	require.NoError(t, err)
	require.Nil(t, rec)
	require.Equal(t, "analyses", aws.ToString(api.getIn.TableName))
	require.True(t, aws.ToBool(api.getIn.ConsistentRead))
}

func TestGetAnalysisRoundTrip(t *testing.T) {
	want := domain.AnalysisRecord{
		AnalysisID: "swing-1",
		UserID:     "user-1",
		Status:     domain.StatusCompleted,
		FrameURLs:  map[string]string{"P1_address": "https://example/p1"},
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	api := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: marshalRecord(t, want)}}
	c := newTestClient(t, api)

	got, err := c.GetAnalysis(context.Background(), "swing-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, want.Status, got.Status)
	require.Equal(t, want.FrameURLs, got.FrameURLs)
}

func TestCreateAnalysisConditionalOnAbsence(t *testing.T) {
	api := &fakeDynamo{}
	c := newTestClient(t, api)

	err := c.CreateAnalysis(context.Background(), domain.AnalysisRecord{AnalysisID: "swing-1", Status: domain.StatusStarted})
	require.NoError(t, err)
	require.Equal(t, "attribute_not_exists(analysis_id)", aws.ToString(api.putIn.ConditionExpression))
}

func TestCreateAnalysisDuplicateIsErrAlreadyExists(t *testing.T) {
	api := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	c := newTestClient(t, api)

	err := c.CreateAnalysis(context.Background(), domain.AnalysisRecord{AnalysisID: "swing-1"})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateAnalysisOtherErrorsPropagate(t *testing.T) {
	api := &fakeDynamo{putErr: errors.New("throttled")}
	c := newTestClient(t, api)

	err := c.CreateAnalysis(context.Background(), domain.AnalysisRecord{AnalysisID: "swing-1"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyExists)
}

func TestUpdateStatusExpression(t *testing.T) {
	api := &fakeDynamo{}
	c := newTestClient(t, api)

	err := c.UpdateStatus(context.Background(), "swing-1", domain.StatusAIProcessing, "AI coaching analysis in progress...")
	require.NoError(t, err)

	in := api.updIn
	require.Contains(t, aws.ToString(in.UpdateExpression), "#s = :status")
	require.Equal(t, "status", in.ExpressionAttributeNames["#s"])
	status := in.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS)
	require.Equal(t, "AI_PROCESSING", status.Value)
	now := in.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberS)
	_, perr := time.Parse(time.RFC3339Nano, now.Value)
	require.NoError(t, perr)
}

func TestSaveAIAnalysisFlipsCompletionFlag(t *testing.T) {
	api := &fakeDynamo{}
	c := newTestClient(t, api)

	err := c.SaveAIAnalysis(context.Background(), "swing-1", &domain.AIAnalysis{CoachingText: "good swing"})
	require.NoError(t, err)

	in := api.updIn
	require.Contains(t, aws.ToString(in.UpdateExpression), "ai_analysis_completed = :done")
	done := in.ExpressionAttributeValues[":done"].(*types.AttributeValueMemberBOOL)
	require.True(t, done.Value)
	status := in.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS)
	require.Equal(t, "AI_COMPLETED", status.Value)
}

func TestSaveAIAnalysisRejectsNil(t *testing.T) {
	c := newTestClient(t, &fakeDynamo{})
	require.Error(t, c.SaveAIAnalysis(context.Background(), "swing-1", nil))
}

func TestListStalledAnalysesPagesUntilLimit(t *testing.T) {
	stalled := func(id string) map[string]types.AttributeValue {
		return marshalRecord(t, domain.AnalysisRecord{AnalysisID: id, Status: domain.StatusCompleted})
	}
	api := &fakeDynamo{scanOuts: []*dynamodb.ScanOutput{
		{
			Items:            []map[string]types.AttributeValue{stalled("a")},
			LastEvaluatedKey: map[string]types.AttributeValue{"analysis_id": &types.AttributeValueMemberS{Value: "a"}},
		},
		{
			Items: []map[string]types.AttributeValue{stalled("b"), stalled("c")},
		},
	}}
	c := newTestClient(t, api)

	cutoff := time.Date(2025, 6, 1, 11, 50, 0, 0, time.UTC)
	records, err := c.ListStalledAnalyses(context.Background(), 2, cutoff)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a", records[0].AnalysisID)
	require.Equal(t, "b", records[1].AnalysisID)

	require.Len(t, api.scanIns, 2)
	require.Nil(t, api.scanIns[0].ExclusiveStartKey)
	require.NotNil(t, api.scanIns[1].ExclusiveStartKey)
	require.Contains(t, aws.ToString(api.scanIns[0].FilterExpression), "ai_analysis_completed = :no")
}

func TestListStalledAnalysesFilterCoversAbandonedProcessing(t *testing.T) {
	api := &fakeDynamo{scanOuts: []*dynamodb.ScanOutput{{}}}
	c := newTestClient(t, api)

	cutoff := time.Date(2025, 6, 1, 11, 50, 0, 0, time.UTC)
	_, err := c.ListStalledAnalyses(context.Background(), 5, cutoff)
	require.NoError(t, err)

	in := api.scanIns[0]
	require.Contains(t, aws.ToString(in.FilterExpression), ":processing AND updated_at < :stale")
	processing := in.ExpressionAttributeValues[":processing"].(*types.AttributeValueMemberS)
	require.Equal(t, "AI_PROCESSING", processing.Value)
	stale := in.ExpressionAttributeValues[":stale"].(*types.AttributeValueMemberS)
	require.Equal(t, cutoff.Format(time.RFC3339Nano), stale.Value)
}

func TestListStalledAnalysesStopsAtTableEnd(t *testing.T) {
	api := &fakeDynamo{scanOuts: []*dynamodb.ScanOutput{{}}}
	c := newTestClient(t, api)

	records, err := c.ListStalledAnalyses(context.Background(), 5, time.Now().UTC())
	require.NoError(t, err)
	require.Empty(t, records)
	require.Len(t, api.scanIns, 1)
}

func TestLatestAnalysesQueriesUserIndexNewestFirst(t *testing.T) {
	api := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		marshalRecord(t, domain.AnalysisRecord{AnalysisID: "newest"}),
		marshalRecord(t, domain.AnalysisRecord{AnalysisID: "older"}),
	}}}
	c := newTestClient(t, api)

	records, err := c.LatestAnalyses(context.Background(), "user-1", 2)
	require.NoError(t, err)
	require.Equal(t, "newest", records[0].AnalysisID)

	in := api.queryIn
	require.Equal(t, "user-index", aws.ToString(in.IndexName))
	require.False(t, aws.ToBool(in.ScanIndexForward))
	require.Equal(t, int32(2), aws.ToInt32(in.Limit))
}

func TestUserThreadRoundTrip(t *testing.T) {
	want := domain.UserThread{
		UserID:           "user-1",
		ExternalThreadID: "thread-1",
		SwingCount:       3,
		ChatHistory: []domain.ChatTurn{
			{Role: "user", Content: "how was it?", Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		},
	}
	item, err := attributevalue.MarshalMap(want)
	require.NoError(t, err)

	api := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := newTestClient(t, api)

	got, err := c.GetUserThread(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, want.ExternalThreadID, got.ExternalThreadID)
	require.Equal(t, want.SwingCount, got.SwingCount)
	require.Len(t, got.ChatHistory, 1)

	require.NoError(t, c.PutUserThread(context.Background(), *got))
	require.Equal(t, "threads", aws.ToString(api.putIn.TableName))
}

func TestGetUserThreadAbsentIsNil(t *testing.T) {
	c := newTestClient(t, &fakeDynamo{})
	got, err := c.GetUserThread(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, got)
}
