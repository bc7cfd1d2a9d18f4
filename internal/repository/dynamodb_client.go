// Package repository keeps the export ledger in DynamoDB.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chatbridge/internal/domain"
)

const (
	skPrefixExport = "AT#"
	skSummary      = "SUMMARY#"
	ttlDuration    = 90 * 24 * time.Hour
	defaultLimit   = 20
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Summary aggregates the exports of one target.
type Summary struct {
	Target       domain.ExportTarget
	Exports      int
	LastExportAt time.Time
}

// Client wraps a DynamoDB table holding export records.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// exportPK returns the partition key holding every export of a target.
func exportPK(target domain.ExportTarget) string {
	return "EXPORT#" + strings.ToUpper(string(target))
}

func exportSK(ts time.Time, documentID string) string {
	return skPrefixExport + ts.UTC().Format(time.RFC3339Nano) + "#" + documentID
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// RecordExport stores rec and bumps the target summary in one transaction.
func (c *Client) RecordExport(ctx context.Context, rec domain.ExportRecord) error {
	if rec.Target == "" || rec.DocumentID == "" {
		return errors.New("repository: RecordExport: target and document id are required")
	}
	if rec.ExportedAt.IsZero() {
		rec.ExportedAt = c.now()
	}
	pk := exportPK(rec.Target)
	at := rec.ExportedAt.UTC().Format(time.RFC3339Nano)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                c.recordItem(rec),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: pk},
						"SK": &types.AttributeValueMemberS{Value: skSummary},
					},
					UpdateExpression: aws.String("ADD exports :one SET lastExportAt = :at"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":one": &types.AttributeValueMemberN{Value: "1"},
						":at":  &types.AttributeValueMemberS{Value: at},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: RecordExport: %w", err)
	}
	return nil
}

// ListExports returns the most recent exports of target, newest first.
func (c *Client) ListExports(ctx context.Context, target domain.ExportTarget, limit int) ([]domain.ExportRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: exportPK(target)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixExport},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListExports query: %w", err)
	}

	recs := make([]domain.ExportRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToRecord(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListExports unmarshal: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// GetSummary returns the export count of target; a target never exported
// yields a zero summary.
func (c *Client) GetSummary(ctx context.Context, target domain.ExportTarget) (Summary, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: exportPK(target)},
			"SK": &types.AttributeValueMemberS{Value: skSummary},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Summary{}, fmt.Errorf("repository: GetSummary get item: %w", err)
	}
	summary := Summary{Target: target}
	if out == nil || len(out.Item) == 0 {
		return summary, nil
	}

	if summary.Exports, err = intAttr(out.Item, "exports"); err != nil {
		return Summary{}, fmt.Errorf("repository: GetSummary decode exports: %w", err)
	}
	if at, err := strAttr(out.Item, "lastExportAt"); err == nil {
		summary.LastExportAt, _ = time.Parse(time.RFC3339Nano, at)
	}
	return summary, nil
}

func (c *Client) recordItem(rec domain.ExportRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: exportPK(rec.Target)},
		"SK":         &types.AttributeValueMemberS{Value: exportSK(rec.ExportedAt, rec.DocumentID)},
		"target":     &types.AttributeValueMemberS{Value: string(rec.Target)},
		"documentId": &types.AttributeValueMemberS{Value: rec.DocumentID},
		"messages":   &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Messages)},
		"blocks":     &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Blocks)},
		"exportedAt": &types.AttributeValueMemberS{Value: rec.ExportedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
}

// itemToRecord converts a DynamoDB attribute map to an ExportRecord.
func itemToRecord(item map[string]types.AttributeValue) (domain.ExportRecord, error) {
	target, err := strAttr(item, "target")
	if err != nil {
		return domain.ExportRecord{}, err
	}
	docID, err := strAttr(item, "documentId")
	if err != nil {
		return domain.ExportRecord{}, err
	}
	at, err := strAttr(item, "exportedAt")
	if err != nil {
		return domain.ExportRecord{}, err
	}
	exportedAt, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return domain.ExportRecord{}, fmt.Errorf("repository: parse exportedAt: %w", err)
	}
	messages, _ := intAttr(item, "messages") // allow missing
	blocks, _ := intAttr(item, "blocks")

	return domain.ExportRecord{
		Target:     domain.ExportTarget(target),
		DocumentID: docID,
		Messages:   messages,
		Blocks:     blocks,
		ExportedAt: exportedAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
