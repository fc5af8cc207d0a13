package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"support-agent/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skBrief     = "BRIEF#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL

	// Fixed-width so sort keys order chronologically.
	msgTimeFormat = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a single DynamoDB table holding scoping sessions and rate
// limit windows.
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

// sessionPK returns the DynamoDB partition key for a scoping session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgSK returns the sort key for a message at ts.
func msgSK(ts time.Time, role string) string {
	return skPrefixMsg + ts.UTC().Format(msgTimeFormat) + "#" + role
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// SaveExchange stores the latest user message and the assistant reply of a
// scoping turn in one transaction.
func (c *Client) SaveExchange(ctx context.Context, sessionID, userText, assistantText string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: SaveExchange: session id is required")
	}
	now := c.now()
	var items []types.TransactWriteItem
	if userText != "" {
		items = append(items, c.putMessage(NewMessage(sessionID, domain.RoleUser, userText, now, c.ttlValue())))
	}
	// Offset keeps the assistant message ordered after the user message.
	items = append(items, c.putMessage(NewMessage(sessionID, domain.RoleAssistant, assistantText, now.Add(time.Millisecond), c.ttlValue())))

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return fmt.Errorf("repository: SaveExchange: %w", err)
	}
	return nil
}

func (c *Client) putMessage(msg domain.Message) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                messageItem(msg),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		},
	}
}

// SaveBrief writes or replaces the brief record for a session.
func (c *Client) SaveBrief(ctx context.Context, sessionID string, brief domain.Brief) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: SaveBrief: session id is required")
	}
	rec, err := NewSessionBrief(sessionID, brief, c.now(), c.ttlValue())
	if err != nil {
		return fmt.Errorf("repository: SaveBrief: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      briefItem(rec),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveBrief: %w", err)
	}
	return nil
}

// LoadBrief returns the stored brief for a session, or a zero Brief when
// none has been saved yet.
func (c *Client) LoadBrief(ctx context.Context, sessionID string) (domain.Brief, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skBrief},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Brief{}, fmt.Errorf("repository: LoadBrief get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Brief{}, nil
	}
	raw, err := strAttr(out.Item, "brief")
	if err != nil {
		return domain.Brief{}, fmt.Errorf("repository: LoadBrief: %w", err)
	}
	brief, err := decodeBrief(raw)
	if err != nil {
		return domain.Brief{}, fmt.Errorf("repository: LoadBrief decode: %w", err)
	}
	return brief, nil
}

// NewMessage constructs a Message with PK/SK set from the session and time.
func NewMessage(sessionID, role, content string, ts time.Time, ttl int64) domain.Message {
	return domain.Message{
		PK:        sessionPK(sessionID),
		SK:        msgSK(ts, role),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		TTL:       ttl,
	}
}

// NewSessionBrief constructs the persisted brief record. The session status
// mirrors the brief: brief_ready once the brief is ready, active before.
func NewSessionBrief(sessionID string, brief domain.Brief, ts time.Time, ttl int64) (domain.SessionBrief, error) {
	raw, err := encodeBrief(brief)
	if err != nil {
		return domain.SessionBrief{}, err
	}
	status := "active"
	if brief.Ready() {
		status = "brief_ready"
	}
	return domain.SessionBrief{
		PK:        sessionPK(sessionID),
		SK:        skBrief,
		SessionID: sessionID,
		BriefJSON: raw,
		Status:    status,
		UpdatedAt: ts.UTC().Format(time.RFC3339),
		TTL:       ttl,
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: msg.PK},
		"SK":        &types.AttributeValueMemberS{Value: msg.SK},
		"sessionId": &types.AttributeValueMemberS{Value: msg.SessionID},
		"role":      &types.AttributeValueMemberS{Value: msg.Role},
		"content":   &types.AttributeValueMemberS{Value: msg.Content},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", msg.TTL)},
	}
}

func briefItem(rec domain.SessionBrief) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: rec.PK},
		"SK":        &types.AttributeValueMemberS{Value: rec.SK},
		"sessionId": &types.AttributeValueMemberS{Value: rec.SessionID},
		"brief":     &types.AttributeValueMemberS{Value: rec.BriefJSON},
		"status":    &types.AttributeValueMemberS{Value: rec.Status},
		"updatedAt": &types.AttributeValueMemberS{Value: rec.UpdatedAt},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.TTL)},
	}
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
