package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"support-agent/internal/ratelimit"
)

const (
	skWindow = "WINDOW#"
	// Expired windows linger for an hour before DynamoDB TTL removes them.
	windowTTLGrace = time.Hour
	// Two rounds cover a concurrent reset landing between our two writes.
	consumeRounds = 2
)

// rateLimitPK returns the partition key for a rate-limited caller. Raw
// identities are never written.
func rateLimitPK(key string) string {
	return "RATE#" + ratelimit.HashKey(key)
}

// Consume implements ratelimit.Store with conditional writes so concurrent
// Lambda instances share one window per key.
func (c *Client) Consume(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error) {
	pk := rateLimitPK(key)
	for round := 0; round < consumeRounds; round++ {
		ok, err := c.incrementWindow(ctx, pk, limit, now)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		ok, err = c.resetWindow(ctx, pk, window, now)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// incrementWindow adds one call to an active window that is below limit.
func (c *Client) incrementWindow(ctx context.Context, pk string, limit int, now time.Time) (bool, error) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skWindow},
		},
		UpdateExpression:         aws.String("ADD #count :one"),
		ConditionExpression:      aws.String("attribute_exists(PK) AND resetAt >= :now AND #count < :limit"),
		ExpressionAttributeNames: map[string]string{"#count": "count"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
			":limit": &types.AttributeValueMemberN{Value: strconv.Itoa(limit)},
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: Consume increment: %w", err)
	}
	return true, nil
}

// resetWindow starts a fresh window when none exists or the current one has
// expired.
func (c *Client) resetWindow(ctx context.Context, pk string, window time.Duration, now time.Time) (bool, error) {
	resetAt := now.Add(window)
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":      &types.AttributeValueMemberS{Value: pk},
			"SK":      &types.AttributeValueMemberS{Value: skWindow},
			"count":   &types.AttributeValueMemberN{Value: "1"},
			"resetAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(resetAt.UnixMilli(), 10)},
			"ttl":     &types.AttributeValueMemberN{Value: strconv.FormatInt(resetAt.Add(windowTTLGrace).Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) OR resetAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: Consume reset: %w", err)
	}
	return true, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
