// Package paramstore resolves secret references against AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// RefPrefix marks a setting value as the name of an SSM parameter.
const RefPrefix = "ssm:"

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// IsRef reports whether value names an SSM parameter.
func IsRef(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), RefPrefix)
}

// Resolver expands "ssm:<name>" references into secret values. The parameter
// may hold the raw secret or a JSON object with a "token" field.
type Resolver struct {
	getter Getter
}

func NewResolver(getter Getter) *Resolver {
	return &Resolver{getter: getter}
}

// Resolve returns value unchanged unless it is a reference.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	if r == nil || r.getter == nil {
		return "", fmt.Errorf("paramstore: %q is a parameter reference but no parameter store is configured", value)
	}
	name := strings.TrimPrefix(strings.TrimSpace(value), RefPrefix)
	raw, err := r.getter.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	return secretValue(raw)
}

func secretValue(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return "", fmt.Errorf("paramstore: parse secret payload: %w", err)
	}
	token := strings.TrimSpace(payload.Token)
	if token == "" {
		return "", errors.New("paramstore: secret payload missing token")
	}
	return token, nil
}
