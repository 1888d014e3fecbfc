package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Manager fetches secrets from AWS Secrets Manager.
type Manager struct {
	client *secretsmanager.Client
}

// NewManager loads the default AWS configuration and returns a Manager.
func NewManager(ctx context.Context) (*Manager, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Manager{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// GetString returns the raw string value of the named secret.
func (m *Manager) GetString(ctx context.Context, name string) (string, error) {
	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}
	return *out.SecretString, nil
}

// GetJSON unmarshals the named secret's JSON value into dst.
func (m *Manager) GetJSON(ctx context.Context, name string, dst any) error {
	raw, err := m.GetString(ctx, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode secret %s: %w", name, err)
	}
	return nil
}
