// Package secrets reads the system credential list from AWS Secrets Manager.
package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client in use.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager caches secret values for ttl.
type AWSSecretsManager struct {
	client SecretsManagerAPI
	cache  map[string]*cachedSecret
	mu     sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSSecretsManager(client SecretsManagerAPI, ttl time.Duration) *AWSSecretsManager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]*cachedSecret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func NewAWSSecretsManagerWithConfig(cfg aws.Config) *AWSSecretsManager {
	return NewAWSSecretsManager(secretsmanager.NewFromConfig(cfg), 5*time.Minute)
}

func (s *AWSSecretsManager) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if cached, ok := s.cache[name]; ok && s.now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := aws.ToString(result.SecretString)

	s.mu.Lock()
	s.cache[name] = &cachedSecret{
		value:     value,
		expiresAt: s.now().Add(s.ttl),
	}
	s.mu.Unlock()

	return value, nil
}

type InMemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewInMemorySecretStore() *InMemorySecretStore {
	return &InMemorySecretStore{secrets: make(map[string]string)}
}

func (s *InMemorySecretStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return value, nil
}

func (s *InMemorySecretStore) SetSecret(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

// CredentialSource loads the system configuration from one secret. The
// secret is either a JSON array of credentials or an object
// {"systemCredentials": [...], "dailyFreeLimit": n}.
type CredentialSource struct {
	store SecretStore
	name  string
}

func NewCredentialSource(store SecretStore, name string) *CredentialSource {
	return &CredentialSource{store: store, name: name}
}

func (c *CredentialSource) Load(ctx context.Context) (*domain.SystemConfig, error) {
	raw, err := c.store.GetSecret(ctx, c.name)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseSystemConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("parse secret %s: %w", c.name, err)
	}
	return cfg, nil
}

// ParseSystemConfig decodes either supported secret shape. Blank and
// duplicate credentials are dropped.
func ParseSystemConfig(raw string) (*domain.SystemConfig, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	cfg := &domain.SystemConfig{}
	if len(trimmed) == 0 {
		return cfg, nil
	}

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &cfg.Credentials); err != nil {
			return nil, err
		}
	case '{':
		if err := json.Unmarshal(trimmed, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported secret format")
	}

	cfg.Credentials = dedupe(cfg.Credentials)
	return cfg, nil
}

func dedupe(creds []string) []string {
	seen := make(map[string]struct{}, len(creds))
	out := make([]string, 0, len(creds))
	for _, c := range creds {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
