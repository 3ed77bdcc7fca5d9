package config

import (
	"context"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

const secretsManagerPrefix = "secretsmanager://"

// ResolveSecrets replaces any `secretsmanager://<secret-id>` DSN with
// the secret's plaintext value, so deployments can keep DATABASE_URL
// and REDIS_URL out of plain environment variables. A no-op when
// cfg.Secrets.Enabled is false or neither DSN uses the scheme.
func ResolveSecrets(ctx context.Context, cfg *Config) error {
	if !cfg.Secrets.Enabled {
		return nil
	}
	if !strings.HasPrefix(cfg.Postgres.DSN, secretsManagerPrefix) &&
		!strings.HasPrefix(cfg.Redis.URL, secretsManagerPrefix) &&
		!strings.HasPrefix(cfg.Redis.CacheURL, secretsManagerPrefix) {
		return nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Secrets.Region))
	if err != nil {
		return err
	}
	client := secretsmanager.NewFromConfig(awsCfg)

	resolved, err := resolveOne(ctx, client, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	cfg.Postgres.DSN = resolved

	if resolved, err = resolveOne(ctx, client, cfg.Redis.URL); err != nil {
		return err
	}
	cfg.Redis.URL = resolved

	if resolved, err = resolveOne(ctx, client, cfg.Redis.CacheURL); err != nil {
		return err
	}
	cfg.Redis.CacheURL = resolved

	return nil
}

func resolveOne(ctx context.Context, client *secretsmanager.Client, value string) (string, error) {
	secretID, ok := strings.CutPrefix(value, secretsManagerPrefix)
	if !ok {
		return value, nil
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretID})
	if err != nil {
		return "", err
	}
	if out.SecretString == nil {
		return "", nil
	}
	return *out.SecretString, nil
}
