package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveAdminSecret fills AdminReembedSecret from AWS Secrets Manager when
// only ADMIN_REEMBED_SECRET_ID is set. A literal secret always wins.
func (c *Config) ResolveAdminSecret(ctx context.Context) error {
	if c.AdminReembedSecret != "" || c.AdminReembedSecretID == "" {
		return nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.AWSRegion))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	return c.resolveAdminSecret(ctx, secretsmanager.NewFromConfig(awsCfg))
}

func (c *Config) resolveAdminSecret(ctx context.Context, client secretsAPI) error {
	if c.AdminReembedSecret != "" || c.AdminReembedSecretID == "" {
		return nil
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(c.AdminReembedSecretID),
	})
	if err != nil {
		return fmt.Errorf("failed to read secret %s: %w", c.AdminReembedSecretID, err)
	}

	secret := strings.TrimSpace(aws.ToString(out.SecretString))
	if secret == "" {
		return fmt.Errorf("secret %s has no string value", c.AdminReembedSecretID)
	}
	c.AdminReembedSecret = secret
	return nil
}
