package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SecretPrefix marks a value that must be read from AWS SSM Parameter Store.
const SecretPrefix = "ssm:"

// ParameterReader fetches one parameter value.
type ParameterReader func(ctx context.Context, name string, decrypt bool) (string, error)

// ResolveSecret returns value unchanged unless it starts with "ssm:", in which
// case the named parameter is fetched with decryption.
func ResolveSecret(ctx context.Context, value string, read ParameterReader) (string, error) {
	name, ok := strings.CutPrefix(value, SecretPrefix)
	if !ok {
		return value, nil
	}
	if read == nil {
		read = ReadParameter
	}
	secret, err := read(ctx, name, true)
	if err != nil {
		return "", fmt.Errorf("resolve secret %q: %w", name, err)
	}
	return secret, nil
}

// ResolveSecrets resolves the "ssm:" values of every enabled section in
// place.
func (cfg *Config) ResolveSecrets(ctx context.Context, read ParameterReader) error {
	var fields []*string
	if cfg.Telegram.Enabled {
		fields = append(fields, &cfg.Telegram.Token, &cfg.Telegram.ChatID)
	}
	if cfg.Redis.Enabled {
		fields = append(fields, &cfg.Redis.Password)
	}
	if cfg.Postgres.Enabled {
		fields = append(fields, &cfg.Postgres.Password)
	}
	for _, f := range fields {
		v, err := ResolveSecret(ctx, *f, read)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}

// ReadParameter reads a parameter from AWS SSM using the default credential
// chain.
func ReadParameter(ctx context.Context, parameterName string, decrypt bool) (string, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctxWithTimeout)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}

	client := ssm.NewFromConfig(cfg)

	input := &ssm.GetParameterInput{
		Name:           &parameterName,
		WithDecryption: &decrypt,
	}

	result, err := client.GetParameter(ctxWithTimeout, input)
	if err != nil {
		return "", err
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %q has no value", parameterName)
	}

	return *result.Parameter.Value, nil
}
