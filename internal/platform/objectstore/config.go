package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pipeboard/pipeboard/internal/platform/env"
)

type Config struct {
	Endpoint          string
	AccessKey         string
	SecretKey         string
	Region            string
	UseSSL            bool
	BucketAttachments string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("PIPEBOARD_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:          env.String("PIPEBOARD_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:         env.String("PIPEBOARD_MINIO_ACCESS_KEY", "pipeboard"),
		SecretKey:         env.String("PIPEBOARD_MINIO_SECRET_KEY", "pipeboardminio"),
		Region:            env.String("PIPEBOARD_MINIO_REGION", "us-east-1"),
		UseSSL:            useSSL,
		BucketAttachments: env.String("PIPEBOARD_MINIO_BUCKET_ATTACHMENTS", "attachments"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketAttachments) == "" {
		return errors.New("attachments bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
