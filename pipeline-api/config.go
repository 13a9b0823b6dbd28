package main

import (
	"fmt"
	"strings"

	"github.com/pipeboard/pipeboard/internal/platform/env"
)

const serviceName = "pipeline-api"

const (
	backendPostgres = "postgres"
	backendMinIO    = "minio"
	backendMemory   = "memory"
)

type serviceConfig struct {
	Store            string
	Objects          string
	LogCreationEvent bool
	ValidateRequests bool
	CORSOrigins      []string
}

func serviceConfigFromEnv() (serviceConfig, error) {
	logCreation, err := env.Bool("PIPEBOARD_LOG_CREATION_EVENT", false)
	if err != nil {
		return serviceConfig{}, err
	}
	validate, err := env.Bool("PIPEBOARD_OPENAPI_VALIDATE", true)
	if err != nil {
		return serviceConfig{}, err
	}
	cfg := serviceConfig{
		Store:            strings.ToLower(strings.TrimSpace(env.String("PIPEBOARD_STORE", backendPostgres))),
		Objects:          strings.ToLower(strings.TrimSpace(env.String("PIPEBOARD_OBJECTS", backendMinIO))),
		LogCreationEvent: logCreation,
		ValidateRequests: validate,
		CORSOrigins:      env.CSV("PIPEBOARD_CORS_ORIGINS", []string{"http://localhost:3000"}),
	}
	if err := cfg.Validate(); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

func (c serviceConfig) Validate() error {
	switch c.Store {
	case backendPostgres, backendMemory:
	default:
		return fmt.Errorf("PIPEBOARD_STORE must be one of: postgres, memory (got %q)", c.Store)
	}
	switch c.Objects {
	case backendMinIO, backendMemory:
	default:
		return fmt.Errorf("PIPEBOARD_OBJECTS must be one of: minio, memory (got %q)", c.Objects)
	}
	return nil
}
