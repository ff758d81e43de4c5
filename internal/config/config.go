package config

import (
	"encoding/base64"
	"fmt"
)

type Config struct {
	ServerAddr     string
	ServerName     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	// NatsURL enables the cross-node push bridge when non-empty.
	NatsURL string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, serverName, databaseDSN, base64Secret, natsURL string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if serverName == "" {
		return nil, fmt.Errorf("server name cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		ServerName:     serverName,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		NatsURL:        natsURL,
	}, nil
}
