package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/account-api/pkg/config"
)

func TestDSNPrefersURL(t *testing.T) {
	cfg := config.DatabaseConfig{URL: "postgres://u:p@db:5432/app?sslmode=disable", Host: "ignored"}
	assert.Equal(t, cfg.URL, DSN(cfg))
}

func TestDSNFromParts(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "secret", Name: "account_api", SSLMode: "disable"}
	assert.Equal(t, "host=localhost port=5432 user=postgres password=secret dbname=account_api sslmode=disable", DSN(cfg))
}
