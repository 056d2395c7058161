package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coaching_payments_echo/internal/apperrors"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "")
	t.Setenv("APP_URL", "https://coach.example.com/")

	cfg := Load()

	assert.Equal(t, 15*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, "https://coach.example.com", cfg.AppURL)
	assert.Equal(t, "https://coach.example.com/payments/result", cfg.PaymentReturnURL)
	assert.Equal(t, "FREQ=MINUTELY;INTERVAL=5", cfg.SweepRRule)
}

func TestLoadParsesDurations(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("PENDING_EXPIRY_WINDOW", "not-a-duration")

	cfg := Load()

	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 30*time.Minute, cfg.PendingExpiryWindow)
}

func TestValidateServer(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantKey string
	}{
		{
			name:    "missing database",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantKey: "DATABASE_URL",
		},
		{
			name:    "no gateway configured",
			mutate:  func(c *Config) { c.Iyzico.APIKey = ""; c.Relay.URL = "" },
			wantKey: "IYZICO_API_KEY/RELAY_URL",
		},
		{
			name:    "direct without secret",
			mutate:  func(c *Config) { c.Iyzico.SecretKey = "" },
			wantKey: "IYZICO_SECRET_KEY",
		},
		{
			name:    "relay default without url",
			mutate:  func(c *Config) { c.DefaultGateway = "relay" },
			wantKey: "DEFAULT_GATEWAY",
		},
		{
			name:    "relay without anon key",
			mutate:  func(c *Config) { c.DefaultGateway = "relay"; c.Relay.URL = "https://relay.example.com" },
			wantKey: "RELAY_ANON_KEY",
		},
		{
			name: "relay default",
			mutate: func(c *Config) {
				c.DefaultGateway = "relay"
				c.Relay.URL = "https://relay.example.com"
				c.Relay.AnonKey = "anon"
			},
		},
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{DatabaseURL: "postgres://x", DefaultGateway: "direct", GatewayTimeout: time.Second}
			cfg.Iyzico.APIKey = "api"
			cfg.Iyzico.SecretKey = "secret"
			tt.mutate(cfg)

			err := cfg.ValidateServer()
			if tt.wantKey == "" {
				require.NoError(t, err)
				return
			}
			var cfgErr *apperrors.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantKey, cfgErr.Key)
		})
	}
}

func TestValidateRelayRequiresServerKey(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://x"}
	var cfgErr *apperrors.ConfigurationError
	require.ErrorAs(t, cfg.ValidateRelay(), &cfgErr)
	assert.Equal(t, "MIDTRANS_SERVER_KEY", cfgErr.Key)
}
