package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Set some test environment variables
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("SCHEDULER_BATCH_DELAY", "5s"); err != nil {
		t.Fatalf("Failed to set SCHEDULER_BATCH_DELAY: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("SCHEDULER_BATCH_DELAY")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Scheduler.BatchDelay != 5*time.Second {
		t.Errorf("Scheduler.BatchDelay = %v, want %v", cfg.Scheduler.BatchDelay, 5*time.Second)
	}

	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("Queue.MaxRetries = %v, want %v", cfg.Queue.MaxRetries, 3)
	}

	if cfg.Scheduler.TickWrap != 360 {
		t.Errorf("Scheduler.TickWrap = %v, want %v", cfg.Scheduler.TickWrap, 360)
	}

	if cfg.Scheduler.HealthPort != "8082" {
		t.Errorf("Scheduler.HealthPort = %v, want %v", cfg.Scheduler.HealthPort, "8082")
	}
}

func TestLoadConfigRejectsSharedHealthPort(t *testing.T) {
	if err := os.Setenv("SCHEDULER_HEALTH_PORT", "8081"); err != nil {
		t.Fatalf("Failed to set SCHEDULER_HEALTH_PORT: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SCHEDULER_HEALTH_PORT")
	}()

	if _, err := LoadConfig(); err == nil {
		t.Errorf("LoadConfig() expected error when scheduler and worker share a port")
	}
}

func TestLoadConfigRejectsConfirmTimeoutOutOfRange(t *testing.T) {
	if err := os.Setenv("TX_CONFIRM_TIMEOUT", "10s"); err != nil {
		t.Fatalf("Failed to set TX_CONFIRM_TIMEOUT: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("TX_CONFIRM_TIMEOUT")
	}()

	if _, err := LoadConfig(); err == nil {
		t.Errorf("LoadConfig() expected error for 10s confirm timeout")
	}
}

func TestLoadConfigRejectsUnknownStrategy(t *testing.T) {
	if err := os.Setenv("WALLET_STRATEGY", "heaviest"); err != nil {
		t.Fatalf("Failed to set WALLET_STRATEGY: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("WALLET_STRATEGY")
	}()

	if _, err := LoadConfig(); err == nil {
		t.Errorf("LoadConfig() expected error for unknown strategy")
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{name: "parses true", envValue: "true", defaultValue: false, want: true},
		{name: "parses 0", envValue: "0", defaultValue: true, want: false},
		{name: "falls back on garbage", envValue: "maybe", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.Setenv("TEST_BOOL", tt.envValue); err != nil {
				t.Fatalf("Failed to set env var: %v", err)
			}
			defer func() {
				_ = os.Unsetenv("TEST_BOOL")
			}()

			if got := getEnvAsBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsBool() = %v, want %v", got, tt.want)
			}
		})
	}
}
