package config

import "testing"

// clearEnv blanks every variable Load reads so host environments cannot
// leak into the assertions. envdecode treats empty as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HOST", "PORT", "READ_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT", "SHUTDOWN_TIMEOUT",
		"UPLOAD_DIR", "MAX_IMAGE_SIZE", "UPLOAD_MAX_AGE", "UPLOAD_SWEEP_SCHEDULE",
		"GUIDE_DIR", "GUIDE_RELOAD_SCHEDULE",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "VISION_MODEL", "VISION_TEMPERATURE", "LLM_TIMEOUT", "LLM_MAX_RETRIES",
		"GROQ_API_KEY", "GROQ_BASE_URL", "TEXT_MODEL",
		"DATABASE_DRIVER", "DATABASE_DSN", "DATABASE_MAX_OPEN_CONNS", "DATABASE_MAX_IDLE_CONNS", "DATABASE_CONN_MAX_LIFETIME",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "ADVICE_CACHE_TTL",
		"ADMIN_JWT_SECRET", "ADMIN_AUDIT_LOG", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT", "LOG_FILE_PREFIX",
		"ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.Server.Addr(); got != "0.0.0.0:8090" {
		t.Errorf("addr = %q, want 0.0.0.0:8090", got)
	}
	if cfg.Uploads.Dir != "./temp-data" {
		t.Errorf("upload dir = %q", cfg.Uploads.Dir)
	}
	if cfg.Uploads.MaxImageSize != 80000 {
		t.Errorf("max image size = %d, want 80000", cfg.Uploads.MaxImageSize)
	}
	if cfg.Guides.Dir != "./data" {
		t.Errorf("guide dir = %q", cfg.Guides.Dir)
	}
	if cfg.Vision.Model != "gpt-4o-2024-08-06" {
		t.Errorf("vision model = %q", cfg.Vision.Model)
	}
	if cfg.Vision.Temperature != 0.5 {
		t.Errorf("vision temperature = %v, want 0.5", cfg.Vision.Temperature)
	}
	if cfg.Vision.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("vision base url = %q", cfg.Vision.BaseURL)
	}
	if cfg.Text.Model != "llama-3.3-70b-versatile" {
		t.Errorf("text model = %q", cfg.Text.Model)
	}
	if cfg.Text.BaseURL != "https://api.groq.com/openai/v1" {
		t.Errorf("text base url = %q", cfg.Text.BaseURL)
	}
	if cfg.Vision.Enabled() || cfg.Text.Enabled() {
		t.Error("model paths should be disabled without API keys")
	}
	if cfg.Database.Enabled() || cfg.Redis.Enabled() || cfg.Auth.Enabled() {
		t.Error("optional subsystems should be disabled by default")
	}
	if got := cfg.Origins(); len(got) != 0 {
		t.Errorf("origins = %v, want none", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9001")
	t.Setenv("MAX_IMAGE_SIZE", "1024")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Uploads.MaxImageSize != 1024 {
		t.Errorf("max image size = %d, want 1024", cfg.Uploads.MaxImageSize)
	}
	if !cfg.Vision.Enabled() {
		t.Error("vision path should be enabled with an API key")
	}

	origins := cfg.Origins()
	if len(origins) != 2 || origins[0] != "http://a.example" || origins[1] != "http://b.example" {
		t.Errorf("origins = %v", origins)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:    ServerConfig{Port: 8090},
			Uploads:   UploadConfig{MaxImageSize: 80000},
			Vision:    VisionConfig{Temperature: 0.5},
			RateLimit: RateLimitConfig{RPS: 10, Burst: 20},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, true},
		{"size zero", func(c *Config) { c.Uploads.MaxImageSize = 0 }, true},
		{"temperature high", func(c *Config) { c.Vision.Temperature = 2.5 }, true},
		{"negative retries", func(c *Config) { c.Vision.MaxRetries = -1 }, true},
		{"rps zero", func(c *Config) { c.RateLimit.RPS = 0 }, true},
		{"dsn without driver", func(c *Config) { c.Database.DSN = "postgres://x"; c.Database.Driver = " " }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
