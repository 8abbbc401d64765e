package verssai

import (
	"strings"
	"testing"
	"time"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
server:
  socket_url: wss://api.verssai.com/mcp
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.Server.Role != "analyst" {
		t.Errorf("Role = %q, want analyst", cfg.Server.Role)
	}
	if cfg.ChatHistory.Store != "none" {
		t.Errorf("ChatHistory.Store = %q, want none", cfg.ChatHistory.Store)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Metrics.Port = %d, want 9090", cfg.Metrics.Port)
	}
}

func TestParseConfig_Full(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
server:
  base_url: https://api.verssai.com
  socket_url: wss://api.verssai.com/mcp
  role: founder
realtime:
  queue_limit: 64
  query_timeout: 45s
  backoff_base: 1s
  backoff_cap: 1m
  backoff_jitter: 500ms
  rate_limit: 10
  rate_burst: 5
chat_history:
  store: memory
metrics:
  enabled: true
  port: 9100
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.Server.Role != "founder" {
		t.Errorf("Role = %q", cfg.Server.Role)
	}
	opts, err := cfg.clientOptions()
	if err != nil {
		t.Fatalf("clientOptions: %v", err)
	}
	if opts.QueueLimit != 64 {
		t.Errorf("QueueLimit = %d", opts.QueueLimit)
	}
	if opts.QueryTimeout != 45*time.Second {
		t.Errorf("QueryTimeout = %v", opts.QueryTimeout)
	}
	if opts.Backoff.Base != time.Second || opts.Backoff.Cap != time.Minute {
		t.Errorf("Backoff = %+v", opts.Backoff)
	}
	if opts.RateLimit != 10 || opts.RateBurst != 5 {
		t.Errorf("rate limit = %v burst %d", opts.RateLimit, opts.RateBurst)
	}
	if opts.ChatHistory == nil {
		t.Error("memory chat history not constructed")
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing socket url",
			yaml: "server:\n  base_url: https://api.verssai.com\n",
			want: "socket_url",
		},
		{
			name: "unknown history store",
			yaml: "server:\n  socket_url: wss://x/mcp\nchat_history:\n  store: postgres\n",
			want: "chat_history.store",
		},
		{
			name: "redis store without addr",
			yaml: "server:\n  socket_url: wss://x/mcp\nchat_history:\n  store: redis\n",
			want: "redis.addr",
		},
		{
			name: "not yaml",
			yaml: "{{nope",
			want: "parse config",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.yaml))
			if err == nil {
				t.Fatal("ParseConfig succeeded")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseConfig_BadDuration(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
server:
  socket_url: wss://x/mcp
realtime:
  query_timeout: soon
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if _, err := cfg.clientOptions(); err == nil {
		t.Fatal("clientOptions accepted an unparseable duration")
	}
}
