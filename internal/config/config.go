// Package config holds the proxy's runtime configuration: endpoint
// constants, timing constants, and the mutable per-process Config
// record (scheduling mode, mapping tables, auth mode, zai settings).
// Setters edit fields in place under the write lock; no new Config
// value is built. Handlers read through Snapshot, a copy of the
// mutable fields taken under the read lock, so a Snapshot already
// taken does not see later field changes (its maps are shared with the
// Config, not copied).
package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Upstream endpoints.
const (
	AntigravityEndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	AntigravityEndpointProd  = "https://cloudcode-pa.googleapis.com"
	OAuthTokenURL            = "https://oauth2.googleapis.com/token"
	OAuthUserInfoURL         = "https://www.googleapis.com/oauth2/v2/userinfo"
	DefaultZaiBaseURL        = "https://api.z.ai/api/anthropic"
)

// AntigravityEndpointFallbacks is the v1internal call fallback order (daily, then prod).
var AntigravityEndpointFallbacks = []string{AntigravityEndpointDaily, AntigravityEndpointProd}

// LoadCodeAssistEndpoints is the loadCodeAssist fallback order (prod first).
var LoadCodeAssistEndpoints = []string{AntigravityEndpointProd, AntigravityEndpointDaily}

const DefaultProjectID = "rising-fact-p41fc"

// UserAgent is the literal client identity sent on every v1internal call.
const UserAgent = "antigravity/1.11.9 windows/amd64"

const (
	MinSignatureLength       = 50
	GeminiSignatureCacheTTLMs = 2 * 60 * 60 * 1000
	GeminiMaxOutputTokens     = 16384
	GeminiSkipSignature       = "skip"

	TokenStaleWindowSeconds = 300
	DefaultMaxWaitSeconds   = 60 // spec 5: "bounded by max_wait_seconds (default 60)"
	DefaultListenPort       = 8045
	AudioMaxBytes           = 15 * 1024 * 1024
	RequestBodyLimit        = 50 * 1024 * 1024
)

// Upstream retry/backoff tuning, grounded on the teacher's
// StreamingHandler retry loop (internal/cloudcode/streaming_handler.go).
const (
	MaxUpstreamRetries      = 5
	MaxEmptyResponseRetries = 2
	MaxCapacityRetries      = 5
	DefaultCooldownMs       = 10 * 1000
	SwitchAccountDelayMs    = 5000
	MaxWaitBeforeErrorMs    = 120000
)

// CapacityBackoffTiersMs is the progressive backoff ladder applied when
// a model reports capacity exhaustion rather than a per-account quota.
var CapacityBackoffTiersMs = []int64{5000, 10000, 20000, 30000, 60000}

// AntigravitySystemInstruction is a plain system line worded so the
// model does not identify itself as the bundled desktop client. No
// request builder in this module adds it to upstream requests.
const AntigravitySystemInstruction = `You are a general-purpose AI assistant. Follow the user's instructions carefully and use the available tools when they help complete the task.`

// AntigravityHeaders are the headers every v1internal call carries,
// identifying this relay as a Cloud Code IDE plugin client.
func AntigravityHeaders() map[string]string {
	return map[string]string{
		"User-Agent":        UserAgent,
		"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":   `{"ideType":7,"platform":2,"pluginType":2}`,
	}
}

// ModelFamily is a coarse model grouping used to scope rate-limit state
// and signature compatibility.
type ModelFamily string

const (
	FamilyClaude  ModelFamily = "claude"
	FamilyGemini  ModelFamily = "gemini"
	FamilyUnknown ModelFamily = "unknown"
)

// GetModelFamily returns the model family for a model id by substring match.
func GetModelFamily(modelName string) ModelFamily {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "claude"):
		return FamilyClaude
	case strings.Contains(lower, "gemini"):
		return FamilyGemini
	default:
		return FamilyUnknown
	}
}

var geminiVersionRe = regexp.MustCompile(`gemini-(\d+)`)

// IsThinkingModel reports whether a model id supports thinking output.
func IsThinkingModel(modelName string) bool {
	lower := strings.ToLower(modelName)
	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}
	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		if m := geminiVersionRe.FindStringSubmatch(lower); len(m) >= 2 {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 3 {
				return true
			}
		}
	}
	return false
}

// ModelFallbackMap pairs a model with a fallback model. Nothing in this
// module reads it: a call that exhausts its retries is not re-sent to
// another model.
var ModelFallbackMap = map[string]string{
	"claude-opus-4-5":          "claude-sonnet-4-5",
	"claude-opus-4-1":          "claude-sonnet-4-5",
	"gemini-3-pro-preview":     "gemini-2.5-pro",
	"gemini-2.5-pro":           "gemini-2.5-flash",
}

// BuiltinModelMap is the fall-through routing table for the model
// router's third tier (spec 4.7): Claude ids normalize to canonical
// Claude ids, common GPT ids map to Gemini equivalents, Gemini ids and
// any "*-thinking" suffix pass through unchanged.
var BuiltinModelMap = map[string]string{
	"claude-3-5-sonnet-20241022": "claude-sonnet-4-5",
	"claude-3-5-sonnet-latest":   "claude-sonnet-4-5",
	"claude-3-opus-20240229":     "claude-opus-4-5",
	"gpt-4o":                     "gemini-2.5-pro",
	"gpt-4o-mini":                "gemini-2.5-flash",
	"gpt-4.1":                    "gemini-2.5-pro",
	"gpt-4.1-mini":               "gemini-2.5-flash",
}

// DispatchMode is the scheduler policy governing account selection.
type DispatchMode string

const (
	CacheFirst       DispatchMode = "CacheFirst"
	Balance          DispatchMode = "Balance"
	PerformanceFirst DispatchMode = "PerformanceFirst"
)

const DefaultDispatchMode = Balance

// AuthMode is the per-mode bearer/x-api-key gate (C10).
type AuthMode string

const (
	AuthOff             AuthMode = "off"
	AuthStrict          AuthMode = "strict"
	AuthAllExceptHealth AuthMode = "all_except_health"
	AuthAuto            AuthMode = "auto"
)

// ZaiConfig configures the alternative Anthropic-compatible z.ai provider.
type ZaiConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	BaseURL      string            `mapstructure:"base_url"`
	APIKey       string            `mapstructure:"api_key"`
	ModelMapping map[string]string `mapstructure:"model_mapping"`
	Opus         string            `mapstructure:"opus_model"`
	Sonnet       string            `mapstructure:"sonnet_model"`
	Haiku        string            `mapstructure:"haiku_model"`
}

// Config is the shared, read-mostly application state (spec section 3,
// AppState). All mutable fields are guarded by mu; readers take RLock,
// writers replace the relevant fields under Lock and never hold the
// lock across network or disk I/O.
type Config struct {
	mu sync.RWMutex

	ListenAddr     string
	ListenPort     int
	AllowLAN       bool
	APIKey         string
	AuthMode       AuthMode
	DispatchMode   DispatchMode
	MaxWaitSeconds int

	CustomModelMapping   map[string]string
	OpenAIModelMapping   map[string]string
	AnthropicModelMapping map[string]string

	Zai ZaiConfig

	RequestTimeoutSeconds int
	UpstreamProxyURL      string

	MonitorEnabled bool
	Debug          bool
}

// Default returns a Config populated with the spec's documented defaults.
func Default() *Config {
	return &Config{
		ListenAddr:            "127.0.0.1",
		ListenPort:            DefaultListenPort,
		AllowLAN:              false,
		AuthMode:              AuthAuto,
		DispatchMode:          DefaultDispatchMode,
		MaxWaitSeconds:        DefaultMaxWaitSeconds,
		CustomModelMapping:    map[string]string{},
		OpenAIModelMapping:    map[string]string{},
		AnthropicModelMapping: map[string]string{},
		Zai: ZaiConfig{
			BaseURL: DefaultZaiBaseURL,
			Opus:    "claude-opus-4-5",
			Sonnet:  "claude-sonnet-4-5",
			Haiku:   "claude-haiku-4-5",
		},
		RequestTimeoutSeconds: 600,
		MonitorEnabled:        false,
	}
}

// LoadFromFile reads a YAML config via viper if the path exists; a
// missing file is not an error, mirroring the teacher's
// file-optional-plus-env-var loading idiom.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return applyEnv(cfg), nil
	}
	if _, err := os.Stat(path); err != nil {
		return applyEnv(cfg), nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if v.IsSet("listen_addr") {
		cfg.ListenAddr = v.GetString("listen_addr")
	}
	if v.IsSet("listen_port") {
		cfg.ListenPort = v.GetInt("listen_port")
	}
	if v.IsSet("allow_lan_access") {
		cfg.AllowLAN = v.GetBool("allow_lan_access")
	}
	if v.IsSet("api_key") {
		cfg.APIKey = v.GetString("api_key")
	}
	if v.IsSet("auth_mode") {
		cfg.AuthMode = AuthMode(v.GetString("auth_mode"))
	}
	if v.IsSet("dispatch_mode") {
		cfg.DispatchMode = DispatchMode(v.GetString("dispatch_mode"))
	}
	if v.IsSet("max_wait_seconds") {
		cfg.MaxWaitSeconds = v.GetInt("max_wait_seconds")
	}
	if v.IsSet("zai") {
		_ = v.UnmarshalKey("zai", &cfg.Zai)
	}
	if v.IsSet("custom_model_mapping") {
		cfg.CustomModelMapping = v.GetStringMapString("custom_model_mapping")
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg *Config) *Config {
	if key := os.Getenv("PROXY_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if os.Getenv("DEBUG") != "" {
		cfg.Debug = true
	}
	return cfg
}

// Snapshot is a read-only, RLock-scoped copy of the mutable fields
// handlers need on the hot path.
type Snapshot struct {
	AuthMode              AuthMode
	APIKey                string
	DispatchMode          DispatchMode
	MaxWaitSeconds         int
	CustomModelMapping    map[string]string
	OpenAIModelMapping    map[string]string
	AnthropicModelMapping map[string]string
	Zai                   ZaiConfig
	MonitorEnabled        bool
}

func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		AuthMode:              c.AuthMode,
		APIKey:                c.APIKey,
		DispatchMode:          c.DispatchMode,
		MaxWaitSeconds:        c.MaxWaitSeconds,
		CustomModelMapping:    c.CustomModelMapping,
		OpenAIModelMapping:    c.OpenAIModelMapping,
		AnthropicModelMapping: c.AnthropicModelMapping,
		Zai:                   c.Zai,
		MonitorEnabled:        c.MonitorEnabled,
	}
}

// SetDispatchMode mutates the scheduling mode via the admin endpoint.
func (c *Config) SetDispatchMode(mode DispatchMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DispatchMode = mode
}

// SetMonitorEnabled flips the monitor's enabled flag.
func (c *Config) SetMonitorEnabled(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MonitorEnabled = on
}

// ResolvedAuthMode resolves AuthAuto to all_except_health when LAN is
// exposed, off otherwise, per spec 4.10.
func (c *Config) ResolvedAuthMode() AuthMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.AuthMode != AuthAuto {
		return c.AuthMode
	}
	if c.AllowLAN {
		return AuthAllExceptHealth
	}
	return AuthOff
}
