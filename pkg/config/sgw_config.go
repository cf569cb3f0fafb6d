package config

import "time"

// SgwConfig configures cmd/sgw: the two direction-coded RTP listeners, the
// cloud speech endpoint, the widget pub/sub surface and the optional
// generative-assistant dispatcher.
type SgwConfig struct {
	HTTPPort int `env:"SGW_HTTP_PORT" default:"8092"`

	RTPHostIn  string `env:"SGW_RTP_HOST_IN" default:"0.0.0.0:40000"`
	RTPHostOut string `env:"SGW_RTP_HOST_OUT" default:"0.0.0.0:40002"`

	SpeechURL       string `env:"SGW_SPEECH_URL" default:"wss://speech.example.com/v1/listen"`
	SpeechAuthToken string `env:"SGW_SPEECH_AUTH_TOKEN"`
	SpeechLanguage  string `env:"SGW_SPEECH_LANGUAGE" default:"en-US"`
	InterimResults  bool   `env:"SGW_SPEECH_INTERIM_RESULTS" default:"true"`
	Punctuate       bool   `env:"SGW_SPEECH_PUNCTUATE" default:"true"`
	SmartFormat     bool   `env:"SGW_SPEECH_SMART_FORMAT" default:"true"`
	Diarize         bool   `env:"SGW_SPEECH_DIARIZE" default:"false"`

	ByteSwap bool `env:"SGW_BYTE_SWAP" default:"false"`

	MaxConcurrentSessions int `env:"SGW_MAX_CONCURRENT_SESSIONS" default:"200"`

	// "caller-in" or "agent-in".
	RoleMode string `env:"SGW_ROLE_MODE" default:"caller-in"`

	PendingBindingTTL   time.Duration `env:"SGW_PENDING_BINDING_TTL" default:"4s"`
	BootBufferFrames    int           `env:"SGW_BOOT_BUFFER_FRAMES" default:"50"`
	WatchdogInterval    time.Duration `env:"SGW_WATCHDOG_INTERVAL" default:"2s"`
	InactivityThreshold time.Duration `env:"SGW_INACTIVITY_THRESHOLD" default:"8s"`

	DiagnosticDump bool `env:"SGW_DIAGNOSTIC_DUMP" default:"false"`

	AssistantEnabled        bool          `env:"ASSISTANT_ENABLED" default:"false"`
	AssistantEngineLabel    string        `env:"ASSISTANT_ENGINE_LABEL" default:"assistant"`
	AssistantURL            string        `env:"ASSISTANT_URL"`
	AssistantAuthHeader     string        `env:"ASSISTANT_AUTH_HEADER"`
	AssistantSpeakerName    string        `env:"ASSISTANT_SPEAKER_NAME" default:"Assistant"`
	AssistantInterval       time.Duration `env:"ASSISTANT_INTERVAL" default:"10s"`
	AssistantTailCharCap    int           `env:"ASSISTANT_TAIL_CHAR_CAP" default:"4000"`
	AssistantMinCharsToSend int           `env:"ASSISTANT_MIN_CHARS_TO_SEND" default:"40"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LoadSgwConfig reads SgwConfig from the environment, optionally seeded
// from a .env file.
func LoadSgwConfig() *SgwConfig {
	return &SgwConfig{
		HTTPPort: getEnvInt("SGW_HTTP_PORT", 8092),

		RTPHostIn:  getEnv("SGW_RTP_HOST_IN", "0.0.0.0:40000"),
		RTPHostOut: getEnv("SGW_RTP_HOST_OUT", "0.0.0.0:40002"),

		SpeechURL:       getEnv("SGW_SPEECH_URL", "wss://speech.example.com/v1/listen"),
		SpeechAuthToken: getEnv("SGW_SPEECH_AUTH_TOKEN", ""),
		SpeechLanguage:  getEnv("SGW_SPEECH_LANGUAGE", "en-US"),
		InterimResults:  getEnvBool("SGW_SPEECH_INTERIM_RESULTS", true),
		Punctuate:       getEnvBool("SGW_SPEECH_PUNCTUATE", true),
		SmartFormat:     getEnvBool("SGW_SPEECH_SMART_FORMAT", true),
		Diarize:         getEnvBool("SGW_SPEECH_DIARIZE", false),

		ByteSwap: getEnvBool("SGW_BYTE_SWAP", false),

		MaxConcurrentSessions: getEnvInt("SGW_MAX_CONCURRENT_SESSIONS", 200),

		RoleMode: getEnv("SGW_ROLE_MODE", "caller-in"),

		PendingBindingTTL:   getEnvDuration("SGW_PENDING_BINDING_TTL", 4*time.Second),
		BootBufferFrames:    getEnvInt("SGW_BOOT_BUFFER_FRAMES", 50),
		WatchdogInterval:    getEnvDuration("SGW_WATCHDOG_INTERVAL", 2*time.Second),
		InactivityThreshold: getEnvDuration("SGW_INACTIVITY_THRESHOLD", 8*time.Second),

		DiagnosticDump: getEnvBool("SGW_DIAGNOSTIC_DUMP", false),

		AssistantEnabled:        getEnvBool("ASSISTANT_ENABLED", false),
		AssistantEngineLabel:    getEnv("ASSISTANT_ENGINE_LABEL", "assistant"),
		AssistantURL:            getEnv("ASSISTANT_URL", ""),
		AssistantAuthHeader:     getEnv("ASSISTANT_AUTH_HEADER", ""),
		AssistantSpeakerName:    getEnv("ASSISTANT_SPEAKER_NAME", "Assistant"),
		AssistantInterval:       getEnvDuration("ASSISTANT_INTERVAL", 10*time.Second),
		AssistantTailCharCap:    getEnvInt("ASSISTANT_TAIL_CHAR_CAP", 4000),
		AssistantMinCharsToSend: getEnvInt("ASSISTANT_MIN_CHARS_TO_SEND", 40),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}
