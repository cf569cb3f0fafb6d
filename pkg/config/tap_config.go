package config

import "time"

// TapConfig configures cmd/tap: the stasis control adapter it wraps, plus
// the HTTP addresses of the two gateways it registers calls with.
type TapConfig struct {
	HTTPPort int `env:"TAP_HTTP_PORT" default:"8090"`

	ARIBaseURL    string `env:"ARI_BASE_URL" default:"http://127.0.0.1:8088"`
	ARIUsername   string `env:"ARI_USERNAME" default:"asterisk"`
	ARIPassword   string `env:"ARI_PASSWORD"`
	ARIApp        string `env:"ARI_APP" default:"tap"`
	ARIPathPrefix string `env:"ARI_PATH_PREFIX"`

	FgwRegisterURL string `env:"FGW_REGISTER_URL" default:"http://127.0.0.1:8091"`
	FgwRTPHost     string `env:"FGW_RTP_HOST" default:"127.0.0.1"`
	FgwRTPPortMin  int    `env:"FGW_RTP_PORT_MIN" default:"30000"`
	FgwRTPPortMax  int    `env:"FGW_RTP_PORT_MAX" default:"30999"`

	SgwRegisterURL string `env:"SGW_REGISTER_URL" default:"http://127.0.0.1:8092"`
	SgwRTPHostIn   string `env:"SGW_RTP_HOST_IN" default:"127.0.0.1:40000"`
	SgwRTPHostOut  string `env:"SGW_RTP_HOST_OUT" default:"127.0.0.1:40002"`

	ExternalMediaFormat        string `env:"EXTERNAL_MEDIA_FORMAT" default:"slin16"`
	ExternalMediaTransport     string `env:"EXTERNAL_MEDIA_TRANSPORT" default:"udp"`
	ExternalMediaEncapsulation string `env:"EXTERNAL_MEDIA_ENCAPSULATION" default:"rtp"`

	BridgeAddRetryAttempts int           `env:"BRIDGE_ADD_RETRY_ATTEMPTS" default:"5"`
	BridgeAddRetryDelay    time.Duration `env:"BRIDGE_ADD_RETRY_DELAY" default:"200ms"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LoadTapConfig reads TapConfig from the environment, optionally seeded
// from a .env file.
func LoadTapConfig() *TapConfig {
	return &TapConfig{
		HTTPPort: getEnvInt("TAP_HTTP_PORT", 8090),

		ARIBaseURL:    getEnv("ARI_BASE_URL", "http://127.0.0.1:8088"),
		ARIUsername:   getEnv("ARI_USERNAME", "asterisk"),
		ARIPassword:   getEnv("ARI_PASSWORD", ""),
		ARIApp:        getEnv("ARI_APP", "tap"),
		ARIPathPrefix: getEnv("ARI_PATH_PREFIX", ""),

		FgwRegisterURL: getEnv("FGW_REGISTER_URL", "http://127.0.0.1:8091"),
		FgwRTPHost:     getEnv("FGW_RTP_HOST", "127.0.0.1"),
		FgwRTPPortMin:  getEnvInt("FGW_RTP_PORT_MIN", 30000),
		FgwRTPPortMax:  getEnvInt("FGW_RTP_PORT_MAX", 30999),

		SgwRegisterURL: getEnv("SGW_REGISTER_URL", "http://127.0.0.1:8092"),
		SgwRTPHostIn:   getEnv("SGW_RTP_HOST_IN", "127.0.0.1:40000"),
		SgwRTPHostOut:  getEnv("SGW_RTP_HOST_OUT", "127.0.0.1:40002"),

		ExternalMediaFormat:        getEnv("EXTERNAL_MEDIA_FORMAT", "slin16"),
		ExternalMediaTransport:     getEnv("EXTERNAL_MEDIA_TRANSPORT", "udp"),
		ExternalMediaEncapsulation: getEnv("EXTERNAL_MEDIA_ENCAPSULATION", "rtp"),

		BridgeAddRetryAttempts: getEnvInt("BRIDGE_ADD_RETRY_ATTEMPTS", 5),
		BridgeAddRetryDelay:    getEnvDuration("BRIDGE_ADD_RETRY_DELAY", 200*time.Millisecond),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}
