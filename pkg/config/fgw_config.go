package config

import "time"

// FgwConfig configures cmd/fgw: the RTP port range it hands out, the
// downstream TCP peer it frames audio to, and the watchdog timings.
type FgwConfig struct {
	HTTPPort int `env:"FGW_HTTP_PORT" default:"8091"`

	RTPHost    string `env:"FGW_RTP_HOST" default:"0.0.0.0"`
	RTPPortMin int    `env:"FGW_RTP_PORT_MIN" default:"30000"`
	RTPPortMax int    `env:"FGW_RTP_PORT_MAX" default:"30999"`

	DownstreamHost string `env:"FGW_DOWNSTREAM_HOST" default:"127.0.0.1"`
	DownstreamPort int    `env:"FGW_DOWNSTREAM_PORT" default:"9000"`

	WatchdogInterval    time.Duration `env:"FGW_WATCHDOG_INTERVAL" default:"2s"`
	InactivityThreshold time.Duration `env:"FGW_INACTIVITY_THRESHOLD" default:"8s"`

	DiagnosticWAVDump     bool   `env:"FGW_DIAGNOSTIC_WAV_DUMP" default:"false"`
	DiagnosticWAVDir      string `env:"FGW_DIAGNOSTIC_WAV_DIR" default:"/tmp/fgw-wav"`
	DiagnosticWAVMaxBytes int    `env:"FGW_DIAGNOSTIC_WAV_MAX_BYTES" default:"160000"` // ~5s @ 16kHz mono 16-bit

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LoadFgwConfig reads FgwConfig from the environment, optionally seeded
// from a .env file.
func LoadFgwConfig() *FgwConfig {
	return &FgwConfig{
		HTTPPort: getEnvInt("FGW_HTTP_PORT", 8091),

		RTPHost:    getEnv("FGW_RTP_HOST", "0.0.0.0"),
		RTPPortMin: getEnvInt("FGW_RTP_PORT_MIN", 30000),
		RTPPortMax: getEnvInt("FGW_RTP_PORT_MAX", 30999),

		DownstreamHost: getEnv("FGW_DOWNSTREAM_HOST", "127.0.0.1"),
		DownstreamPort: getEnvInt("FGW_DOWNSTREAM_PORT", 9000),

		WatchdogInterval:    getEnvDuration("FGW_WATCHDOG_INTERVAL", 2*time.Second),
		InactivityThreshold: getEnvDuration("FGW_INACTIVITY_THRESHOLD", 8*time.Second),

		DiagnosticWAVDump:     getEnvBool("FGW_DIAGNOSTIC_WAV_DUMP", false),
		DiagnosticWAVDir:      getEnv("FGW_DIAGNOSTIC_WAV_DIR", "/tmp/fgw-wav"),
		DiagnosticWAVMaxBytes: getEnvInt("FGW_DIAGNOSTIC_WAV_MAX_BYTES", 160000),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}
