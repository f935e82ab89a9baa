package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	RequestTimeout int      `yaml:"request_timeout_ms"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type SynthConfig struct {
	Mode          string `yaml:"mode"` // mock, exec
	Command       string `yaml:"command"`
	VoicesCommand string `yaml:"voices_command"`
}

type ControllerConfig struct {
	MaxTextLength  int `yaml:"max_text_length"`
	StopWatchdogMS int `yaml:"stop_watchdog_ms"`
	VoicesWaitMS   int `yaml:"voices_wait_ms"`
	DedupCacheSize int `yaml:"dedup_cache_size"`
}

type ObserverConfig struct {
	TabID              int    `yaml:"tab_id"`
	URL                string `yaml:"url"`
	MutationThrottleMS int    `yaml:"mutation_throttle_ms"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Store       StoreConfig      `yaml:"store"`
	Synth       SynthConfig      `yaml:"synth"`
	Controller  ControllerConfig `yaml:"controller"`
	Observer    ObserverConfig   `yaml:"observer"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxbridge",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			RequestTimeout: 5000,
		},
		Store: StoreConfig{
			Path: "./data/voxbridge.db",
		},
		Synth: SynthConfig{
			Mode: "mock",
		},
		Controller: ControllerConfig{
			MaxTextLength:  1000,
			StopWatchdogMS: 1000,
			VoicesWaitMS:   3000,
			DedupCacheSize: 256,
		},
		Observer: ObserverConfig{
			TabID:              1,
			MutationThrottleMS: 500,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOX_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOX_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOX_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOX_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "VOX_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOX_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOX_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOX_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOX_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOX_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOX_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOX_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.RequestTimeout, "VOX_BUS_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "VOX_STORE_PATH")
	overrideString(&cfg.Synth.Mode, "VOX_SYNTH_MODE")
	overrideString(&cfg.Synth.Command, "VOX_SYNTH_COMMAND")
	overrideString(&cfg.Synth.VoicesCommand, "VOX_SYNTH_VOICES_COMMAND")
	overrideInt(&cfg.Controller.MaxTextLength, "VOX_CONTROLLER_MAX_TEXT_LENGTH")
	overrideInt(&cfg.Controller.StopWatchdogMS, "VOX_CONTROLLER_STOP_WATCHDOG_MS")
	overrideInt(&cfg.Controller.VoicesWaitMS, "VOX_CONTROLLER_VOICES_WAIT_MS")
	overrideInt(&cfg.Controller.DedupCacheSize, "VOX_CONTROLLER_DEDUP_CACHE_SIZE")
	overrideInt(&cfg.Observer.TabID, "VOX_OBSERVER_TAB_ID")
	overrideString(&cfg.Observer.URL, "VOX_OBSERVER_URL")
	overrideInt(&cfg.Observer.MutationThrottleMS, "VOX_OBSERVER_MUTATION_THROTTLE_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Synth.Mode {
	case "mock", "exec":
	default:
		return errors.New("synth.mode must be one of mock|exec")
	}
	if cfg.Synth.Mode == "exec" && cfg.Synth.Command == "" {
		return errors.New("synth.command must be set when mode=exec")
	}
	if cfg.Controller.MaxTextLength <= 0 {
		return errors.New("controller.max_text_length must be positive")
	}
	if cfg.Controller.StopWatchdogMS <= 0 {
		return errors.New("controller.stop_watchdog_ms must be positive")
	}
	if cfg.Controller.VoicesWaitMS <= 0 {
		return errors.New("controller.voices_wait_ms must be positive")
	}
	if cfg.Controller.DedupCacheSize <= 0 {
		return errors.New("controller.dedup_cache_size must be positive")
	}
	if cfg.Observer.MutationThrottleMS < 0 {
		return errors.New("observer.mutation_throttle_ms must be >= 0")
	}
	return nil
}
