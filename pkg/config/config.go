package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
)

// Config is the server configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Log       LogConfig       `yaml:"log"`
	API       APIConfig       `yaml:"api"`
}

// ServerConfig tunes the control plane core.
type ServerConfig struct {
	DataDir           string        `yaml:"data_dir"`
	ListenAddr        string        `yaml:"listen_addr"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	DispatchTimeout   time.Duration `yaml:"dispatch_timeout"`
	CancelGrace       time.Duration `yaml:"cancel_grace"`
	LogRetention      time.Duration `yaml:"log_retention"`
	EventRetention    time.Duration `yaml:"event_retention"`
}

// ArtifactsConfig tunes artifact transfer.
type ArtifactsConfig struct {
	ChunkSize int  `yaml:"chunk_size"`
	Compress  bool `yaml:"compress"`
}

// LogConfig tunes process logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// APIConfig tunes the REST listener.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir:    "data",
			ListenAddr: ":7233",
		},
		Log: LogConfig{
			Level: "info",
		},
		API: APIConfig{
			ListenAddr: ":8080",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "config file not found: %s", path)
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidationFailed, "invalid config file", err)
	}
	return cfg, nil
}
