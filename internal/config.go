package internal

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/hbomb79/Vidra/internal/api"
	"github.com/hbomb79/Vidra/internal/database"
	"github.com/hbomb79/Vidra/internal/ffmpeg"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

const vidraUserDirSuffix = "vidra"

type (
	// VidraConfig is the top-level user configuration, supplied by YAML
	// file and/or environment.
	VidraConfig struct {
		Upstream   UpstreamConfig          `yaml:"upstream" env-required:"true"`
		Database   database.DatabaseConfig `yaml:"database" env-required:"true"`
		Rest       api.RestConfig          `yaml:"api"`
		Format     ffmpeg.Config           `yaml:"formatter"`
		Recognizer RecognizerConfig        `yaml:"recognizer" env-required:"true"`
		Retriever  RetrieverConfig         `yaml:"retriever"`
		Cache      CacheConfig             `yaml:"cache"`

		MediaDirPath string `yaml:"media_dir" env:"MEDIA_DIR"`
		AudioDirPath string `yaml:"audio_dir" env:"AUDIO_DIR"`
	}

	UpstreamConfig struct {
		MsToken string `yaml:"ms_token" env:"MS_TOKEN" env-required:"true"`
	}

	RecognizerConfig struct {
		BaseURL string `yaml:"base_url" env:"RECOGNIZER_BASE_URL" env-required:"true"`
		ApiKey  string `yaml:"api_key" env:"RECOGNIZER_API_KEY" env-required:"true"`
	}

	RetrieverConfig struct {
		YtDlpBinaryPath string `yaml:"ytdlp_binary" env:"YTDLP_BINARY_PATH" env-default:"/usr/bin/yt-dlp"`
	}

	// CacheConfig groups the retention and housekeeping windows.
	CacheConfig struct {
		RecordTTL         time.Duration `yaml:"record_ttl" env:"CACHE_RECORD_TTL" env-default:"168h"`
		AudioRetention    time.Duration `yaml:"audio_retention" env:"CACHE_AUDIO_RETENTION" env-default:"24h"`
		SweepInterval     time.Duration `yaml:"sweep_interval" env:"CACHE_SWEEP_INTERVAL" env-default:"1h"`
		AlbumCleanupDelay time.Duration `yaml:"album_cleanup_delay" env:"ALBUM_CLEANUP_DELAY" env-default:"10m"`
	}
)

// LoadFromFile loads a YAML configuration file in to a VidraConfig,
// applying environment overrides per the struct tags.
func (config *VidraConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration: %s", err.Error())
	}

	return nil
}

// LoadFromEnv populates a VidraConfig from the environment alone, for
// deployments with no config file on disk.
func (config *VidraConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %s", err.Error())
	}

	return nil
}

// getMediaDir returns the directory used for storing primary media
// files, deriving a home-relative default when no value is configured.
func (config *VidraConfig) getMediaDir() string {
	if config.MediaDirPath != "" {
		return config.MediaDirPath
	}

	dir, err := homedir.Dir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user home dir: %s", err))
	}

	return filepath.Join(dir, vidraUserDirSuffix, "media")
}

// getAudioDir returns the directory used for storing secondary audio
// files, deriving a home-relative default when no value is configured.
func (config *VidraConfig) getAudioDir() string {
	if config.AudioDirPath != "" {
		return config.AudioDirPath
	}

	dir, err := homedir.Dir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user home dir: %s", err))
	}

	return filepath.Join(dir, vidraUserDirSuffix, "audio")
}
