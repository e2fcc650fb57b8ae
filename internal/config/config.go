package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the full service configuration. Values are read from an
// optional TOML file, then overridden by environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Detection DetectionConfig `toml:"detection"`
	Media     MediaConfig     `toml:"media"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `toml:"addr"`
	MaxUploadBytes  int64         `toml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	Debug           bool          `toml:"debug"`
}

// StorageConfig configures on-disk state.
type StorageConfig struct {
	DataDir   string `toml:"data_dir"`
	UploadDir string `toml:"upload_dir"`
	DBPath    string `toml:"db_path"`
}

// DetectionConfig configures the inference backends and aggregation policy.
type DetectionConfig struct {
	// WeaponEndpoint serves the weapon-specialized model.
	WeaponEndpoint string `toml:"weapon_endpoint"`
	// GenericEndpoint serves the general-purpose COCO model.
	GenericEndpoint string `toml:"generic_endpoint"`
	// ConfidenceFloor drops detections below this confidence.
	ConfidenceFloor float64 `toml:"confidence_floor"`
	// IoUThreshold controls dedup: same-label boxes overlapping above it merge.
	IoUThreshold float64 `toml:"iou_threshold"`
	// RequestTimeout bounds a single inference call.
	RequestTimeout time.Duration `toml:"request_timeout"`
}

// MediaConfig configures video sampling.
type MediaConfig struct {
	// SampleFPS is how many frames per second of video to analyze.
	SampleFPS float64 `toml:"sample_fps"`
	// MaxFrames caps the number of sampled frames per video.
	MaxFrames int `toml:"max_frames"`
	// FFmpegPath locates the ffmpeg binary.
	FFmpegPath string `toml:"ffmpeg_path"`
}

// PipelineConfig configures job execution.
type PipelineConfig struct {
	// Workers bounds concurrent per-frame detector calls within one job.
	Workers int `toml:"workers"`
}

// Default returns the configuration defaults used when no file or
// environment override is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxUploadBytes:  50 * 1024 * 1024,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:   "data",
			UploadDir: "data/uploads",
			DBPath:    "data/history.db",
		},
		Detection: DetectionConfig{
			WeaponEndpoint:  "http://localhost:9090",
			GenericEndpoint: "",
			ConfidenceFloor: 0.45,
			IoUThreshold:    0.45,
			RequestTimeout:  15 * time.Second,
		},
		Media: MediaConfig{
			SampleFPS:  1.0,
			MaxFrames:  60,
			FFmpegPath: "ffmpeg",
		},
		Pipeline: PipelineConfig{
			Workers: 4,
		},
	}
}

// Load reads configuration from path (ignored when empty or missing) and
// applies environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VIGIL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("VIGIL_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
		c.Storage.UploadDir = filepath.Join(v, "uploads")
		c.Storage.DBPath = filepath.Join(v, "history.db")
	}
	if v := os.Getenv("VIGIL_WEAPON_ENDPOINT"); v != "" {
		c.Detection.WeaponEndpoint = v
	}
	if v := os.Getenv("VIGIL_GENERIC_ENDPOINT"); v != "" {
		c.Detection.GenericEndpoint = v
	}
	if v, ok := envFloat("VIGIL_CONF_FLOOR"); ok {
		c.Detection.ConfidenceFloor = v
	}
	if v, ok := envFloat("VIGIL_IOU_THRESHOLD"); ok {
		c.Detection.IoUThreshold = v
	}
	if v, ok := envFloat("VIGIL_SAMPLE_FPS"); ok {
		c.Media.SampleFPS = v
	}
	if v, ok := envInt("VIGIL_MAX_FRAMES"); ok {
		c.Media.MaxFrames = v
	}
	if v, ok := envInt("VIGIL_WORKERS"); ok {
		c.Pipeline.Workers = v
	}
}

func (c *Config) validate() error {
	if c.Detection.ConfidenceFloor < 0 || c.Detection.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor %v out of range [0,1]", c.Detection.ConfidenceFloor)
	}
	if c.Detection.IoUThreshold <= 0 || c.Detection.IoUThreshold > 1 {
		return fmt.Errorf("iou_threshold %v out of range (0,1]", c.Detection.IoUThreshold)
	}
	if c.Media.SampleFPS <= 0 {
		return fmt.Errorf("sample_fps must be positive, got %v", c.Media.SampleFPS)
	}
	if c.Media.MaxFrames <= 0 {
		return fmt.Errorf("max_frames must be positive, got %d", c.Media.MaxFrames)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Pipeline.Workers)
	}
	return nil
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
