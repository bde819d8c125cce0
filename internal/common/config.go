package common

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	Quality  QualityConfig
	Cloud    CloudConfig
	Vault    VaultConfig
	Jobs     JobsConfig
	Paths    PathsConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "sqlite" or "postgres"
	DSN              string
	MaxConns         int
	MaxConnLifetime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	TesseractBin  string
	PdftoppmBin   string
	Languages     string
	PageSegMode   int
	DPI           int
	MinConfidence float64
	TessdataDir   string
}

// QualityConfig holds routing thresholds for scanned documents
type QualityConfig struct {
	ConfidenceThreshold float64 // 0-100 scale, local routing cutoff
	BlurThreshold       float64
	ContrastThreshold   float64
}

// CloudConfig holds cloud extraction configuration
type CloudConfig struct {
	Model         string
	MaxTokens     int
	Timeout       time.Duration
	MaxImageEdge  int
	MaxOCRContext int
}

// VaultConfig holds credential vault configuration
type VaultConfig struct {
	KeyRotationAge time.Duration
}

// JobsConfig holds analysis job lifecycle configuration
type JobsConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Workers       int
	QueueSize     int
}

// PathsConfig holds the on-disk layout, all derived from a single data root
type PathsConfig struct {
	DataDir      string
	TempDir      string
	DocumentsDir string
	ConfigDir    string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	dataDir := getEnv("DATA_DIR", "./data")
	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "sqlite"),
			DSN:              getEnv("DB_URL", filepath.Join(dataDir, "invoicator.db")),
			MaxConns:         getEnvAsInt("DB_MAX_CONNS", 10),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		OCR: OCRConfig{
			TesseractBin:  getEnv("TESSERACT_BIN", "tesseract"),
			PdftoppmBin:   getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Languages:     getEnv("OCR_LANGUAGES", "fra+eng"),
			PageSegMode:   getEnvAsInt("OCR_PSM", 6),
			DPI:           getEnvAsInt("OCR_DPI", 300),
			MinConfidence: getEnvAsFloat("OCR_MIN_CONFIDENCE", 30),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
		},
		Quality: QualityConfig{
			ConfidenceThreshold: getEnvAsFloat("QUALITY_CONFIDENCE_THRESHOLD", 80),
			BlurThreshold:       getEnvAsFloat("QUALITY_BLUR_THRESHOLD", 20),
			ContrastThreshold:   getEnvAsFloat("QUALITY_CONTRAST_THRESHOLD", 30),
		},
		Cloud: CloudConfig{
			Model:         getEnv("CLOUD_MODEL", "claude-sonnet-4-20250514"),
			MaxTokens:     getEnvAsInt("CLOUD_MAX_TOKENS", 2048),
			Timeout:       getEnvAsDuration("CLOUD_TIMEOUT", 60*time.Second),
			MaxImageEdge:  getEnvAsInt("CLOUD_MAX_IMAGE_EDGE", 2048),
			MaxOCRContext: getEnvAsInt("CLOUD_MAX_OCR_CONTEXT", 1500),
		},
		Vault: VaultConfig{
			KeyRotationAge: getEnvAsDuration("VAULT_KEY_ROTATION_AGE", 30*24*time.Hour),
		},
		Jobs: JobsConfig{
			TTL:           getEnvAsDuration("JOB_TTL", time.Hour),
			SweepInterval: getEnvAsDuration("JOB_SWEEP_INTERVAL", 10*time.Minute),
			Workers:       getEnvAsInt("JOB_WORKERS", 2),
			QueueSize:     getEnvAsInt("JOB_QUEUE_SIZE", 32),
		},
		Paths: PathsConfig{
			DataDir:      dataDir,
			TempDir:      getEnv("TEMP_DIR", filepath.Join(dataDir, "temp")),
			DocumentsDir: getEnv("DOCUMENTS_DIR", filepath.Join(dataDir, "documents")),
			ConfigDir:    getEnv("CONFIG_DIR", filepath.Join(dataDir, "config")),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be sqlite or postgres", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Jobs.TTL <= 0 {
		return NewAppError("CONFIG_ERROR", "JOB_TTL must be positive", ErrInvalidInput)
	}
	return nil
}

// EnsureDirs creates the data directory layout.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.TempDir, c.Paths.DocumentsDir, c.Paths.ConfigDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return WrapError(err, "creating data directory "+dir)
		}
	}
	return nil
}
