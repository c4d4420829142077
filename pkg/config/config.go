package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Directory  DirectoryConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Security   SecurityConfig
	Fixture    FixtureConfig
	SourcePath string // path to the YAML source definition
}

type DirectoryConfig struct {
	URL                string // ldap:// or ldaps://
	BindDN             string
	BindPassword       string
	StartTLS           bool
	InsecureSkipVerify bool
	Timeout            int // seconds
}

type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // seconds
}

type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

type SecurityConfig struct {
	PasswordAlgorithm string // argon2id
	Argon2Config      Argon2Config
}

type Argon2Config struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type FixtureConfig struct {
	Port        int
	BindAddress string
	Path        string // YAML file with fixture entries
}

func Load() *Config {
	cfg := &Config{
		Directory: DirectoryConfig{
			URL:                getEnvString("DIRSYNC_DIRECTORY_URL", "ldap://127.0.0.1:3389"),
			BindDN:             getEnvString("DIRSYNC_DIRECTORY_BIND_DN", ""),
			BindPassword:       getEnvString("DIRSYNC_DIRECTORY_BIND_PASSWORD", ""),
			StartTLS:           getEnvBool("DIRSYNC_DIRECTORY_START_TLS", false),
			InsecureSkipVerify: getEnvBool("DIRSYNC_DIRECTORY_INSECURE_SKIP_VERIFY", false),
			Timeout:            getEnvInt("DIRSYNC_DIRECTORY_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Path:            getEnvString("DIRSYNC_DATABASE_PATH", "/data/dirsync.db"),
			MaxOpenConns:    getEnvInt("DIRSYNC_DATABASE_MAX_OPEN_CONNS", 4),
			MaxIdleConns:    getEnvInt("DIRSYNC_DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvInt("DIRSYNC_DATABASE_CONN_MAX_LIFETIME", 300),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("DIRSYNC_LOG_LEVEL", "info"),
			Format: getEnvString("DIRSYNC_LOG_FORMAT", "json"),
		},
		Security: SecurityConfig{
			PasswordAlgorithm: "argon2id",
			Argon2Config: Argon2Config{
				Memory:      uint32(getEnvInt("DIRSYNC_ARGON2_MEMORY", 65536)),
				Iterations:  uint32(getEnvInt("DIRSYNC_ARGON2_ITERATIONS", 3)),
				Parallelism: uint8(getEnvInt("DIRSYNC_ARGON2_PARALLELISM", 2)),
				SaltLength:  uint32(getEnvInt("DIRSYNC_ARGON2_SALT_LENGTH", 16)),
				KeyLength:   uint32(getEnvInt("DIRSYNC_ARGON2_KEY_LENGTH", 32)),
			},
		},
		Fixture: FixtureConfig{
			Port:        getEnvInt("DIRSYNC_FIXTURE_PORT", 3389),
			BindAddress: getEnvString("DIRSYNC_FIXTURE_BIND_ADDRESS", "127.0.0.1"),
			Path:        getEnvString("DIRSYNC_FIXTURE_PATH", "fixture.yaml"),
		},
		SourcePath: getEnvString("DIRSYNC_SOURCE_PATH", "source.yaml"),
	}

	return cfg
}

func (c *Config) Print() {
	slog.Info("Configuration loaded",
		"directory_url", c.Directory.URL,
		"bind_dn", c.Directory.BindDN,
		"start_tls", c.Directory.StartTLS,
		"database_path", c.Database.Path,
		"source_path", c.SourcePath,
		"log_level", c.Logging.Level,
		"log_format", c.Logging.Format,
	)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// JoinDN joins DN fragments, skipping empty ones.
// e.g. JoinDN("ou=users", "dc=example,dc=com") -> "ou=users,dc=example,dc=com"
func JoinDN(parts ...string) string {
	components := []string{}
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), ",")
		if part != "" {
			components = append(components, part)
		}
	}
	return strings.Join(components, ",")
}
