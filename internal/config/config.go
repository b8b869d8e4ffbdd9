package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
		// PublicURL is this deployment's origin. Background transfers only
		// cache payloads fetched from this origin; cross-origin sources are
		// downloaded but not retained for offline replay. Empty disables the
		// restriction.
		PublicURL string
	}
	Database struct {
		Path string
	}
	Cache struct {
		// Backend selects the binary cache: "local" (disk) or "s3".
		Backend string
		Dir     string
		// MaxBytes is the per-device offline budget before eviction.
		MaxBytes int64
		// HeadroomPercent refuses new downloads when free disk space drops
		// below this percentage of MaxBytes.
		HeadroomPercent int
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret string
	}
	Download struct {
		// StaleTTL bounds how long an orphaned downloading entry survives
		// before startup reconciliation marks it failed.
		StaleTTL time.Duration
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("CINEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.publicurl", "")
	v.SetDefault("database.path", "data/cinehub.db")
	v.SetDefault("cache.backend", "local")
	v.SetDefault("cache.dir", "data/offline-cache")
	v.SetDefault("cache.maxbytes", int64(1<<30))
	v.SetDefault("cache.headroompercent", 20)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "offline-cache")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("download.stalettl", "24h")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
