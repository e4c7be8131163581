package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ARBWATCH_"

// LoadDotEnv loads .env style files into the process environment without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnvOverrides lets deployments override the YAML without editing it.
// Credentials can be supplied as ARBWATCH_CREDENTIALS_<EXCHANGE>_KEY/_SECRET/_PASSPHRASE.
func applyEnvOverrides(cfg *AppConfig, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	var env string
	str("ENVIRONMENT", &env)
	if env != "" {
		cfg.Environment = Environment(env)
	}
	str("TRANSPORT_URL", &cfg.Transport.BaseURL)
	str("COLLABORATOR_URL", &cfg.Collaborators.BaseURL)
	str("API_ADDR", &cfg.APIServer.Addr)
	str("DATABASE_DSN", &cfg.Database.DSN)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	str("ACTIVE_SCOPE", &cfg.ActiveScope)
	if err := dur("ORDER_POLL_INTERVAL", &cfg.Polling.OrderInterval); err != nil {
		return err
	}
	if err := dur("POSITION_POLL_INTERVAL", &cfg.Polling.PositionInterval); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "METRICS_ENABLED"); ok && strings.TrimSpace(v) != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Telemetry.EnableMetrics = enabled
	}

	for i := range cfg.Credentials {
		exchange := strings.ToUpper(strings.TrimSpace(cfg.Credentials[i].Exchange))
		if exchange == "" {
			continue
		}
		base := "CREDENTIALS_" + exchange + "_"
		str(base+"KEY", &cfg.Credentials[i].APIKey)
		str(base+"SECRET", &cfg.Credentials[i].APISecret)
		str(base+"PASSPHRASE", &cfg.Credentials[i].Passphrase)
	}
	return nil
}
