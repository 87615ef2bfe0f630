package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	NodeID                int64
	SessionMaxAgeHours    int
	TicketPurgeDelayMS    int
	SaleTimeoutSeconds    int
	ReconcileDBPath       string // empty opens the journal's default file
	PrinterAddr           string
	ShareRatePerSecond    float64
	ShareBurst            int
}

var defaults = map[string]any{
	"PORT":                     "8080",
	"ALLOWED_ORIGIN":           "http://127.0.0.1:3000",
	"DATABASE_URL":             "",
	"REDIS_ADDR":               "",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 "0",
	"AUTH_SECRET":              "",
	"ACCESS_TOKEN_TTL_MINUTES": "480",
	"MANAGER_PIN":              "",
	"NODE_ID":                  "1",
	"SESSION_MAX_AGE_HOURS":    "24",
	"TICKET_PURGE_DELAY_MS":    "500",
	"SALE_TIMEOUT_SECONDS":     "15",
	"RECONCILE_DB_PATH":        "",
	"PRINTER_ADDR":             "",
	"SHARE_RATE_PER_SECOND":    "2",
	"SHARE_BURST":              "4",
}

// Load reads the process environment. Numbers that do not parse, or are out
// of range, fall back to their defaults.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               intInRange(v, "REDIS_DB", 0, 15),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: intInRange(v, "ACCESS_TOKEN_TTL_MINUTES", 1, 0),
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		NodeID:                int64(intInRange(v, "NODE_ID", 0, 1023)),
		SessionMaxAgeHours:    intInRange(v, "SESSION_MAX_AGE_HOURS", 1, 0),
		TicketPurgeDelayMS:    intInRange(v, "TICKET_PURGE_DELAY_MS", 1, 60000),
		SaleTimeoutSeconds:    intInRange(v, "SALE_TIMEOUT_SECONDS", 1, 300),
		ReconcileDBPath:       strings.TrimSpace(v.GetString("RECONCILE_DB_PATH")),
		PrinterAddr:           strings.TrimSpace(v.GetString("PRINTER_ADDR")),
		ShareRatePerSecond:    positiveFloat(v, "SHARE_RATE_PER_SECOND"),
		ShareBurst:            intInRange(v, "SHARE_BURST", 1, 100),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) SessionMaxAge() time.Duration {
	return time.Duration(c.SessionMaxAgeHours) * time.Hour
}

func (c Config) TicketPurgeDelay() time.Duration {
	return time.Duration(c.TicketPurgeDelayMS) * time.Millisecond
}

func (c Config) SaleTimeout() time.Duration {
	return time.Duration(c.SaleTimeoutSeconds) * time.Second
}

// intInRange parses key as an int within [min, max]; max 0 means unbounded.
func intInRange(v *viper.Viper, key string, min int, max int) int {
	fallback, _ := strconv.Atoi(defaults[key].(string))
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil || n < min || (max > 0 && n > max) {
		return fallback
	}
	return n
}

func positiveFloat(v *viper.Viper, key string) float64 {
	fallback, _ := strconv.ParseFloat(defaults[key].(string), 64)
	f, err := strconv.ParseFloat(strings.TrimSpace(v.GetString(key)), 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}
