package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"schoolbus-tracker/internal/logging"
)

// BusAssignment puts a bus on one of the known routes.
type BusAssignment struct {
	BusID   string
	RouteID string
}

type Config struct {
	// Simulation
	TickInterval    time.Duration
	StepMeters      float64
	SpeedMps        float64
	SpeedMultiplier float64
	Dwell           time.Duration
	ReturnTrip      bool
	Buses           []BusAssignment

	// Upstream REST API and local session store
	APIBaseURL string
	StorePath  string
	SessionTTL time.Duration

	AlertPollInterval time.Duration

	// Serving
	HTTPAddr        string
	MetricsAddr     string
	RateLimitPerSec int
	CORSOrigins     []string

	// Optional backends; empty disables them.
	DatabaseURL       string
	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	LogLevel slog.Level
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	if cfg.TickInterval, err = envMillis("TICK_INTERVAL_MS", time.Second); err != nil {
		return nil, err
	}
	if cfg.StepMeters, err = envPositiveFloat("STEP_METERS", 20); err != nil {
		return nil, err
	}
	if cfg.SpeedMps, err = envPositiveFloat("SPEED_MPS", 8.33); err != nil {
		return nil, err
	}
	if cfg.SpeedMultiplier, err = envPositiveFloat("SPEED_MULTIPLIER", 1); err != nil {
		return nil, err
	}
	if cfg.Dwell, err = envSeconds("DWELL_SEC", 0, true); err != nil {
		return nil, err
	}
	cfg.ReturnTrip = envBool("RETURN_TRIP")
	if cfg.Buses, err = ParseBuses(getenvDefault("BUSES", "bus-1:trajet-1,bus-2:trajet-2")); err != nil {
		return nil, err
	}

	cfg.APIBaseURL = strings.TrimRight(getenvDefault("API_BASE_URL", "http://localhost:5000"), "/")
	if u, err := url.Parse(cfg.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid API_BASE_URL: %q", cfg.APIBaseURL)
	}
	cfg.StorePath = getenvDefault("STORE_PATH", "tracker.db")
	if cfg.SessionTTL, err = envSeconds("SESSION_TTL_SEC", time.Hour, false); err != nil {
		return nil, err
	}
	if cfg.AlertPollInterval, err = envSeconds("ALERT_POLL_INTERVAL_SEC", 30*time.Second, false); err != nil {
		return nil, err
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	if v := os.Getenv("RATE_LIMIT_PER_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_SEC: %q", v)
		}
		cfg.RateLimitPerSec = n
	} else {
		cfg.RateLimitPerSec = 20
	}
	cfg.CORSOrigins = splitList(os.Getenv("CORS_ORIGINS"))

	cfg.DatabaseURL = databaseURL()
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "schoolbus")
	cfg.LogNATSSubjects = envBool("LOG_NATS_SUBJECTS")

	if cfg.LogLevel, err = logging.ParseLevel(getenvDefault("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from the PG*
// variables when PGDATABASE is set.
func databaseURL() string {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn
	}
	name := os.Getenv("PGDATABASE")
	if name == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     getenvDefault("PGHOST", "127.0.0.1") + ":" + getenvDefault("PGPORT", "5432"),
		Path:     "/" + name,
		RawQuery: "sslmode=" + url.QueryEscape(getenvDefault("PGSSLMODE", "disable")),
	}
	user := getenvDefault("PGUSER", "postgres")
	if pass := os.Getenv("PGPASSWORD"); pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// ParseBuses reads "bus-1:trajet-1,bus-2:trajet-2".
func ParseBuses(s string) ([]BusAssignment, error) {
	var out []BusAssignment
	seen := map[string]bool{}
	for _, item := range splitList(s) {
		busID, routeID, ok := strings.Cut(item, ":")
		busID, routeID = strings.TrimSpace(busID), strings.TrimSpace(routeID)
		if !ok || busID == "" || routeID == "" {
			return nil, fmt.Errorf("invalid BUSES entry %q: want bus:route", item)
		}
		if seen[busID] {
			return nil, fmt.Errorf("invalid BUSES: bus %q listed twice", busID)
		}
		seen[busID] = true
		out = append(out, BusAssignment{BusID: busID, RouteID: routeID})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invalid BUSES: no bus configured")
	}
	return out, nil
}

func envMillis(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func envSeconds(k string, def time.Duration, allowZero bool) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 || (sec == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func envPositiveFloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func envBool(k string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
