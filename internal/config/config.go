package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Client stores runtime configuration for the polling client.
type Client struct {
	RelayURL          string
	DemoMode          bool
	PollInterval      time.Duration
	StaleThreshold    time.Duration
	RelayTimeout      time.Duration
	HTTPListenAddr    string
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	NotificationToken string
	LogFile           string
	LogLevel          string
	Mailgun           Mailgun
}

// Mailgun is enabled only when domain, key and at least one recipient are set.
type Mailgun struct {
	Domain     string
	APIKey     string
	Sender     string
	Recipients []string
}

func (m Mailgun) Enabled() bool {
	return m.Domain != "" && m.APIKey != "" && len(m.Recipients) > 0
}

// Relay stores runtime configuration for the relay backend.
type Relay struct {
	ListenAddr      string
	FirebaseDBURL   string
	CredentialsFile string
	StatePath       string
	TokensPath      string
	KafkaBrokers    []string
	KafkaTopic      string
	PushTimeout     time.Duration
	LogFile         string
	LogLevel        string
}

// LoadDotEnv loads the given .env files into the environment without
// overriding variables that are already set. Missing files are ignored.
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

// LoadClient reads environment variables and validates client settings.
func LoadClient() (Client, error) {
	relayURL := strings.TrimSpace(os.Getenv("LAMP_RELAY_URL"))
	cfg := Client{
		DemoMode:          relayURL == "",
		PollInterval:      durationFromEnv("LAMP_POLL_INTERVAL", 800*time.Millisecond),
		StaleThreshold:    durationFromEnv("LAMP_STALE_THRESHOLD", 30*time.Second),
		RelayTimeout:      durationFromEnv("LAMP_RELAY_TIMEOUT", 5*time.Second),
		HTTPListenAddr:    stringFromEnv("LAMP_LISTEN_ADDRESS", ":8081"),
		HTTPReadTimeout:   durationFromEnv("LAMP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout:  durationFromEnv("LAMP_WRITE_TIMEOUT", 10*time.Second),
		NotificationToken: stringFromEnv("LAMP_NOTIFICATION_TOKEN", ""),
		LogFile:           stringFromEnv("LAMP_LOG_FILE", ""),
		LogLevel:          stringFromEnv("LAMP_LOG_LEVEL", "info"),
	}

	if cfg.PollInterval <= 0 {
		return Client{}, fmt.Errorf("LAMP_POLL_INTERVAL must be > 0")
	}
	if cfg.StaleThreshold <= 0 {
		return Client{}, fmt.Errorf("LAMP_STALE_THRESHOLD must be > 0")
	}
	if cfg.RelayTimeout <= 0 {
		return Client{}, fmt.Errorf("LAMP_RELAY_TIMEOUT must be > 0")
	}

	mg, err := loadMailgun()
	if err != nil {
		return Client{}, err
	}
	cfg.Mailgun = mg

	if cfg.DemoMode {
		return cfg, nil
	}

	parsedURL, err := url.Parse(relayURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return Client{}, fmt.Errorf("LAMP_RELAY_URL must be a valid absolute URL")
	}
	cfg.RelayURL = strings.TrimRight(parsedURL.String(), "/")

	return cfg, nil
}

// LoadRelay reads environment variables and validates relay settings.
func LoadRelay() (Relay, error) {
	port := stringFromEnv("PORT", "3000")
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return Relay{}, fmt.Errorf("PORT must be a valid TCP port")
	}

	cfg := Relay{
		ListenAddr:      ":" + port,
		FirebaseDBURL:   stringFromEnv("FIREBASE_DB_URL", ""),
		CredentialsFile: stringFromEnv("FIREBASE_CREDENTIALS_FILE", "firebase-admin.json"),
		StatePath:       strings.Trim(stringFromEnv("LAMP_STATE_PATH", "veriler"), "/"),
		TokensPath:      strings.Trim(stringFromEnv("LAMP_TOKENS_PATH", "tokens"), "/"),
		KafkaBrokers:    listFromEnv("LAMP_KAFKA_BROKERS"),
		KafkaTopic:      stringFromEnv("LAMP_KAFKA_TOPIC", "lamp-commands"),
		PushTimeout:     durationFromEnv("LAMP_PUSH_TIMEOUT", 10*time.Second),
		LogFile:         stringFromEnv("LAMP_LOG_FILE", ""),
		LogLevel:        stringFromEnv("LAMP_LOG_LEVEL", "info"),
	}

	if cfg.StatePath == "" || cfg.TokensPath == "" {
		return Relay{}, fmt.Errorf("LAMP_STATE_PATH and LAMP_TOKENS_PATH must not be empty")
	}
	if cfg.StatePath == cfg.TokensPath {
		return Relay{}, fmt.Errorf("LAMP_STATE_PATH and LAMP_TOKENS_PATH must differ")
	}

	if cfg.FirebaseDBURL != "" {
		parsedURL, err := url.Parse(cfg.FirebaseDBURL)
		if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
			return Relay{}, fmt.Errorf("FIREBASE_DB_URL must be a valid absolute URL")
		}
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return Relay{}, fmt.Errorf("failed to read FIREBASE_CREDENTIALS_FILE: %w", err)
		}
	}

	return cfg, nil
}

func loadMailgun() (Mailgun, error) {
	mg := Mailgun{
		Domain:     stringFromEnv("LAMP_MAILGUN_DOMAIN", ""),
		Sender:     stringFromEnv("LAMP_MAILGUN_SENDER", ""),
		Recipients: listFromEnv("LAMP_MAILGUN_RECIPIENTS"),
	}
	if mg.Domain == "" {
		return Mailgun{}, nil
	}

	apiKey, err := secretFromEnv("LAMP_MAILGUN_API_KEY")
	if err != nil {
		return Mailgun{}, err
	}
	mg.APIKey = apiKey

	if len(mg.Recipients) == 0 {
		return Mailgun{}, fmt.Errorf("LAMP_MAILGUN_RECIPIENTS must be set when LAMP_MAILGUN_DOMAIN is set")
	}
	if mg.Sender == "" {
		mg.Sender = "Street Lamp <lamp@" + mg.Domain + ">"
	}
	return mg, nil
}

// secretFromEnv reads name directly or from the file named by name_FILE.
func secretFromEnv(name string) (string, error) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value, nil
	}

	secretPath := strings.TrimSpace(os.Getenv(name + "_FILE"))
	if secretPath == "" {
		return "", fmt.Errorf("either %s or %s_FILE must be set", name, name)
	}

	secretData, err := os.ReadFile(secretPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s_FILE: %w", name, err)
	}

	value := strings.TrimSpace(string(secretData))
	if value == "" {
		return "", fmt.Errorf("%s_FILE is empty", name)
	}

	return value, nil
}

func durationFromEnv(name string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(value)
	if err == nil {
		return parsed
	}

	// Plain integers are seconds ("2" => 2s).
	if seconds, parseErr := strconv.Atoi(value); parseErr == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}

	return fallback
}

func stringFromEnv(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}

	return value
}

func listFromEnv(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
