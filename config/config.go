package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/azebets/walletsync/internal/domain"
)

// TokenEnv names the environment variable holding the bearer token.
const TokenEnv = "WALLETSYNC_TOKEN"

const (
	defaultDeductionTimeout     = 20 * time.Second
	defaultResyncInterval       = 16 * time.Minute
	defaultRequestTimeout       = 10 * time.Second
	defaultAckTimeout           = 5 * time.Second
	defaultCommandRetries       = 5
	defaultCommandRetryInterval = 500 * time.Millisecond
	defaultFiat                 = "USD"
	defaultWebAddr              = ":8080"
	defaultLogLevel             = "info"
)

type Config struct {
	ServerURL string
	SocketURL string
	UserID    string
	Token     string

	PrimaryCurrency   string
	DisplayCurrencies []string
	TrackedCurrencies []string
	Currencies        []domain.CurrencyConfig

	DeductionTimeout     time.Duration
	ResyncInterval       time.Duration
	RequestTimeout       time.Duration
	AckTimeout           time.Duration
	CommandRetries       int
	CommandRetryInterval time.Duration

	LocaleCurrency       string
	EnableLocaleCurrency bool
	PreferredFiat        string

	WebAddr    string
	TLSDomain  string
	JournalDir string
	StateDir   string
	LogLevel   string
	Games      []string
}

// ConfigTmp is the on-disk shape. Decimals stay strings until parsed.
type ConfigTmp struct {
	ServerURL            string        `yaml:"server_url"`
	SocketURL            string        `yaml:"socket_url,omitempty"`
	UserID               string        `yaml:"user_id,omitempty"`
	PrimaryCurrency      string        `yaml:"primary_currency,omitempty"`
	DisplayCurrencies    []string      `yaml:"display_currencies,omitempty"`
	TrackedCurrencies    []string      `yaml:"tracked_currencies,omitempty"`
	Currencies           []CurrencyTmp `yaml:"currencies,omitempty"`
	DeductionTimeout     time.Duration `yaml:"deduction_timeout,omitempty"`
	ResyncInterval       time.Duration `yaml:"resync_interval,omitempty"`
	RequestTimeout       time.Duration `yaml:"request_timeout,omitempty"`
	AckTimeout           time.Duration `yaml:"ack_timeout,omitempty"`
	CommandRetries       *int          `yaml:"command_retries,omitempty"`
	CommandRetryInterval time.Duration `yaml:"command_retry_interval,omitempty"`
	LocaleCurrency       string        `yaml:"locale_currency,omitempty"`
	EnableLocaleCurrency *bool         `yaml:"enable_locale_currency,omitempty"`
	PreferredFiat        string        `yaml:"preferred_fiat,omitempty"`
	WebAddr              string        `yaml:"web_addr,omitempty"`
	TLSDomain            string        `yaml:"tls_domain,omitempty"`
	JournalDir           string        `yaml:"journal_dir,omitempty"`
	StateDir             string        `yaml:"state_dir,omitempty"`
	LogLevel             string        `yaml:"log_level,omitempty"`
	Games                []string      `yaml:"games,omitempty"`
}

// CurrencyTmp is a per-currency preset as written in yaml.
type CurrencyTmp struct {
	Name       string `yaml:"name"`
	Image      string `yaml:"image,omitempty"`
	Alias      string `yaml:"alias,omitempty"`
	FullName   string `yaml:"full_name,omitempty"`
	USDPrice   string `yaml:"usd_price,omitempty"`
	Precision  int    `yaml:"precision,omitempty"`
	UnitAmount string `yaml:"unit_amount,omitempty"`
	MinAmount  string `yaml:"min_amount,omitempty"`
	MaxAmount  string `yaml:"max_amount,omitempty"`
	Disabled   bool   `yaml:"disabled,omitempty"`
}

// Get reads the process flags. With --config the yaml file is used,
// otherwise every setting comes from the command line.
func Get() (Config, error) {
	return Parse(flag.CommandLine, os.Args[1:])
}

// Parse is Get over an explicit flag set.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	path := fs.String("config", "", "path to yaml config")
	server := fs.String("server", "", "platform REST base url, example: https://api.example.com")
	socket := fs.String("socket", "", "realtime websocket url, example: wss://api.example.com/ws")
	user := fs.String("user", "", "user id used to filter realtime events")
	primary := fs.String("primary", "USDT", "primary currency")
	games := fs.String("games", "", "comma separated game names, example: hilo,mines")
	web := fs.String("web", defaultWebAddr, "http listen address")
	journal := fs.String("journal", "", "wallet event journal directory")
	state := fs.String("state", "", "wallet state directory")
	level := fs.String("loglevel", defaultLogLevel, "log level: debug, info, warn, error")
	resync := fs.Duration("resyncinterval", defaultResyncInterval, "periodic balance resync interval")
	deduction := fs.Duration("deductiontimeout", defaultDeductionTimeout, "optimistic deduction lifetime")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *path != "" {
		return getYaml(*path)
	}

	tmp := ConfigTmp{
		ServerURL:        *server,
		SocketURL:        *socket,
		UserID:           *user,
		PrimaryCurrency:  *primary,
		Games:            splitList(*games),
		WebAddr:          *web,
		JournalDir:       *journal,
		StateDir:         *state,
		LogLevel:         *level,
		ResyncInterval:   *resync,
		DeductionTimeout: *deduction,
	}
	return fromTmp(tmp)
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, fmt.Errorf("incorrect yaml config %s, error: %w", path, err)
	}
	return fromTmp(tmp)
}

func fromTmp(c ConfigTmp) (Config, error) {
	if c.ServerURL == "" {
		return Config{}, fmt.Errorf("'server_url' param is required")
	}

	conf := Config{
		ServerURL:            strings.TrimRight(c.ServerURL, "/"),
		SocketURL:            c.SocketURL,
		UserID:               c.UserID,
		Token:                os.Getenv(TokenEnv),
		PrimaryCurrency:      c.PrimaryCurrency,
		DisplayCurrencies:    c.DisplayCurrencies,
		TrackedCurrencies:    c.TrackedCurrencies,
		DeductionTimeout:     c.DeductionTimeout,
		ResyncInterval:       c.ResyncInterval,
		RequestTimeout:       c.RequestTimeout,
		AckTimeout:           c.AckTimeout,
		CommandRetries:       defaultCommandRetries,
		CommandRetryInterval: c.CommandRetryInterval,
		LocaleCurrency:       strings.ToUpper(c.LocaleCurrency),
		EnableLocaleCurrency: true,
		PreferredFiat:        strings.ToUpper(c.PreferredFiat),
		WebAddr:              c.WebAddr,
		TLSDomain:            c.TLSDomain,
		JournalDir:           c.JournalDir,
		StateDir:             c.StateDir,
		LogLevel:             c.LogLevel,
		Games:                c.Games,
	}

	if conf.PrimaryCurrency == "" {
		conf.PrimaryCurrency = "USDT"
	}
	if len(conf.DisplayCurrencies) == 0 {
		conf.DisplayCurrencies = []string{"USDT", "Fun"}
	}
	if len(conf.DisplayCurrencies) > 2 {
		return Config{}, fmt.Errorf("incorrect 'display_currencies' param in yaml config (at most primary and secondary), got %d", len(conf.DisplayCurrencies))
	}
	if len(conf.TrackedCurrencies) == 0 {
		conf.TrackedCurrencies = []string{"Fun", "USDT"}
	}
	if conf.DeductionTimeout == 0 {
		conf.DeductionTimeout = defaultDeductionTimeout
	}
	if conf.ResyncInterval == 0 {
		conf.ResyncInterval = defaultResyncInterval
	}
	if conf.RequestTimeout == 0 {
		conf.RequestTimeout = defaultRequestTimeout
	}
	if conf.AckTimeout == 0 {
		conf.AckTimeout = defaultAckTimeout
	}
	if conf.CommandRetryInterval == 0 {
		conf.CommandRetryInterval = defaultCommandRetryInterval
	}
	if c.CommandRetries != nil {
		if *c.CommandRetries < 0 {
			return Config{}, fmt.Errorf("incorrect 'command_retries' param in yaml config (must not be negative), got %d", *c.CommandRetries)
		}
		conf.CommandRetries = *c.CommandRetries
	}
	if c.EnableLocaleCurrency != nil {
		conf.EnableLocaleCurrency = *c.EnableLocaleCurrency
	}
	if conf.LocaleCurrency == "" {
		conf.LocaleCurrency = defaultFiat
	}
	if conf.PreferredFiat == "" {
		conf.PreferredFiat = defaultFiat
	}
	if conf.WebAddr == "" {
		conf.WebAddr = defaultWebAddr
	}
	if conf.LogLevel == "" {
		conf.LogLevel = defaultLogLevel
	}

	currencies, err := parseCurrencies(c.Currencies)
	if err != nil {
		return Config{}, err
	}
	conf.Currencies = mergePresets(domain.DefaultCurrencies(), currencies)

	return conf, nil
}

func parseCurrencies(raw []CurrencyTmp) ([]domain.CurrencyConfig, error) {
	out := make([]domain.CurrencyConfig, 0, len(raw))
	for _, c := range raw {
		if c.Name == "" {
			return nil, fmt.Errorf("currency preset without 'name' in yaml config")
		}
		cfg := domain.CurrencyConfig{
			Name:      c.Name,
			Image:     c.Image,
			Alias:     c.Alias,
			FullName:  c.FullName,
			Precision: c.Precision,
			Disabled:  c.Disabled,
		}

		var err error
		if c.USDPrice != "" {
			if cfg.USDPrice, err = decimal.NewFromString(c.USDPrice); err != nil {
				return nil, fmt.Errorf("incorrect 'usd_price' param for %s in yaml config (must be a decimal), error: %w", c.Name, err)
			}
			cfg.PriceSet = true
		}
		if cfg.UnitAmount, err = parseOptional(c.UnitAmount); err != nil {
			return nil, fmt.Errorf("incorrect 'unit_amount' param for %s in yaml config (must be a decimal), error: %w", c.Name, err)
		}
		if cfg.MinAmount, err = parseOptional(c.MinAmount); err != nil {
			return nil, fmt.Errorf("incorrect 'min_amount' param for %s in yaml config (must be a decimal), error: %w", c.Name, err)
		}
		if cfg.MaxAmount, err = parseOptional(c.MaxAmount); err != nil {
			return nil, fmt.Errorf("incorrect 'max_amount' param for %s in yaml config (must be a decimal), error: %w", c.Name, err)
		}
		if !cfg.MaxAmount.IsZero() && cfg.MinAmount.GreaterThan(cfg.MaxAmount) {
			return nil, fmt.Errorf("'min_amount' exceeds 'max_amount' for %s in yaml config", c.Name)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func parseOptional(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// mergePresets lets configured presets replace built-in ones of the same name.
func mergePresets(builtin, configured []domain.CurrencyConfig) []domain.CurrencyConfig {
	out := make([]domain.CurrencyConfig, 0, len(builtin)+len(configured))
	seen := make(map[string]bool, len(configured))
	for _, c := range configured {
		seen[c.Name] = true
	}
	for _, c := range builtin {
		if !seen[c.Name] {
			out = append(out, c)
		}
	}
	return append(out, configured...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
