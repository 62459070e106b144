package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr       string `yaml:"addr"`
		AdminToken string `yaml:"admin_token"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Gateway struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"gateway"`
	Provider struct {
		BaseURL string `yaml:"base_url"`
		Cookies string `yaml:"cookies"`
		Token   string `yaml:"token"`
		Device  string `yaml:"device"`
	} `yaml:"provider"`
	Wallet struct {
		Mnemonic string `yaml:"mnemonic"`
		Version  string `yaml:"version"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"wallet"`
	Chain struct {
		BaseURL       string   `yaml:"base_url"`
		BaseURLs      []string `yaml:"base_urls"`
		APIKey        string   `yaml:"api_key"`
		FailThreshold int      `yaml:"fail_threshold"`
	} `yaml:"chain"`
	Notify struct {
		BotToken string `yaml:"bot_token"`
	} `yaml:"notify"`
	Orders struct {
		Rate       int64   `yaml:"rate"`
		Fee        int64   `yaml:"fee"`
		Packs      []int64 `yaml:"packs"`
		Premium3M  int64   `yaml:"premium_3m"`
		Premium6M  int64   `yaml:"premium_6m"`
		Premium12M int64   `yaml:"premium_12m"`
		RandMin    int64   `yaml:"rand_min"`
		RandMax    int64   `yaml:"rand_max"`
		TTLMinutes int     `yaml:"ttl_minutes"`
		PayCard    string  `yaml:"pay_card"`
		PayName    string  `yaml:"pay_name"`
	} `yaml:"orders"`
	Worker struct {
		IntervalSeconds int64 `yaml:"interval_seconds"`
		ExpireBatch     int   `yaml:"expire_batch"`
		VerifyBatch     int   `yaml:"verify_batch"`
		DeliverBatch    int   `yaml:"deliver_batch"`
	} `yaml:"worker"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	return &cfg, nil
}

// ChainEndpoints merges the single- and multi-endpoint chain settings.
func (c *Config) ChainEndpoints() []string {
	if len(c.Chain.BaseURLs) > 0 {
		return c.Chain.BaseURLs
	}
	if c.Chain.BaseURL != "" {
		return []string{c.Chain.BaseURL}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Wallet.Version == "" {
		cfg.Wallet.Version = "v4r2"
	}
	if cfg.Wallet.Prefix == "" {
		cfg.Wallet.Prefix = "gr"
	}
	if cfg.Orders.Rate == 0 {
		cfg.Orders.Rate = 195
	}
	if len(cfg.Orders.Packs) == 0 {
		cfg.Orders.Packs = []int64{50, 100, 500, 1000}
	}
	if cfg.Orders.RandMin == 0 && cfg.Orders.RandMax == 0 {
		cfg.Orders.RandMin = 1
		cfg.Orders.RandMax = 99
	}
	if cfg.Orders.TTLMinutes == 0 {
		cfg.Orders.TTLMinutes = 30
	}
	if cfg.Worker.IntervalSeconds == 0 {
		cfg.Worker.IntervalSeconds = 10
	}
	if cfg.Worker.ExpireBatch == 0 {
		cfg.Worker.ExpireBatch = 200
	}
	if cfg.Worker.VerifyBatch == 0 {
		cfg.Worker.VerifyBatch = 50
	}
	if cfg.Worker.DeliverBatch == 0 {
		cfg.Worker.DeliverBatch = 25
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("PROVIDER_COOKIES"); v != "" {
		cfg.Provider.Cookies = v
	}
	if v := os.Getenv("PROVIDER_TOKEN"); v != "" {
		cfg.Provider.Token = v
	}
	if v := os.Getenv("WALLET_MNEMONIC"); v != "" {
		cfg.Wallet.Mnemonic = v
	}
	if v := os.Getenv("WALLET_VERSION"); v != "" {
		cfg.Wallet.Version = v
	}
	if v := os.Getenv("CHAIN_BASE_URL"); v != "" {
		cfg.Chain.BaseURL = v
	}
	if v := os.Getenv("CHAIN_BASE_URLS"); v != "" {
		cfg.Chain.BaseURLs = strings.Split(v, ",")
	}
	if v := os.Getenv("CHAIN_API_KEY"); v != "" {
		cfg.Chain.APIKey = v
	}
	if v := os.Getenv("NOTIFY_BOT_TOKEN"); v != "" {
		cfg.Notify.BotToken = v
	}
	if v := os.Getenv("ORDER_RATE"); v != "" {
		cfg.Orders.Rate = atoi64Or(cfg.Orders.Rate, v)
	}
	if v := os.Getenv("ORDER_FEE"); v != "" {
		cfg.Orders.Fee = atoi64Or(cfg.Orders.Fee, v)
	}
	if v := os.Getenv("ORDER_PACKS"); v != "" {
		if packs := splitIntList(v); len(packs) > 0 {
			cfg.Orders.Packs = packs
		}
	}
	if v := os.Getenv("RAND_MIN"); v != "" {
		cfg.Orders.RandMin = atoi64Or(cfg.Orders.RandMin, v)
	}
	if v := os.Getenv("RAND_MAX"); v != "" {
		cfg.Orders.RandMax = atoi64Or(cfg.Orders.RandMax, v)
	}
	if v := os.Getenv("ORDER_TTL_MINUTES"); v != "" {
		cfg.Orders.TTLMinutes = atoiOr(cfg.Orders.TTLMinutes, v)
	}
	if v := os.Getenv("PAY_CARD"); v != "" {
		cfg.Orders.PayCard = v
	}
	if v := os.Getenv("PAY_NAME"); v != "" {
		cfg.Orders.PayName = v
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
}

func splitIntList(v string) []int64 {
	parts := strings.Split(v, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, n)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
