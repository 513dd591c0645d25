package commands

import (
	"errors"
	"log/slog"
	"os"
	"tradereg/lib/browser"
	"tradereg/lib/captcha"
	"tradereg/lib/configutil"
	"tradereg/lib/ocr"
	"tradereg/lib/platforms/tradeportal"
	"tradereg/lib/recordstore"
	"tradereg/lib/serviceutil"
	"tradereg/services/fetcher"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
)

type CaptchaConfig struct {
	MinLength int `json:"min_length"`
	MaxLength int `json:"max_length"`
}

type ArchiveConfig struct {
	Dir string `json:"dir"`
	// SkipStamp leaves the PDF document properties untouched.
	SkipStamp bool `json:"skip_stamp"`
}

type BatchConfig struct {
	Subjects []string `json:"subjects"`
}

type Config struct {
	Database recordstore.Config   `json:"database"`
	Chrome   browser.ChromeConfig `json:"chrome"`
	Ocr      ocr.Config           `json:"ocr"`
	Captcha  CaptchaConfig        `json:"captcha"`
	Portal   tradeportal.Options  `json:"portal"`
	Pacing   fetcher.PacingConfig `json:"pacing"`
	Archive  ArchiveConfig        `json:"archive"`
	Batch    BatchConfig          `json:"batch"`
}

var defaultConfig = Config{
	Database: recordstore.Config{
		Dialect:  recordstore.DIALECT_POSTGRES,
		Host:     "postgres",
		Port:     5432,
		Database: "company_data",
		User:     "postgres",
	},
	Chrome: browser.DefaultChromeConfig,
	Ocr: ocr.Config{
		Endpoint:       "http://localhost:9898/ocr",
		TimeoutSeconds: 10,
	},
	Captcha: CaptchaConfig{
		MinLength: captcha.DefaultMinLength,
		MaxLength: captcha.DefaultMaxLength,
	},
	Portal:  tradeportal.DefaultOptions,
	Pacing:  fetcher.DefaultPacing,
	Archive: ArchiveConfig{Dir: "downloads"},
	Batch: BatchConfig{
		Subjects: []string{
			"22178368",
			"22099131",
			"84149961",
			"22555003",
			"04351626",
			"11768704",
			"71620635",
			"03707901",
			"73008303",
		},
	},
}

// applyEnv overrides the store and display settings from the environment.
func applyEnv(cfg *Config) {
	serviceutil.EnvOverride(&cfg.Database.Host, "POSTGRES_HOST")
	serviceutil.EnvOverrideInt(&cfg.Database.Port, "POSTGRES_PORT")
	serviceutil.EnvOverride(&cfg.Database.Database, "POSTGRES_DB")
	serviceutil.EnvOverride(&cfg.Database.User, "POSTGRES_USER")
	serviceutil.EnvOverride(&cfg.Database.Password, "POSTGRES_PASSWORD")
	serviceutil.EnvOverride(&cfg.Chrome.Display, "DISPLAY")
}

// LoadConfig reads the config file found walking up from the working
// directory, fills what it leaves out with defaults, then applies the
// environment. A missing file is not an error.
func LoadConfig(name string) (Config, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	cfg, err := configutil.ReadRecursively[Config](name)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("config file not found, using defaults", "name", name)
	} else if err != nil {
		return Config{}, err
	}

	// the portal timings are not configurable
	cfg.Portal.Timing = tradeportal.DefaultTiming
	err = mergo.Merge(&cfg, defaultConfig)
	if err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	return cfg, nil
}
