package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lox/permitcast/internal/sdmx"
)

const (
	openAIKeyEnv = "OPENAI_API_KEY"
	sourceURLEnv = "PERMITCAST_SOURCE_URL"
)

// Config holds the settings shared by every command.
type Config struct {
	Dataset    string           `yaml:"dataset" validate:"required"`
	Source     SourceConfig     `yaml:"source"`
	Output     OutputConfig     `yaml:"output"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Narrative  NarrativeConfig  `yaml:"narrative"`
	Server     ServerConfig     `yaml:"server"`
}

// SourceConfig locates the SDMX document. URL wins over the query parts.
type SourceConfig struct {
	URL             string            `yaml:"url" validate:"omitempty,url"`
	BaseURL         string            `yaml:"baseUrl" validate:"required_without=URL,omitempty,url"`
	Flow            string            `yaml:"flow" validate:"required_without=URL"`
	Key             string            `yaml:"key"`
	StartPeriod     string            `yaml:"startPeriod" validate:"omitempty,period"`
	EndPeriod       string            `yaml:"endPeriod" validate:"omitempty,period"`
	Filter          map[string]string `yaml:"filter" validate:"dive,keys,required,endkeys,required"`
	RefreshInterval time.Duration     `yaml:"refreshInterval" validate:"gte=0"`
}

// Location returns the document location to fetch.
func (s SourceConfig) Location() string {
	if s.URL != "" {
		return s.URL
	}
	return sdmx.Query{
		BaseURL:     s.BaseURL,
		Flow:        s.Flow,
		Key:         s.Key,
		StartPeriod: s.StartPeriod,
		EndPeriod:   s.EndPeriod,
	}.URL()
}

type OutputConfig struct {
	CSV  string `yaml:"csv"`
	XLSX string `yaml:"xlsx"`
}

// EvaluationConfig names the actuals and forecast files to compare.
type EvaluationConfig struct {
	Horizon        int               `yaml:"horizon" validate:"gte=0"`
	Actuals        string            `yaml:"actuals"`
	Forecasts      map[string]string `yaml:"forecasts" validate:"dive,keys,required,endkeys,required"`
	ForecastColumn string            `yaml:"forecastColumn"`
}

type NarrativeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model" validate:"required_if=Enabled true"`
	APIKey  string `yaml:"-"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

var periodPattern = regexp.MustCompile(`^\d{4}(-(0[1-9]|1[0-2])(-(0[1-9]|[12]\d|3[01]))?|-?[Qq][1-4])?$`)

func Default() Config {
	return Config{
		Dataset: "permits",
		Source: SourceConfig{
			BaseURL:     "https://esploradati.istat.it/SDMXWS/rest/data",
			Flow:        "IT1,111_111_DF_DCSC_PERM_RAP1_1,1.0",
			StartPeriod: "2023-09-01",
			EndPeriod:   "2024-12-31",
			Filter: map[string]string{
				"DATA_TYPE":  "NUMDW",
				"ADJUSTMENT": "N",
			},
			RefreshInterval: 24 * time.Hour,
		},
		Output: OutputConfig{
			CSV: "monthly_demand_features_from_istat.csv",
		},
		Evaluation: EvaluationConfig{
			Horizon:        12,
			ForecastColumn: "Forecasted_Dwellings",
		},
		Narrative: NarrativeConfig{
			Model: "gpt-4o-mini",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load applies the YAML file at path (if any) over the defaults, then
// environment overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping fields the document does not set.
// A filter given in the document replaces the default one entirely.
func Parse(raw []byte, cfg *Config) error {
	var probe struct {
		Source struct {
			Filter map[string]string `yaml:"filter"`
		} `yaml:"source"`
	}
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if probe.Source.Filter != nil {
		cfg.Source.Filter = nil
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(openAIKeyEnv); v != "" {
		c.Narrative.APIKey = v
	}
	if v := os.Getenv(sourceURLEnv); v != "" {
		c.Source.URL = v
	}
}

// Filter returns the series filter to extract with.
func (c Config) Filter() sdmx.Filter {
	if len(c.Source.Filter) == 0 {
		return sdmx.DefaultFilter
	}
	return sdmx.Filter(c.Source.Filter)
}

// Validate checks field constraints and reports every failure at once.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("period", isPeriod); err != nil {
		return err
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func isPeriod(fl validator.FieldLevel) bool {
	return periodPattern.MatchString(fl.Field().String())
}
