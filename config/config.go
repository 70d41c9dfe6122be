package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

const (
	defaultPort            = 8080
	defaultMaxBodySize     = 50 * 1024 * 1024
	defaultRegistryTimeout = 30 * time.Second
	defaultListingMaxTags  = 100
)

// Config is the process configuration, sourced from environment variables.
type Config struct {
	// Port the HTTP server binds, on all interfaces.
	Port uint `mapstructure:"port" validate:"required,max=65535"`

	// Path is the URL sub-path the service is mounted under. Empty means
	// root; a trailing slash is tolerated.
	Path string `mapstructure:"path"`

	// MaxBodySize caps the request body, uploads beyond it get a 413.
	MaxBodySize int64 `mapstructure:"max_body_size" validate:"required,min=1"`

	// RegistryTimeout bounds each individual upstream registry call.
	RegistryTimeout time.Duration `mapstructure:"registry_timeout" validate:"required"`

	// ListingMaxTags caps how many version tags a single listing resolves.
	ListingMaxTags int `mapstructure:"listing_max_tags" validate:"required,min=1"`

	LogFormat string `mapstructure:"log_format" validate:"oneof=pretty json"`
	LogLevel  string `mapstructure:"log_level"`
}

// ReadEnvConfig loads the configuration from the environment: PORT plus the
// PYOCI_* variables.
func ReadEnvConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("port", defaultPort)
	v.SetDefault("max_body_size", defaultMaxBodySize)
	v.SetDefault("registry_timeout", defaultRegistryTimeout)
	v.SetDefault("listing_max_tags", defaultListingMaxTags)
	v.SetDefault("log_format", "json")
	v.SetDefault("log_level", "info")

	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("path", "PYOCI_PATH")
	_ = v.BindEnv("max_body_size", "PYOCI_MAX_BODY_SIZE")
	_ = v.BindEnv("registry_timeout", "PYOCI_REGISTRY_TIMEOUT")
	_ = v.BindEnv("listing_max_tags", "PYOCI_LISTING_MAX_TAGS")
	_ = v.BindEnv("log_format", "PYOCI_LOG_FORMAT")
	_ = v.BindEnv("log_level", "PYOCI_LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Path = NormalizePrefix(cfg.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NormalizePrefix canonicalizes a mount path: "", "/", "foo", "/foo" and
// "/foo/" all reduce to either "" or "/foo".
func NormalizePrefix(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	return "/" + path
}

// Address is the listen address, IPv6 any-host so both stacks are served.
func (c *Config) Address() string {
	return fmt.Sprintf("[::]:%d", c.Port)
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("invalid config, cannot be nil")
	}
	v := validator.New()

	english := en.New()
	uni := ut.New(english, english)
	trans, ok := uni.GetTranslator("en")
	if !ok {
		return fmt.Errorf("translation not available for the given language")
	}
	if err := enTranslations.RegisterDefaultTranslations(v, trans); err != nil {
		return err
	}

	var e error
	e = multierror.Append(e, translateError(v.Struct(c), trans))

	merr := e.(*multierror.Error)
	if merr.ErrorOrNil() != nil {
		return merr
	}

	return nil
}

func translateError(err error, trans ut.Translator) error {
	if err != nil {
		var translatedErr error
		validatorErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		for _, e := range validatorErrs {
			translatedErr = multierror.Append(translatedErr, fmt.Errorf("%s", e.Translate(trans)))
		}

		return translatedErr
	}

	return nil
}
