package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Environments accepted by app.environment.
var environments = []string{"development", "staging", "production"}

var validate = newValidator()

// newValidator reports fields by their config key ("retrieval.fan_out")
// so struct errors and cross-field errors read the same way.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("env", func(fl validator.FieldLevel) bool {
		return slices.Contains(environments, fl.Field().String())
	})
	_ = v.RegisterValidation("host", func(fl validator.FieldLevel) bool {
		return validListenHost(fl.Field().String())
	})
	return v
}

// ConfigError is one invalid setting.
type ConfigError struct {
	Field   string
	Message string
	Value   any
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors lists every invalid setting found in one pass.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	lines := make([]string, 0, len(e)+1)
	lines = append(lines, "configuration validation failed:")
	for _, ce := range e {
		lines = append(lines, "  - "+ce.Error())
	}
	return strings.Join(lines, "\n")
}

// ValidateWithDetails checks struct tags and cross-field rules and returns
// ValidationErrors when anything is wrong.
func ValidateWithDetails(cfg *Config) error {
	var errs ValidationErrors
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ConfigError{
				Field:   configKey(fe),
				Message: describe(fe),
				Value:   fe.Value(),
			})
		}
	}
	errs = append(errs, checkDependencies(cfg)...)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// configKey drops the root struct name from the namespace.
func configKey(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// checkDependencies covers settings that only matter once another setting
// turns a feature on.
func checkDependencies(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	need := func(field, value, why string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, ConfigError{Field: field, Message: why, Value: value})
		}
	}

	if cfg.Auth.Enabled {
		need("auth.secret", cfg.Auth.Secret, "required when auth is enabled")
	}
	if cfg.Tracing.Enabled {
		need("tracing.endpoint", cfg.Tracing.Endpoint, "required when tracing is enabled")
	}
	switch cfg.Storage.Type {
	case "badger":
		need("storage.badger.path", cfg.Storage.Badger.Path, "required for badger storage")
	case "redis":
		need("storage.redis.address", cfg.Storage.Redis.Address, "required for redis storage")
	}
	if cfg.Ingest.Enabled {
		need("ingest", cfg.Ingest.ChatPath+cfg.Ingest.NotePath, "chat_path or note_path is required when ingest is enabled")
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, ConfigError{
			Field:   "ratelimit.requests_per_second",
			Message: "must be positive when the limiter is enabled",
			Value:   cfg.RateLimit.RequestsPerSecond,
		})
	}
	return errs
}

func describe(fe validator.FieldError) string {
	p := fe.Param()
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min", "gte":
		return "must be at least " + p
	case "max", "lte":
		return "must be at most " + p
	case "gt":
		return "must be greater than " + p
	case "oneof":
		return "must be one of [" + p + "]"
	case "url":
		return "must be a valid URL"
	case "env":
		return "must be one of [" + strings.Join(environments, " ") + "]"
	case "host":
		return "must be a valid host name or address"
	}
	return "failed validation: " + fe.Tag()
}

// validListenHost accepts an empty host, an IP address, a host name or a
// host:port pair.
func validListenHost(host string) bool {
	if host == "" || net.ParseIP(host) != nil {
		return true
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return !strings.ContainsFunc(host, func(r rune) bool { return !isHostRune(r) })
}

func isHostRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-.:_", r)
}
