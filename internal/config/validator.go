package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/vyrodovalexey/avatls/internal/observability"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a configuration.
func ValidateConfig(config *Config) error {
	v := NewValidator()
	return v.Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *Config) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateListener(&config.Listener)
	v.validateTLS(config)
	v.validateLogging(&config.Logging)
	v.validateMetrics(&config.Metrics)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateListener(l *ListenerConfig) {
	if l.Address == "" {
		v.addError("listener.address", "is required")
	} else if _, port, err := net.SplitHostPort(l.Address); err != nil {
		v.addError("listener.address", fmt.Sprintf("invalid host:port %q: %v", l.Address, err))
	} else if port == "" {
		v.addError("listener.address", "port is required")
	}

	if l.HandshakeTimeout < 0 {
		v.addError("listener.handshakeTimeout", "must not be negative")
	}
	if l.ReadTimeout < 0 {
		v.addError("listener.readTimeout", "must not be negative")
	}
	if l.AcceptRate < 0 {
		v.addError("listener.acceptRate", "must not be negative")
	}
	if l.AcceptBurst < 0 {
		v.addError("listener.acceptBurst", "must not be negative")
	}
	if l.MaxConnections < 0 {
		v.addError("listener.maxConnections", "must not be negative")
	}
}

func (v *Validator) validateTLS(config *Config) {
	if err := config.TLS.Validate(); err != nil {
		v.addError("tls", err.Error())
	}
}

func (v *Validator) validateLogging(l *LoggingConfig) {
	if l.Level != "" {
		if err := observability.ValidateLevel(l.Level); err != nil {
			v.addError("logging.level", fmt.Sprintf("invalid level %q", l.Level))
		}
	}

	switch l.Format {
	case "", "json", "console":
	default:
		v.addError("logging.format", fmt.Sprintf("must be json or console, got %q", l.Format))
	}

	switch l.Output {
	case "", "stdout", "stderr":
	default:
		v.addError("logging.output", fmt.Sprintf("must be stdout or stderr, got %q", l.Output))
	}
}

func (v *Validator) validateMetrics(m *MetricsConfig) {
	if !m.Enabled {
		return
	}
	if m.Path != "" && !strings.HasPrefix(m.Path, "/") {
		v.addError("metrics.path", "must start with /")
	}
	if m.Address != "" {
		if _, _, err := net.SplitHostPort(m.Address); err != nil {
			v.addError("metrics.address", fmt.Sprintf("invalid host:port %q: %v", m.Address, err))
		}
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
