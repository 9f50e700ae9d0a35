package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/cfgport/pkg/engine"
	"github.com/openfroyo/cfgport/pkg/stores"
	"github.com/openfroyo/cfgport/pkg/telemetry"
	"github.com/openfroyo/cfgport/pkg/transports/rest"
)

// ValidationError is one failed constraint of a profile.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors lists every failed constraint of a profile.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return "invalid profile: " + strings.Join(msgs, "; ")
}

// Loader reads and validates profiles.
type Loader struct {
	validator *validator.Validate
}

// NewLoader creates a new profile loader.
func NewLoader() *Loader {
	return &Loader{validator: validator.New()}
}

// DefaultProfile returns a profile holding every default. Its connection is
// empty and must be filled before it validates.
func DefaultProfile() *Profile {
	return &Profile{
		Connection: ConnectionConfig{
			Realm:          "alpha",
			DeploymentType: string(engine.DeploymentCloud),
		},
		Import: ImportConfig{
			Mode:              string(engine.ModeFailFast),
			MaxRenameAttempts: engine.DefaultMaxRenameAttempts,
		},
		Transport: TransportConfig{
			Timeout:   rest.DefaultConfig().Timeout,
			PageSize:  rest.DefaultConfig().PageSize,
			UserAgent: rest.DefaultConfig().UserAgent,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "console",
			Tracing:        "none",
			MetricsAddress: ":9090",
		},
	}
}

// LoadFile reads the profile at path.
func (l *Loader) LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	p, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML profile over the defaults and validates it.
func (l *Loader) Parse(data []byte) (*Profile, error) {
	p, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := l.Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Decode decodes a YAML profile over the defaults without validating it,
// so that callers can apply overrides first. Unknown keys are rejected.
func Decode(data []byte) (*Profile, error) {
	p := DefaultProfile()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	return p, nil
}

// Validate checks the profile's constraints.
func (l *Loader) Validate(p *Profile) error {
	err := l.validator.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate profile: %w", err)
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   strings.TrimPrefix(fe.Namespace(), "Profile."),
			Message: describe(fe),
		})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "url":
		return fmt.Sprintf("%q is not a URL", fe.Value())
	case "oneof":
		return fmt.Sprintf("%v is not one of: %s", fe.Value(), fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "hostname_port":
		return fmt.Sprintf("%q is not a host:port address", fe.Value())
	default:
		return fmt.Sprintf("failed on %q", fe.Tag())
	}
}

// Marshal encodes the profile as YAML. The token is never written.
func (p *Profile) Marshal() ([]byte, error) {
	out := *p
	out.Connection.Token = ""
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	return buf.Bytes(), nil
}

// EngineConnection returns the connection the engine and transport use.
func (p *Profile) EngineConnection() engine.Connection {
	return engine.Connection{
		Host:           strings.TrimRight(p.Connection.Host, "/"),
		Realm:          p.Connection.Realm,
		DeploymentType: engine.DeploymentType(p.Connection.DeploymentType),
		ProductVersion: p.Connection.ProductVersion,
		Principal:      p.Connection.Principal,
		Token:          p.Connection.Token,
	}
}

// ExportOptions returns the export defaults of the profile.
func (p *Profile) ExportOptions() engine.ExportOptions {
	opts := engine.DefaultExportOptions()
	if p.Export.UseStringArrays != nil {
		opts.UseStringArrays = *p.Export.UseStringArrays
	}
	if p.Export.Coords != nil {
		opts.Coords = *p.Export.Coords
	}
	if p.Export.Deps != nil {
		opts.Deps = *p.Export.Deps
	}
	opts.NoDecode = p.Export.NoDecode
	opts.IncludeDefault = p.Export.IncludeDefault
	return opts
}

// ImportOptions returns the import defaults of the profile.
func (p *Profile) ImportOptions() engine.ImportOptions {
	opts := engine.DefaultImportOptions()
	if p.Import.Deps != nil {
		opts.Deps = *p.Import.Deps
	}
	if p.Import.Mode != "" {
		opts.Mode = engine.ImportMode(p.Import.Mode)
	}
	if p.Import.MaxRenameAttempts > 0 {
		opts.MaxRenameAttempts = p.Import.MaxRenameAttempts
	}
	opts.ReUUID = p.Import.ReUUID
	if p.Import.Rename != nil {
		opts.NoRename = !*p.Import.Rename
	}
	return opts
}

// RESTConfig returns the REST client configuration of the profile.
func (p *Profile) RESTConfig() *rest.Config {
	cfg := rest.DefaultConfig()
	if p.Transport.Timeout > 0 {
		cfg.Timeout = p.Transport.Timeout
	}
	if p.Transport.PageSize > 0 {
		cfg.PageSize = p.Transport.PageSize
	}
	if p.Transport.UserAgent != "" {
		cfg.UserAgent = p.Transport.UserAgent
	}
	return cfg
}

// StoreConfig returns the journal store configuration; ok is false when
// the journal is disabled.
func (p *Profile) StoreConfig() (cfg stores.Config, ok bool) {
	if !p.Journal.Enabled {
		return stores.Config{}, false
	}
	return stores.Config{Path: p.Journal.Path}, true
}

// TelemetryConfig returns the telemetry configuration of the profile.
func (p *Profile) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	if p.Telemetry.LogLevel != "" {
		cfg.Logging.Level = p.Telemetry.LogLevel
	}
	if p.Telemetry.LogFormat != "" {
		cfg.Logging.Format = p.Telemetry.LogFormat
	}
	switch p.Telemetry.Tracing {
	case "", "none":
		cfg.Tracing.Enabled = false
		cfg.Tracing.Exporter = "none"
	default:
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = p.Telemetry.Tracing
		cfg.Tracing.Endpoint = p.Telemetry.TracingAddress
	}
	cfg.Metrics.Enabled = p.Telemetry.Metrics
	if p.Telemetry.MetricsAddress != "" {
		cfg.Metrics.ListenAddress = p.Telemetry.MetricsAddress
	}
	cfg.ResourceAttributes["cfgport.realm"] = p.Connection.Realm
	cfg.ResourceAttributes["cfgport.deployment_type"] = p.Connection.DeploymentType
	return cfg
}
