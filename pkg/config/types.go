package config

import (
	"time"
)

// Profile is a connection profile: where to connect and how to export and
// import by default.
type Profile struct {
	// Connection locates the target system.
	Connection ConnectionConfig `yaml:"connection"`

	// Export holds export option defaults.
	Export ExportConfig `yaml:"export"`

	// Import holds import option defaults.
	Import ImportConfig `yaml:"import"`

	// Transport tunes the REST client.
	Transport TransportConfig `yaml:"transport"`

	// Journal configures the SQLite import journal and export archive.
	Journal JournalConfig `yaml:"journal"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ConnectionConfig locates the target system.
type ConnectionConfig struct {
	// Host is the base URL of the deployment (e.g., "https://am.example.com/am").
	Host string `yaml:"host" validate:"required,url"`

	// Realm is the default realm (e.g., "alpha").
	Realm string `yaml:"realm" validate:"required"`

	// DeploymentType selects which entity types are available.
	DeploymentType string `yaml:"deploymentType" validate:"required,oneof=classic cloud forgeops"`

	// ProductVersion is recorded in export metadata.
	ProductVersion string `yaml:"productVersion,omitempty"`

	// Principal is recorded in export metadata as exportedBy.
	Principal string `yaml:"principal,omitempty"`

	// Token is the bearer token. Prefer the CFGPORT_TOKEN environment variable.
	Token string `yaml:"token,omitempty"`
}

// ExportConfig holds export option defaults. Unset pointers keep the engine defaults.
type ExportConfig struct {
	UseStringArrays *bool `yaml:"useStringArrays,omitempty"`
	NoDecode        bool  `yaml:"noDecode,omitempty"`
	Coords          *bool `yaml:"coords,omitempty"`
	IncludeDefault  bool  `yaml:"includeDefault,omitempty"`
	Deps            *bool `yaml:"deps,omitempty"`
}

// ImportConfig holds import option defaults. Name collisions are renamed
// unless rename is false.
type ImportConfig struct {
	ReUUID            bool   `yaml:"reUuid,omitempty"`
	Deps              *bool  `yaml:"deps,omitempty"`
	Rename            *bool  `yaml:"rename,omitempty"`
	Mode              string `yaml:"mode,omitempty" validate:"omitempty,oneof=fail-fast best-effort collect"`
	MaxRenameAttempts int    `yaml:"maxRenameAttempts,omitempty" validate:"gte=0"`
}

// TransportConfig tunes the REST client.
type TransportConfig struct {
	// Timeout bounds one HTTP request (e.g., "30s").
	Timeout time.Duration `yaml:"timeout,omitempty" validate:"gte=0"`

	// PageSize is the page size of list requests.
	PageSize int `yaml:"pageSize,omitempty" validate:"gte=0"`

	// UserAgent overrides the User-Agent header.
	UserAgent string `yaml:"userAgent,omitempty"`
}

// JournalConfig configures the SQLite journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty" validate:"required_if=Enabled true"`
}

// TelemetryConfig configures logging, tracing and metrics.
type TelemetryConfig struct {
	LogLevel       string `yaml:"logLevel,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat      string `yaml:"logFormat,omitempty" validate:"omitempty,oneof=console json"`
	Tracing        string `yaml:"tracing,omitempty" validate:"omitempty,oneof=none stdout otlp"`
	TracingAddress string `yaml:"tracingEndpoint,omitempty" validate:"required_if=Tracing otlp"`
	Metrics        bool   `yaml:"metrics,omitempty"`
	MetricsAddress string `yaml:"metricsAddress,omitempty" validate:"omitempty,hostname_port"`
}
