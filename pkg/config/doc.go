// Package config loads cfgport connection profiles.
//
// A profile is a YAML file naming the target deployment and the defaults
// of the export, import, transport, journal and telemetry layers:
//
//	connection:
//	  host: https://am.example.com/am
//	  realm: alpha
//	  deploymentType: cloud
//	  principal: amadmin
//	export:
//	  coords: false
//	import:
//	  mode: best-effort
//	  rename: true
//	transport:
//	  timeout: 45s
//	journal:
//	  enabled: true
//	  path: cfgport.db
//
// Values are decoded over DefaultProfile and validated with struct tags.
// Unknown keys are an error. The bearer token is usually supplied through
// the environment rather than the file and is never written back by Marshal.
//
// The Profile converts into the configuration types of the other packages:
// EngineConnection, ExportOptions, ImportOptions, RESTConfig, StoreConfig
// and TelemetryConfig.
package config
