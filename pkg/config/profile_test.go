package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/cfgport/pkg/engine"
)

const minimalProfile = `
connection:
  host: https://am.example.com/am/
  realm: alpha
  deploymentType: cloud
`

func TestLoader_Parse(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name       string
		content    string
		wantErr    bool
		wantFields []string
		checkFunc  func(*testing.T, *Profile)
	}{
		{
			name:    "minimal profile keeps defaults",
			content: minimalProfile,
			checkFunc: func(t *testing.T, p *Profile) {
				if p.Import.Mode != "fail-fast" {
					t.Errorf("expected default import mode, got %q", p.Import.Mode)
				}
				if p.Transport.Timeout != 30*time.Second {
					t.Errorf("expected default timeout, got %v", p.Transport.Timeout)
				}
				if p.Telemetry.LogLevel != "info" {
					t.Errorf("expected default log level, got %q", p.Telemetry.LogLevel)
				}
			},
		},
		{
			name: "full profile",
			content: `
connection:
  host: https://am.example.com/am
  realm: /parent/child
  deploymentType: classic
  productVersion: 7.3.0
  principal: amadmin
export:
  useStringArrays: false
  coords: false
  includeDefault: true
import:
  reUuid: true
  deps: false
  rename: false
  mode: collect
  maxRenameAttempts: 5
transport:
  timeout: 45s
  pageSize: 50
journal:
  enabled: true
  path: /tmp/journal.db
telemetry:
  logLevel: debug
  logFormat: json
  tracing: otlp
  tracingEndpoint: collector:4317
  metrics: true
  metricsAddress: 127.0.0.1:9191
`,
			checkFunc: func(t *testing.T, p *Profile) {
				if p.Transport.Timeout != 45*time.Second || p.Transport.PageSize != 50 {
					t.Errorf("unexpected transport: %+v", p.Transport)
				}
				if p.Import.Mode != "collect" || p.Import.Rename == nil || *p.Import.Rename || p.Import.MaxRenameAttempts != 5 {
					t.Errorf("unexpected import config: %+v", p.Import)
				}
				if !p.ImportOptions().NoRename {
					t.Error("expected rename: false to disable renaming")
				}
				if p.Export.UseStringArrays == nil || *p.Export.UseStringArrays {
					t.Errorf("expected useStringArrays false, got %v", p.Export.UseStringArrays)
				}
			},
		},
		{
			name:       "empty profile",
			content:    "",
			wantErr:    true,
			wantFields: []string{"Connection.Host"},
		},
		{
			name: "invalid values",
			content: `
connection:
  host: not a url
  realm: ""
  deploymentType: onprem
import:
  mode: sometimes
  maxRenameAttempts: -1
`,
			wantErr: true,
			wantFields: []string{
				"Connection.Host",
				"Connection.Realm",
				"Connection.DeploymentType",
				"Import.Mode",
				"Import.MaxRenameAttempts",
			},
		},
		{
			name: "journal without path",
			content: minimalProfile + `
journal:
  enabled: true
`,
			wantErr:    true,
			wantFields: []string{"Journal.Path"},
		},
		{
			name: "otlp without endpoint",
			content: minimalProfile + `
telemetry:
  tracing: otlp
`,
			wantErr:    true,
			wantFields: []string{"Telemetry.TracingAddress"},
		},
		{
			name: "unknown key",
			content: minimalProfile + `
journeys: true
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := loader.Parse([]byte(tt.content))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.wantFields != nil {
					var verrs ValidationErrors
					if !errors.As(err, &verrs) {
						t.Fatalf("expected ValidationErrors, got: %v", err)
					}
					var fields []string
					for _, ve := range verrs {
						fields = append(fields, ve.Field)
					}
					if diff := cmp.Diff(tt.wantFields, fields); diff != "" {
						t.Errorf("unexpected invalid fields (-want +got):\n%s", diff)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, p)
			}
		})
	}
}

func TestValidationErrors_Message(t *testing.T) {
	_, err := NewLoader().Parse([]byte(`
connection:
  host: https://am.example.com/am
  realm: alpha
  deploymentType: onprem
`))
	if err == nil {
		t.Fatal("expected error")
	}
	want := "invalid profile: Connection.DeploymentType: onprem is not one of: classic cloud forgeops"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestLoader_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(minimalProfile), 0o600); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}

	p, err := NewLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Connection.Realm != "alpha" {
		t.Errorf("expected realm alpha, got %q", p.Connection.Realm)
	}

	if _, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestProfile_Conversions(t *testing.T) {
	p, err := NewLoader().Parse([]byte(minimalProfile + `
  principal: amadmin
  token: secret
export:
  coords: false
  noDecode: true
import:
  deps: false
  rename: true
  mode: best-effort
transport:
  pageSize: 20
  userAgent: nightly-backup
journal:
  enabled: true
  path: journal.db
telemetry:
  tracing: stdout
  metrics: true
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn := p.EngineConnection()
	want := engine.Connection{
		Host:           "https://am.example.com/am",
		Realm:          "alpha",
		DeploymentType: engine.DeploymentCloud,
		Principal:      "amadmin",
		Token:          "secret",
	}
	if diff := cmp.Diff(want, conn); diff != "" {
		t.Errorf("unexpected connection (-want +got):\n%s", diff)
	}

	exp := p.ExportOptions()
	wantExp := engine.ExportOptions{UseStringArrays: true, NoDecode: true, Coords: false, Deps: true}
	if diff := cmp.Diff(wantExp, exp); diff != "" {
		t.Errorf("unexpected export options (-want +got):\n%s", diff)
	}

	imp := p.ImportOptions()
	wantImp := engine.ImportOptions{
		Deps:              false,
		Mode:              engine.ModeBestEffort,
		MaxRenameAttempts: engine.DefaultMaxRenameAttempts,
	}
	if diff := cmp.Diff(wantImp, imp); diff != "" {
		t.Errorf("unexpected import options (-want +got):\n%s", diff)
	}

	rc := p.RESTConfig()
	if rc.PageSize != 20 || rc.UserAgent != "nightly-backup" || rc.Timeout != 30*time.Second {
		t.Errorf("unexpected REST config: %+v", rc)
	}
	if err := rc.Validate(); err != nil {
		t.Errorf("expected valid REST config, got: %v", err)
	}

	sc, ok := p.StoreConfig()
	if !ok || sc.Path != "journal.db" {
		t.Errorf("unexpected store config: %+v, %v", sc, ok)
	}

	tc := p.TelemetryConfig("1.2.3")
	if tc.ServiceVersion != "1.2.3" || !tc.Tracing.Enabled || tc.Tracing.Exporter != "stdout" || !tc.Metrics.Enabled {
		t.Errorf("unexpected telemetry config: %+v", tc)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("expected valid telemetry config, got: %v", err)
	}
}

func TestProfile_RenamesByDefault(t *testing.T) {
	p, err := NewLoader().Parse([]byte(minimalProfile))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ImportOptions().NoRename {
		t.Error("expected name collisions to be renamed by default")
	}
}

func TestProfile_StoreConfigDisabled(t *testing.T) {
	p, err := NewLoader().Parse([]byte(minimalProfile))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.StoreConfig(); ok {
		t.Error("expected journal to be disabled by default")
	}
}

func TestProfile_MarshalOmitsToken(t *testing.T) {
	loader := NewLoader()
	p, err := loader.Parse([]byte(minimalProfile + "  token: secret\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := p.Marshal()
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("expected token to be omitted, got:\n%s", data)
	}
	if p.Connection.Token != "secret" {
		t.Error("expected Marshal to leave the profile untouched")
	}

	again, err := loader.Parse(data)
	if err != nil {
		t.Fatalf("marshalled profile does not parse: %v\n%s", err, data)
	}
	again.Connection.Token = "secret"
	if diff := cmp.Diff(p, again); diff != "" {
		t.Errorf("profile changed across marshal (-want +got):\n%s", diff)
	}
}
