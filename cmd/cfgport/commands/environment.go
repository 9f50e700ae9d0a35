package commands

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/openfroyo/cfgport/pkg/config"
	"github.com/openfroyo/cfgport/pkg/engine"
	"github.com/openfroyo/cfgport/pkg/stores"
	"github.com/openfroyo/cfgport/pkg/telemetry"
	"github.com/openfroyo/cfgport/pkg/transports/rest"
)

const exportTool = "cfgport"

// environment resolves the profile from the profile file, flags and
// CFGPORT_* variables, in increasing precedence.
type environment struct {
	viper   *viper.Viper
	version string
}

func (e *environment) profile() (*config.Profile, error) {
	p, err := e.resolve()
	if err != nil {
		return nil, err
	}
	if err := config.NewLoader().Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// resolve merges the profile file with overrides without validating.
func (e *environment) resolve() (*config.Profile, error) {
	p := config.DefaultProfile()
	if path := e.viper.GetString("profile"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read profile: %w", err)
		}
		if p, err = config.Decode(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if v := e.viper.GetString("host"); v != "" {
		p.Connection.Host = v
	}
	if v := e.viper.GetString("realm"); v != "" {
		p.Connection.Realm = v
	}
	if v := e.viper.GetString("deployment-type"); v != "" {
		p.Connection.DeploymentType = v
	}
	if v := e.viper.GetString("token"); v != "" {
		p.Connection.Token = v
	}
	if v := e.viper.GetString("journal"); v != "" {
		p.Journal.Enabled = true
		p.Journal.Path = v
	}
	return p, nil
}

func (e *environment) jsonOutput() bool {
	return e.viper.GetBool("json")
}

// session is everything one command needs to talk to a deployment.
type session struct {
	ctx     context.Context
	profile *config.Profile
	conn    engine.Connection
	client  *rest.Client
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
	store   *stores.SQLiteStore
}

// open builds the telemetry, REST client and, when configured, the journal.
// Callers must close the session.
func (e *environment) open(ctx context.Context, needStore bool) (*session, error) {
	p, err := e.profile()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(p.TelemetryConfig(e.version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s := &session{
		ctx:     tel.WithContext(ctx),
		profile: p,
		conn:    p.EngineConnection(),
		tel:     tel,
		logger:  tel.Logger.NewComponentLogger("cli"),
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, multierr.Append(err, s.close())
	}

	if s.client, err = rest.NewClient(s.conn, p.RESTConfig()); err != nil {
		return nil, multierr.Append(err, s.close())
	}

	if cfg, ok := p.StoreConfig(); ok {
		if s.store, err = openStore(s.ctx, cfg); err != nil {
			return nil, multierr.Append(err, s.close())
		}
	} else if needStore {
		return nil, multierr.Append(fmt.Errorf("no journal configured: use --journal or the profile's journal section"), s.close())
	}
	return s, nil
}

func openStore(ctx context.Context, cfg stores.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, multierr.Append(err, store.Close())
	}
	return store, nil
}

// close releases the store and flushes telemetry, combining failures.
func (s *session) close() error {
	var err error
	if s.store != nil {
		err = multierr.Append(err, s.store.Close())
	}
	err = multierr.Append(err, s.tel.Shutdown(context.WithoutCancel(s.ctx)))
	return err
}

func (s *session) templateFactory() *engine.TemplateFactory {
	return engine.NewTemplateFactory(s.conn, exportTool, s.tel.Config.ServiceVersion)
}

func (s *session) progress() engine.Progress {
	return &logProgress{logger: s.logger}
}

// logProgress reports progress through the structured logger.
type logProgress struct {
	mu     sync.Mutex
	logger *telemetry.Logger
	total  int
	done   int
}

func (p *logProgress) Create(total int, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total, p.done = total, 0
	p.logger.Info(msg)
}

func (p *logProgress) Update(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.logger.Debugf("[%d/%d] %s", p.done, p.total, msg)
}

func (p *logProgress) Stop(status engine.ProgressStatus, msg string) {
	switch status {
	case engine.ProgressSuccess:
		p.logger.Info(msg)
	case engine.ProgressWarning:
		p.logger.Warn(msg)
	default:
		p.logger.Error(msg)
	}
}
