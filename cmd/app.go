package cmd

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Tiliavir/timesync/internal/config"
	"github.com/Tiliavir/timesync/internal/gapfill"
	"github.com/Tiliavir/timesync/internal/httpx"
	"github.com/Tiliavir/timesync/internal/jira"
	"github.com/Tiliavir/timesync/internal/logging"
	"github.com/Tiliavir/timesync/internal/projectmap"
	"github.com/Tiliavir/timesync/internal/redmine"
	"github.com/Tiliavir/timesync/internal/session"
	"github.com/Tiliavir/timesync/internal/storage"
	"github.com/Tiliavir/timesync/internal/tempo"
	"github.com/Tiliavir/timesync/internal/timecalc"
)

// exitError carries the process exit code out of a command: 1 for usage and
// configuration errors, 2 for run failures.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(err error) error { return &exitError{code: 1, err: err} }
func runErr(err error) error { return &exitError{code: 2, err: err} }

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// setup loads the configuration and builds the logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, usageErr(err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return config.Config{}, nil, usageErr(err)
	}
	return cfg, log, nil
}

// runOptions are the per-command settings layered over the config.
type runOptions struct {
	strict         bool
	contextURL     string
	defaultProject int
}

func httpConfig(cfg config.Config, log *zap.Logger, service, baseURL string) httpx.Config {
	return httpx.Config{
		Service:           service,
		BaseURL:           baseURL,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		Timeout:           cfg.HTTP.Timeout,
		BreakerFailures:   cfg.HTTP.BreakerFailures,
		Log:               log,
	}
}

// newSession wires the three adapters, the project mappings and the gap
// filler defaults into a session.
func newSession(cfg config.Config, log *zap.Logger, opts runOptions) (*session.Session, error) {
	if err := cfg.ValidateSources(); err != nil {
		return nil, err
	}

	tempoCfg := httpConfig(cfg, log, "tempo", cfg.Tempo.BaseURL)
	tempoCfg.BearerToken = cfg.Tempo.APIToken
	tempoHTTP, err := httpx.New(tempoCfg)
	if err != nil {
		return nil, err
	}

	jiraCfg := httpConfig(cfg, log, "jira", cfg.Jira.BaseURL)
	if cfg.Jira.Email != "" {
		jiraCfg.BasicUser, jiraCfg.BasicPassword = cfg.Jira.Email, cfg.Jira.APIToken
	} else {
		jiraCfg.BearerToken = cfg.Jira.APIToken
	}
	jiraHTTP, err := httpx.New(jiraCfg)
	if err != nil {
		return nil, err
	}

	redmineCfg := httpConfig(cfg, log, "redmine", cfg.Redmine.BaseURL)
	redmineCfg.Header = map[string]string{redmine.APIKeyHeader: cfg.Redmine.APIKey}
	redmineHTTP, err := httpx.New(redmineCfg)
	if err != nil {
		return nil, err
	}

	base, err := storage.BaseDir()
	if err != nil {
		return nil, err
	}

	defaultProject := cfg.Redmine.DefaultProjectID
	if opts.defaultProject > 0 {
		defaultProject = opts.defaultProject
	}

	return session.New(
		session.Sources{
			Worklogs: tempo.New(tempoHTTP, cfg.Tempo.AccountID),
			Ledger:   redmine.New(redmineHTTP, cfg.Redmine.UserID, log),
			Issues:   jira.New(jiraHTTP),
		},
		session.Options{
			Strict:   opts.strict || cfg.Match.Strict,
			Projects: projectmap.New(storage.MappingStore{Base: base}, log),
			Fill: gapfill.Options{
				ContextURL:        opts.contextURL,
				DefaultProjectID:  defaultProject,
				DefaultPriorityID: cfg.Redmine.DefaultPriorityID,
				DefaultStatusID:   cfg.Redmine.DefaultStatusID,
				ActivityID:        cfg.Redmine.ActivityID,
			},
			Log: log,
		},
	), nil
}

// dateRange resolves --from/--to; without --from it is the current week.
func dateRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	if from == "" {
		if to != "" {
			return time.Time{}, time.Time{}, fmt.Errorf("--to requires --from")
		}
		f, t := timecalc.WeekRange(now)
		return f, t, nil
	}
	return timecalc.ParseRange(from, to)
}
