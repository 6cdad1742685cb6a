// Package engine runs the incident approval state machine and the case
// lifecycle actions. Every mutation commits together with its audit events.
package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/logging"
	"caseline/internal/repo"
)

var validate = validator.New()

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Auth   *auth.Authorizer
	Logger *logrus.Entry
	Now    func() time.Time
}

// New builds an engine over db. The authorizer is derived from cfg's roles.
func New(db *sql.DB, cfg *config.Config, logger *logrus.Logger) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	entry := logging.Component(logger, "engine")
	authz, err := auth.NewAuthorizer(cfg, entry.Logger)
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Auth:   authz,
		Logger: entry,
		Now:    time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() *logrus.Entry {
	if e.Logger == nil {
		return logging.Nop()
	}
	return e.Logger
}

func (e Engine) eventWriter() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

// GetIncident loads an incident or returns NotFoundError.
func (e Engine) GetIncident(ctx context.Context, id string) (domain.Incident, error) {
	inc, err := e.Repo.GetIncident(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return inc, NotFoundError{Kind: "incident", ID: id}
	}
	return inc, persistence("load incident", err)
}

// GetCase loads a case or returns NotFoundError.
func (e Engine) GetCase(ctx context.Context, id string) (domain.Case, error) {
	c, err := e.Repo.GetCase(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return c, NotFoundError{Kind: "case", ID: id}
	}
	return c, persistence("load case", err)
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
