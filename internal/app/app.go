package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/tmail/internal/credential"
	"github.com/nhle/tmail/internal/fastmail"
	"github.com/nhle/tmail/internal/logging"
	"github.com/nhle/tmail/internal/model"
	"github.com/nhle/tmail/internal/store"
)

// EnvToken supplies an API token without touching the credential store.
const EnvToken = model.EnvPrefix + "_TOKEN"

// ErrNotLoggedIn is returned when no API token is available.
var ErrNotLoggedIn = errors.New("not logged in: run 'tmail login' first")

// ErrNotFound is matched by NotFoundError.
var ErrNotFound = errors.New("masked email not found")

// NotFoundError reports an address that is neither cached nor known to
// the server.
type NotFoundError struct {
	Email string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("masked email '%s' not found", e.Email)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TokenStore persists the API token.
type TokenStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Options configures New. Zero values fall back to the config file.
type Options struct {
	ConfigPath string
	LogLevel   string
	Timeout    time.Duration

	// Stderr receives log output when no log file is configured.
	Stderr io.Writer

	// Transport overrides the HTTP transport of the JMAP client.
	Transport http.RoundTripper

	// Tokens overrides the credential store built from config.
	Tokens TokenStore
}

// App wires configuration, credentials, the local cache and the
// Fastmail client together for the commands.
type App struct {
	ConfigPath string
	Config     *model.AppConfig
	Log        *logrus.Logger

	tokens    TokenStore
	store     store.Store
	transport http.RoundTripper
	adapter   *fastmail.Adapter
	closeLog  func() error
}

// New loads configuration from opts.ConfigPath and opens the cache.
func New(opts Options) (*App, error) {
	path := opts.ConfigPath
	if path == "" {
		path = model.DefaultConfigPath()
	}

	cfg, err := model.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Timeout > 0 {
		cfg.TimeoutSec = int((opts.Timeout + time.Second - 1) / time.Second)
	}

	log, closeLog, err := logging.New(cfg.Log.Level, cfg.Log.File, opts.Stderr)
	if err != nil {
		return nil, err
	}

	a := &App{
		ConfigPath: path,
		Config:     cfg,
		Log:        log,
		tokens:     opts.Tokens,
		transport:  opts.Transport,
		closeLog:   closeLog,
	}
	if a.tokens == nil {
		a.tokens = credential.New(cfg.Credential)
	}

	if cfg.Cache.Enabled {
		s, err := store.NewSQLiteStore(cfg.Cache.Path)
		if err != nil {
			// Commands fall back to the server without a cache.
			log.WithError(err).Warn("cache unavailable")
		} else {
			a.store = s
		}
	}

	log.WithFields(logrus.Fields{
		"config": path,
		"cache":  a.store != nil,
	}).Debug("app initialized")

	return a, nil
}

// Close releases the cache and the log file.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.closeLog != nil {
		errs = append(errs, a.closeLog())
	}
	return errors.Join(errs...)
}

// Store returns the cache, or nil when caching is disabled.
func (a *App) Store() store.Store {
	return a.store
}

// Token returns the API token from the environment or the credential
// store.
func (a *App) Token() (string, error) {
	if tok := envToken(); tok != "" {
		return tok, nil
	}

	tok, err := a.tokens.Get(credential.TokenKey)
	if errors.Is(err, credential.ErrNotFound) {
		return "", ErrNotLoggedIn
	}
	if err != nil {
		return "", fmt.Errorf("loading API token: %w", err)
	}
	if strings.TrimSpace(tok) == "" {
		return "", ErrNotLoggedIn
	}
	return tok, nil
}

func envToken() string {
	return strings.TrimSpace(os.Getenv(EnvToken))
}

// HasStoredToken reports whether the credential store holds a token.
func (a *App) HasStoredToken() bool {
	tok, err := a.tokens.Get(credential.TokenKey)
	return err == nil && tok != ""
}

func (a *App) newClient(token string) *fastmail.Client {
	return fastmail.NewClient(a.Config.SessionURL, token, fastmail.ClientOptions{
		Timeout:    a.Config.Timeout(),
		MaxRetries: a.Config.MaxRetries,
		Transport:  a.transport,
		Logger:     a.Log,
	})
}

// Adapter returns the Fastmail adapter for the logged-in account.
func (a *App) Adapter() (*fastmail.Adapter, error) {
	if a.adapter != nil {
		return a.adapter, nil
	}

	token, err := a.Token()
	if err != nil {
		return nil, err
	}

	a.adapter = fastmail.NewAdapter(a.newClient(token), a.Config.AccountID, a.Config.APIURL)
	return a.adapter, nil
}

// record appends to the local history. Failures are logged only.
func (a *App) record(ctx context.Context, action model.EventAction, email, detail string) {
	if a.store == nil {
		return
	}
	err := a.store.RecordEvent(ctx, model.Event{
		Action: action,
		Email:  email,
		Detail: detail,
	})
	if err != nil {
		a.Log.WithError(err).Warn("recording history")
	}
}

// noteSessionState stores the sessionState of the last response and logs
// a change.
func (a *App) noteSessionState(ctx context.Context) {
	if a.store == nil || a.adapter == nil {
		return
	}
	current := a.adapter.SessionState()
	if current == "" {
		return
	}
	previous, err := a.store.GetValue(ctx, store.KeySessionState)
	if err != nil && !store.IsNotFound(err) {
		a.Log.WithError(err).Debug("reading session state")
		return
	}
	if previous == current {
		return
	}
	if previous != "" {
		a.Log.WithFields(logrus.Fields{
			"old": previous,
			"new": current,
		}).Debug("session state changed")
	}
	if err := a.store.SetValue(ctx, store.KeySessionState, current); err != nil {
		a.Log.WithError(err).Debug("storing session state")
	}
}
