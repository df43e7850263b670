package app

import (
	"context"
	"errors"
	"strings"

	"hustl/internal/util"
	"hustl/pkg/domain"
	"hustl/pkg/events"
	"hustl/pkg/realtime"
	"hustl/pkg/storage"
	"hustl/pkg/store"
)

const (
	defaultUniversity    = "University of Florida"
	defaultMaxImageBytes = 10 << 20
)

// Config holds runtime dependencies for the core application.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Broker   realtime.Broker
	// Events is optional; nil discards domain events.
	Events events.Publisher
	// Objects is optional; image uploads fail with ErrStorageDisabled
	// when it is nil.
	Objects           storage.ObjectStore
	DefaultUniversity string
	MaxImageBytes     int64
}

// App wires the marketplace services around one store and broker.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	broker        realtime.Broker
	events        events.Publisher
	objects       storage.ObjectStore
	university    string
	maxImageBytes int64

	Auth          *Auth
	Profiles      *Profiles
	Categories    *Categories
	Tasks         *Tasks
	Applications  *Applications
	Messages      *Messages
	Notifications *Notifications
	Reviews       *Reviews
	Transactions  *Transactions
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.Broker == nil {
		return nil, errors.New("realtime broker required")
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	university := strings.TrimSpace(cfg.DefaultUniversity)
	if university == "" {
		university = defaultUniversity
	}
	maxImage := cfg.MaxImageBytes
	if maxImage <= 0 {
		maxImage = defaultMaxImageBytes
	}
	a := &App{
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		broker:        cfg.Broker,
		events:        cfg.Events,
		objects:       cfg.Objects,
		university:    university,
		maxImageBytes: maxImage,
	}
	a.Auth = &Auth{app: a, listeners: make(map[int]func(AuthEvent))}
	a.Profiles = &Profiles{app: a}
	a.Categories = &Categories{app: a}
	a.Tasks = &Tasks{app: a}
	a.Applications = &Applications{app: a}
	a.Messages = &Messages{app: a}
	a.Notifications = &Notifications{app: a}
	a.Reviews = &Reviews{app: a}
	a.Transactions = &Transactions{app: a}
	return a, nil
}

// MaxImageBytes is the upload limit for task images and avatars.
func (a *App) MaxImageBytes() int64 { return a.maxImageBytes }

// publishEvent emits a domain event; failures are logged only.
func (a *App) publishEvent(ctx context.Context, routingKey string, data any) {
	if err := a.events.Publish(ctx, routingKey, data); err != nil {
		util.LoggerFromContext(ctx).Warn("domain event publish failed", "routing_key", routingKey, "err", err)
	}
}

// publishInsert fans a raw row out to realtime subscribers; failures are
// logged only.
func (a *App) publishInsert(ctx context.Context, channel, table string, row any) {
	ev, err := realtime.NewInsertEvent(table, row)
	if err == nil {
		err = a.broker.Publish(ctx, channel, ev)
	}
	if err != nil {
		util.LoggerFromContext(ctx).Warn("realtime publish failed", "channel", channel, "err", err)
	}
}

// Categories lists task categories.
type Categories struct {
	app *App
}

func (c *Categories) List(ctx context.Context) ([]domain.Category, error) {
	return c.app.store.ListCategories(ctx)
}
