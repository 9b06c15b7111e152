// Package brief assembles the home-screen summary from the local stores, the
// weather service and, when signed in, the account backend.
package brief

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/backend"
	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/observability"
	"github.com/kjstillabower/daily-brief/internal/service"
)

// DefaultCountdowns is how many upcoming countdowns a brief shows.
const DefaultCountdowns = 3

// DefaultModules applies when no backend session supplies the user's choice.
var DefaultModules = models.ModulesEnabled{Weather: true, Countdown: true, Reminder: false}

type LocationSource interface {
	Selected() (models.TrackedLocation, bool)
}

type WeatherSource interface {
	GetWeather(ctx context.Context, loc models.TrackedLocation) (models.Weather, error)
}

type CountdownSource interface {
	Upcoming(now time.Time, n int) []models.Countdown
}

// Account is the signed-in backend session. Every call is best effort.
type Account interface {
	IsAuthenticated() bool
	CurrentUser() *models.User
	DailyBrief(ctx context.Context) (backend.RemoteBrief, error)
	Nameday(ctx context.Context) (*models.Nameday, error)
}

type Publisher interface {
	PublishBrief(ctx context.Context, b models.DailyBrief) error
}

type Config struct {
	Locations  LocationSource
	Weather    WeatherSource
	Countdowns CountdownSource
	// Account is optional.
	Account Account
	// Publisher is optional.
	Publisher Publisher
	// NumCountdowns defaults to DefaultCountdowns.
	NumCountdowns int
	Logger        *zap.Logger
}

type Composer struct {
	locations     LocationSource
	weather       WeatherSource
	countdowns    CountdownSource
	account       Account
	publisher     Publisher
	numCountdowns int
	logger        *zap.Logger
}

func NewComposer(cfg Config) *Composer {
	if cfg.NumCountdowns <= 0 {
		cfg.NumCountdowns = DefaultCountdowns
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Composer{
		locations:     cfg.Locations,
		weather:       cfg.Weather,
		countdowns:    cfg.Countdowns,
		account:       cfg.Account,
		publisher:     cfg.Publisher,
		numCountdowns: cfg.NumCountdowns,
		logger:        cfg.Logger,
	}
}

// Build composes the brief for now. It only fails when ctx is done; missing
// weather or backend data leave their sections empty.
func (c *Composer) Build(ctx context.Context, now time.Time) (models.DailyBrief, error) {
	logger := observability.LoggerFromContext(ctx, c.logger)
	b := models.DailyBrief{
		ModulesEnabled: DefaultModules,
		Countdowns:     []models.Countdown{},
		GeneratedAt:    now.UTC(),
	}

	if c.account != nil && c.account.IsAuthenticated() {
		c.applyAccount(ctx, &b, logger)
	}

	if b.ModulesEnabled.Weather {
		c.applyWeather(ctx, &b, logger)
	}
	if b.ModulesEnabled.Countdown && c.countdowns != nil {
		b.Countdowns = c.countdowns.Upcoming(now, c.numCountdowns)
	}

	if err := ctx.Err(); err != nil {
		return models.DailyBrief{}, err
	}

	if c.publisher != nil {
		if err := c.publisher.PublishBrief(ctx, b); err != nil {
			logger.Warn("publish brief failed", zap.Error(err))
		}
	}
	return b, nil
}

func (c *Composer) applyAccount(ctx context.Context, b *models.DailyBrief, logger *zap.Logger) {
	b.User = c.account.CurrentUser()

	remote, err := c.account.DailyBrief(ctx)
	if err != nil {
		logger.Warn("remote brief unavailable", zap.Error(err))
	} else {
		b.ModulesEnabled = remote.ModulesEnabled
		if b.User == nil && remote.User.Username != "" {
			u := remote.User
			b.User = &u
		}
		b.Nameday = remote.Nameday
	}

	if b.Nameday == nil {
		nd, err := c.account.Nameday(ctx)
		if err != nil {
			logger.Debug("nameday unavailable", zap.Error(err))
			return
		}
		b.Nameday = nd
	}
}

func (c *Composer) applyWeather(ctx context.Context, b *models.DailyBrief, logger *zap.Logger) {
	if c.locations == nil || c.weather == nil {
		return
	}
	loc, ok := c.locations.Selected()
	if !ok {
		b.WeatherError = service.MsgNoCoordinates
		return
	}
	b.Location = &loc

	w, err := c.weather.GetWeather(ctx, loc)
	if err != nil {
		logger.Warn("brief weather unavailable",
			zap.String("locationId", loc.ID),
			zap.Error(err),
		)
		b.WeatherError = service.UserMessage(err)
		return
	}
	outfit := OutfitFor(w)
	b.Weather = &w
	b.Outfit = &outfit
}
