// Package notify pushes weather and brief updates to an MQTT broker so
// dashboards and devices can follow along without polling.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/observability"
)

const (
	DefaultTopicPrefix    = "dailybrief"
	DefaultPublishTimeout = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrClosed       = errors.New("publisher closed")
)

// Publisher receives every fresh forecast and every composed brief.
type Publisher interface {
	PublishWeather(ctx context.Context, locationID string, w models.Weather) error
	PublishBrief(ctx context.Context, b models.DailyBrief) error
}

// NopPublisher drops everything. Used when MQTT is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishWeather(context.Context, string, models.Weather) error { return nil }
func (NopPublisher) PublishBrief(context.Context, models.DailyBrief) error        { return nil }

type WeatherUpdate struct {
	LocationID  string         `json:"location_id"`
	Weather     models.Weather `json:"weather"`
	PublishedAt time.Time      `json:"published_at"`
}

type Config struct {
	// Broker is a URL such as tcp://localhost:1883.
	Broker         string
	ClientID       string
	TopicPrefix    string
	PublishTimeout time.Duration
}

// client is the part of mqtt.Client used here.
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type MQTTPublisher struct {
	client  client
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMQTTPublisher(cfg Config, logger *zap.Logger) *MQTTPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	return newPublisher(mqtt.NewClient(opts), cfg, logger)
}

func newPublisher(c client, cfg Config, logger *zap.Logger) *MQTTPublisher {
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &MQTTPublisher{
		client:  c,
		prefix:  prefix,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Connect waits for the first connection. With connect retry enabled the
// client keeps trying in the background, so only ctx or Close end the wait.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return ErrClosed
	default:
	}
	if p.client.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return ErrClosed
		default:
		}
	}
}

func (p *MQTTPublisher) WeatherTopic(locationID string) string {
	return p.prefix + "/weather/" + locationID
}

func (p *MQTTPublisher) BriefTopic() string {
	return p.prefix + "/brief"
}

func (p *MQTTPublisher) PublishWeather(ctx context.Context, locationID string, w models.Weather) error {
	return p.publish(ctx, "weather", p.WeatherTopic(locationID), WeatherUpdate{
		LocationID:  locationID,
		Weather:     w,
		PublishedAt: p.now().UTC(),
	})
}

func (p *MQTTPublisher) PublishBrief(ctx context.Context, b models.DailyBrief) error {
	return p.publish(ctx, "brief", p.BriefTopic(), b)
}

func (p *MQTTPublisher) publish(ctx context.Context, kind, topic string, v any) error {
	err := p.send(ctx, topic, v)
	status := "success"
	if err != nil {
		status = "error"
		observability.LoggerFromContext(ctx, p.logger).Warn("mqtt publish failed",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
	observability.PublishTotal.WithLabelValues(kind, status).Inc()
	return err
}

func (p *MQTTPublisher) send(ctx context.Context, topic string, v any) error {
	select {
	case <-p.stopCh:
		return ErrClosed
	default:
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := p.client.Publish(topic, 0, false, data)
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.logger.Debug("published", zap.String("topic", topic), zap.Int("bytes", len(data)))
	return nil
}

// Close disconnects. Safe to call more than once.
func (p *MQTTPublisher) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.client.Disconnect(250)
		p.logger.Info("mqtt disconnected")
	})
}
