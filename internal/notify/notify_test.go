package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/daily-brief/internal/models"
)

// fakeToken completes immediately unless done is left open.
type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	publishTok  func() mqtt.Token
	messages    []published
	disconnects int
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return completedToken(c.connectErr)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.disconnects++
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	c.mu.Unlock()
	if c.publishTok != nil {
		return c.publishTok()
	}
	return completedToken(nil)
}

func newTestPublisher(t *testing.T, c *fakeClient, prefix string) *MQTTPublisher {
	t.Helper()
	p := newPublisher(c, Config{TopicPrefix: prefix, PublishTimeout: 100 * time.Millisecond}, zap.NewNop())
	p.now = func() time.Time { return time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC) }
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return p
}

// TestTopics verifies topic layout and prefix normalization.
func TestTopics(t *testing.T) {
	tests := []struct {
		prefix      string
		wantWeather string
		wantBrief   string
	}{
		{"", "dailybrief/weather/loc-1", "dailybrief/brief"},
		{"home/", "home/weather/loc-1", "home/brief"},
		{"/a/b/", "a/b/weather/loc-1", "a/b/brief"},
	}
	for _, tt := range tests {
		p := newPublisher(&fakeClient{}, Config{TopicPrefix: tt.prefix}, zap.NewNop())
		if got := p.WeatherTopic("loc-1"); got != tt.wantWeather {
			t.Errorf("WeatherTopic() with prefix %q = %q, want %q", tt.prefix, got, tt.wantWeather)
		}
		if got := p.BriefTopic(); got != tt.wantBrief {
			t.Errorf("BriefTopic() with prefix %q = %q, want %q", tt.prefix, got, tt.wantBrief)
		}
	}
}

// TestPublishWeather verifies the payload, QoS and retain flag of weather updates.
func TestPublishWeather(t *testing.T) {
	c := &fakeClient{}
	p := newTestPublisher(t, c, "db")

	w := models.Weather{Location: "Bratislava", Current: models.CurrentConditions{Temperature: 12.5}}
	if err := p.PublishWeather(context.Background(), "loc-1", w); err != nil {
		t.Fatalf("PublishWeather() error = %v", err)
	}
	if len(c.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(c.messages))
	}
	m := c.messages[0]
	if m.topic != "db/weather/loc-1" || m.qos != 0 || m.retained {
		t.Errorf("message = topic %q qos %d retained %v", m.topic, m.qos, m.retained)
	}
	var got WeatherUpdate
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.LocationID != "loc-1" || got.Weather.Current.Temperature != 12.5 || got.PublishedAt.IsZero() {
		t.Errorf("payload = %+v", got)
	}
}

// TestPublishBrief verifies that briefs go to the brief topic.
func TestPublishBrief(t *testing.T) {
	c := &fakeClient{}
	p := newTestPublisher(t, c, "")
	b := models.DailyBrief{Countdowns: []models.Countdown{{Name: "Trip"}}}
	if err := p.PublishBrief(context.Background(), b); err != nil {
		t.Fatalf("PublishBrief() error = %v", err)
	}
	if len(c.messages) != 1 || c.messages[0].topic != "dailybrief/brief" {
		t.Fatalf("messages = %+v", c.messages)
	}
	var got models.DailyBrief
	if err := json.Unmarshal(c.messages[0].payload, &got); err != nil || len(got.Countdowns) != 1 {
		t.Errorf("payload = %s, err %v", c.messages[0].payload, err)
	}
}

// TestPublish_Errors verifies failures are returned and logged.
func TestPublish_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *fakeClient, p *MQTTPublisher)
		wantErr func(error) bool
	}{
		{
			name:    "not connected",
			setup:   func(c *fakeClient, p *MQTTPublisher) { c.connected = false },
			wantErr: func(err error) bool { return errors.Is(err, ErrNotConnected) },
		},
		{
			name: "broker error",
			setup: func(c *fakeClient, p *MQTTPublisher) {
				c.publishTok = func() mqtt.Token { return completedToken(errors.New("denied")) }
			},
			wantErr: func(err error) bool { return err != nil && err.Error() == "publish db/brief: denied" },
		},
		{
			name: "timeout",
			setup: func(c *fakeClient, p *MQTTPublisher) {
				c.publishTok = func() mqtt.Token { return &fakeToken{done: make(chan struct{})} }
			},
			wantErr: func(err error) bool { return err != nil && err.Error() == "publish timeout for topic db/brief" },
		},
		{
			name:    "closed",
			setup:   func(c *fakeClient, p *MQTTPublisher) { p.Close() },
			wantErr: func(err error) bool { return errors.Is(err, ErrClosed) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeClient{}
			p := newTestPublisher(t, c, "db")
			core, logs := observer.New(zapcore.WarnLevel)
			p.logger = zap.New(core)
			tt.setup(c, p)

			err := p.PublishBrief(context.Background(), models.DailyBrief{})
			if !tt.wantErr(err) {
				t.Errorf("PublishBrief() error = %v", err)
			}
			if logs.FilterMessage("mqtt publish failed").Len() != 1 {
				t.Errorf("expected one publish failure log, got %v", logs.All())
			}
		})
	}
}

// TestPublish_ContextCanceled verifies that a canceled caller stops waiting for the broker.
func TestPublish_ContextCanceled(t *testing.T) {
	c := &fakeClient{publishTok: func() mqtt.Token { return &fakeToken{done: make(chan struct{})} }}
	p := newTestPublisher(t, c, "db")
	p.timeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.PublishWeather(ctx, "x", models.Weather{}); !errors.Is(err, context.Canceled) {
		t.Errorf("PublishWeather() error = %v, want context.Canceled", err)
	}
}

// TestConnect verifies connect errors and the closed state.
func TestConnect(t *testing.T) {
	c := &fakeClient{connectErr: errors.New("refused")}
	p := newPublisher(c, Config{}, zap.NewNop())
	if err := p.Connect(context.Background()); err == nil {
		t.Error("Connect() error = nil, want refused")
	}

	p.Close()
	p.Close()
	if c.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", c.disconnects)
	}
	if err := p.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}
}

// TestNopPublisher verifies the disabled publisher accepts everything.
func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.PublishWeather(context.Background(), "x", models.Weather{}); err != nil {
		t.Error(err)
	}
	if err := p.PublishBrief(context.Background(), models.DailyBrief{}); err != nil {
		t.Error(err)
	}
}
