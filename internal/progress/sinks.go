package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// LogSink writes each update as an info event.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a sink logging under the "progress" component.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "progress").Logger()}
}

// Report logs the update.
func (s *LogSink) Report(progress float64, message string) {
	s.logger.Info().
		Str("percent", fmt.Sprintf("%.1f%%", progress*100)).
		Msg(message)
}

const barScale = 1000

const barTemplate = `{{ string . "prefix" }} {{ bar . }} {{ percent . "%.01f%%" "?" }} {{ string . "message" }} {{ etime . "%s elapsed" }}`

// BarSink renders a terminal progress bar.
type BarSink struct {
	mu  sync.Mutex
	bar *pb.ProgressBar
}

// NewBarSink starts a bar on w labelled prefix.
func NewBarSink(w io.Writer, prefix string) *BarSink {
	bar := pb.ProgressBarTemplate(barTemplate).New(barScale)
	bar.SetWriter(w)
	bar.Set("prefix", prefix)
	bar.Start()
	return &BarSink{bar: bar}
}

// Report moves the bar. Progress 1 finishes it.
func (s *BarSink) Report(progress float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar.IsFinished() {
		return
	}
	s.bar.Set("message", message)
	s.bar.SetCurrent(int64(clamp01(progress) * barScale))
	if progress >= 1 {
		s.bar.Finish()
	}
}

// Finish stops the bar if it is still running.
func (s *BarSink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bar.IsFinished() {
		s.bar.Finish()
	}
}

// MQTTConfig selects the broker and topic for MQTTSink.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         byte          `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`

	// ConnectTimeout bounds the initial broker dial.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultMQTTConfig has no broker, which disables MQTT publishing.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		ClientID:    "movescope",
		TopicPrefix: "movescope/progress",
		Timeout:     2 * time.Second,

		ConnectTimeout: 5 * time.Second,
	}
}

func (c MQTTConfig) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 5 * time.Second
	}
	return c.ConnectTimeout
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// Event is the JSON payload published for each update.
type Event struct {
	RunID     string    `json:"run_id"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the subset of mqtt.Client used by MQTTSink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes updates to <topic_prefix>/<run id>. Publish failures
// are counted and logged, never returned.
type MQTTSink struct {
	logger  zerolog.Logger
	client  Publisher
	topic   string
	runID   string
	qos     byte
	timeout time.Duration

	mu     sync.Mutex
	errors uint64
}

// NewMQTTSink publishes through an already connected client.
func NewMQTTSink(logger zerolog.Logger, client Publisher, cfg MQTTConfig, runID string) *MQTTSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultMQTTConfig().Timeout
	}
	return &MQTTSink{
		logger:  logger.With().Str("component", "progress-mqtt").Str("run", runID).Logger(),
		client:  client,
		topic:   fmt.Sprintf("%s/%s", cfg.TopicPrefix, runID),
		runID:   runID,
		qos:     cfg.QoS,
		timeout: timeout,
	}
}

// Report publishes the update.
func (s *MQTTSink) Report(progress float64, message string) {
	payload, err := json.Marshal(Event{
		RunID:     s.runID,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.fail(err)
		return
	}

	token := s.client.Publish(s.topic, s.qos, false, payload)
	if !token.WaitTimeout(s.timeout) {
		s.fail(fmt.Errorf("publish timeout"))
		return
	}
	if err := token.Error(); err != nil {
		s.fail(fmt.Errorf("publish failed: %w", err))
		return
	}
	s.logger.Debug().Str("topic", s.topic).Int("size", len(payload)).Msg("progress published")
}

func (s *MQTTSink) fail(err error) {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
	s.logger.Warn().Err(err).Msg("progress publish failed")
}

// Errors returns the number of failed publishes.
func (s *MQTTSink) Errors() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// ConnectMQTT dials the broker with auto-reconnect enabled.
func ConnectMQTT(logger zerolog.Logger, cfg MQTTConfig) (mqtt.Client, error) {
	logger = logger.With().Str("component", "mqtt").Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetConnectTimeout(cfg.connectTimeout())
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	logger.Info().Str("broker", cfg.Broker).Msg("connecting to mqtt broker")

	// With connect retry on, the client keeps dialing in the background
	// until it is told to stop.
	token := client.Connect()
	if !token.WaitTimeout(cfg.connectTimeout()) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
