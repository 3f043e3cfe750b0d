// Package mqtt publishes clock snapshots to an MQTT broker so displays and
// home-automation dashboards elsewhere on the network can mirror them. It
// wraps the Eclipse Paho library, handles automatic reconnection, announces
// its presence on a retained status topic and supports optional TLS.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"worldtime-display/internal/clock"
	"worldtime-display/internal/logger"
	"worldtime-display/internal/metrics"
	"worldtime-display/internal/worldclock"
)

const (
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	statusOnline    = "online"
	statusOffline   = "offline"
	statusSubtopic  = "/status"
	disconnectQuiet = 250 // ms
)

var log = logger.New("mqtt")

// ErrNotConnected is returned by Render while the broker connection is down.
var ErrNotConnected = errors.New("mqtt: not connected")

// Config holds the parameters required to connect to an MQTT broker and
// publish snapshots to one topic.
type Config struct {
	BrokerURL string // e.g., "tcp://127.0.0.1:1883" or "ssl://mqtt.example.com:8883"
	ClientID  string // optional; if empty, a random ID is generated
	Topic     string // snapshot topic, e.g. "worldclock/snapshot"
	QoS       byte   // 0 or 1
	Retained  bool   // retain the latest snapshot on the broker
	Username  string // optional; MQTT username for authentication
	Password  string // optional; MQTT password for authentication
	TLSCAFile string // optional; path to CA certificate file for TLS verification
}

// Publisher sends each redraw-worthy snapshot to the configured topic. It
// implements scheduler.Renderer.
type Publisher struct {
	config      Config
	pahoClient  paho.Client
	clockSource clock.Clock

	initialAnnounceOnce   sync.Once
	initialAnnounceResult chan error
	connectAttempts       int32

	mu   sync.Mutex
	last *worldclock.Snapshot
}

// NewPublisher validates the configuration and constructs a publisher. The
// underlying Paho client is created but the TCP connection is not opened
// until Connect is called.
func NewPublisher(config Config) (*Publisher, error) {
	if config.BrokerURL == "" {
		return nil, errors.New("mqtt: BrokerURL required")
	}
	config.Topic = strings.TrimSpace(config.Topic)
	if config.Topic == "" {
		return nil, errors.New("mqtt: Topic required")
	}
	if strings.ContainsAny(config.Topic, "+#") {
		return nil, fmt.Errorf("mqtt: Topic %q must not contain wildcards", config.Topic)
	}
	if config.ClientID == "" {
		generatedID, err := generateClientID()
		if err != nil {
			return nil, fmt.Errorf("mqtt: generate client id: %w", err)
		}
		config.ClientID = generatedID
	}
	if config.QoS > 1 {
		config.QoS = 1
	}

	publisher := &Publisher{
		config:                config,
		clockSource:           clock.RealClock{},
		initialAnnounceResult: make(chan error, 1),
	}

	opts := paho.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetKeepAlive(20 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetBinaryWill(publisher.StatusTopic(), []byte(statusOffline), config.QoS, true).
		SetOnConnectHandler(func(pc paho.Client) {
			publisher.handleConnect(pc)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			metrics.SetMQTTConnected(false)
			metrics.RecordMQTTDisconnect()
			log.Warn().Err(err).Msg("connection lost")
		})

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	if isTLSBroker(config.BrokerURL) {
		tlsConfig, err := createMQTTTLSConfig(config)
		if err != nil {
			return nil, fmt.Errorf("mqtt: TLS configuration failed: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	publisher.pahoClient = paho.NewClient(opts)
	return publisher, nil
}

// StatusTopic is where "online" and "offline" are published (retained). The
// broker publishes "offline" on our behalf if the connection drops.
func (p *Publisher) StatusTopic() string {
	return p.config.Topic + statusSubtopic
}

// ClientID reports the identifier used with the broker.
func (p *Publisher) ClientID() string {
	return p.config.ClientID
}

// isTLSBroker reports whether the broker URL scheme implies a TLS transport.
func isTLSBroker(brokerURL string) bool {
	lower := strings.ToLower(brokerURL)
	return strings.HasPrefix(lower, "ssl://") ||
		strings.HasPrefix(lower, "tls://") ||
		strings.HasPrefix(lower, "mqtts://") ||
		strings.HasPrefix(lower, "tcps://")
}

// createMQTTTLSConfig builds a tls.Config using either the custom CA
// certificate specified in Config.TLSCAFile or the system certificate pool.
func createMQTTTLSConfig(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if config.TLSCAFile != "" {
		caCert, err := os.ReadFile(config.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}

		tlsConfig.RootCAs = caCertPool
		log.Info().Str("ca_file", config.TLSCAFile).Msg("using custom CA certificate")
		return tlsConfig, nil
	}

	systemCAs, err := x509.SystemCertPool()
	if err != nil {
		log.Warn().Err(err).Msg("failed to load system CA pool, using empty pool")
		systemCAs = x509.NewCertPool()
	}
	tlsConfig.RootCAs = systemCAs
	return tlsConfig, nil
}

// generateClientID produces a random client identifier in the form
// "worldclock-<UUIDv4>".
func generateClientID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return "worldclock-" + id.String(), nil
}

// Connect opens the TCP connection and blocks until the initial "online"
// announcement completes or the connect timeout elapses.
func (p *Publisher) Connect() error {
	if p.pahoClient == nil {
		return errors.New("mqtt: client not initialized")
	}

	token := p.pahoClient.Connect()
	if !token.WaitTimeout(connectTimeout) {
		metrics.SetMQTTConnected(false)
		return errors.New("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		metrics.SetMQTTConnected(false)
		return fmt.Errorf("mqtt: connect failed: %w", err)
	}

	select {
	case err, ok := <-p.initialAnnounceResult:
		if !ok || err == nil {
			return nil
		}
		metrics.SetMQTTConnected(false)
		return err
	case <-clock.OrReal(p.clockSource).After(connectTimeout):
		metrics.SetMQTTConnected(false)
		return errors.New("mqtt: initial status announcement timeout")
	}
}

// Render publishes snapshot unless it shows the same times as the previous
// publish. Errors are returned for logging; the scheduler keeps running.
func (p *Publisher) Render(snapshot worldclock.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last != nil && p.last.Equal(snapshot) {
		metrics.RecordMQTTPublish("unchanged", 0)
		return nil
	}

	if p.pahoClient == nil || !p.pahoClient.IsConnectionOpen() {
		metrics.RecordMQTTPublish("not_connected", 0)
		return ErrNotConnected
	}

	payload, err := EncodeSnapshot(snapshot)
	if err != nil {
		metrics.RecordMQTTPublish("encode_error", 0)
		return fmt.Errorf("mqtt: encode snapshot: %w", err)
	}

	clk := clock.OrReal(p.clockSource)
	start := clk.Now()
	if err := p.publish(p.pahoClient, p.config.Topic, payload, p.config.Retained); err != nil {
		metrics.RecordMQTTPublish("error", 0)
		return err
	}

	metrics.RecordMQTTPublish("ok", clk.Now().Sub(start))
	metrics.RecordRedraw("mqtt")
	p.last = &snapshot
	return nil
}

func (p *Publisher) publish(pahoClient paho.Client, topic string, payload []byte, retained bool) error {
	token := pahoClient.Publish(topic, p.config.QoS, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}
	return nil
}

// Close announces "offline" and disconnects from the broker with a short
// quiesce period.
func (p *Publisher) Close() {
	metrics.SetMQTTConnected(false)

	if p.pahoClient != nil && p.pahoClient.IsConnectionOpen() {
		if err := p.publish(p.pahoClient, p.StatusTopic(), []byte(statusOffline), true); err != nil {
			log.Warn().Err(err).Msg("offline announcement failed")
		}
		metrics.RecordMQTTDisconnect()
		p.pahoClient.Disconnect(disconnectQuiet)
	}
}

// handleConnect runs on every connection (including reconnections). It
// announces "online", forgets the last snapshot so the next render is
// republished, and signals completion of the first attempt.
func (p *Publisher) handleConnect(pahoClient paho.Client) {
	if err := p.publish(pahoClient, p.StatusTopic(), []byte(statusOnline), true); err != nil {
		metrics.SetMQTTConnected(false)
		log.Error().Err(err).Msg("status announcement failed")
		p.completeInitialAnnounce(fmt.Errorf("mqtt: announce failed: %w", err))
		return
	}

	p.mu.Lock()
	p.last = nil
	p.mu.Unlock()

	if atomic.AddInt32(&p.connectAttempts, 1) > 1 {
		metrics.RecordMQTTReconnect()
		log.Info().Str("topic", p.config.Topic).Msg("reconnected")
	} else {
		log.Info().Str("topic", p.config.Topic).Uint8("qos", p.config.QoS).Msg("connected")
	}

	metrics.SetMQTTConnected(true)
	metrics.RecordMQTTConnect()
	p.completeInitialAnnounce(nil)
}

// completeInitialAnnounce delivers the result of the first announcement
// exactly once, unblocking the Connect caller.
func (p *Publisher) completeInitialAnnounce(err error) {
	p.initialAnnounceOnce.Do(func() {
		p.initialAnnounceResult <- err
		close(p.initialAnnounceResult)
	})
}
