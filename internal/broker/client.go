// Package broker wraps the MQTT transport: connect with automatic
// reconnect, subscribe, publish, and deliver inbound messages as a
// serialized stream to the caller-supplied Handler. Owns the liveness
// message lifecycle including its periodic re-publish.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/claw-mqtt-bridge/internal/config"
)

// Handler receives every inbound message on a subscribed topic. Malformed
// payloads are the caller's concern to detect and drop; the broker layer
// only guarantees delivery of raw bytes.
type Handler func(topic string, payload []byte)

// Client adapts paho's MQTT client to the bridge's needs: fixed reconnect
// backoff, resubscribe on every reconnect, and a retained liveness signal.
type Client struct {
	cfg     config.Config
	handler Handler
	logger  *slog.Logger

	mq mqtt.Client
}

// New constructs a Client. Call Start to connect and begin serving.
func New(cfg config.Config, handler Handler, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{cfg: cfg, handler: handler, logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(cfg.ReconnectBackoff)
	opts.SetConnectRetryInterval(cfg.ReconnectBackoff)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.mq = mqtt.NewClient(opts)
	return c
}

// Start connects to the broker and blocks until ctx is cancelled, at which
// point it performs an orderly shutdown: publish retained offline, close.
func (c *Client) Start(ctx context.Context) error {
	token := c.mq.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	var stopRepublish func()
	if c.cfg.StatusRepublishEvery > 0 {
		stopRepublish = c.startStatusRepublish(ctx)
	}

	<-ctx.Done()
	if stopRepublish != nil {
		stopRepublish()
	}

	c.publishStatus(false)
	c.mq.Disconnect(250)
	return nil
}

// Publish sends payload on topic, optionally retained. Errors are logged
// by callers; this layer never retries a failed publish.
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	token := c.mq.Publish(topic, 0, retain, payload)
	token.Wait()
	return token.Error()
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.logger.Info("connected to broker", "broker_url", c.cfg.BrokerURL, "client_id", c.cfg.ClientID)

	if token := c.mq.Subscribe(c.cfg.CommandTopic, 0, c.wrapHandler(c.cfg.CommandTopic)); token.Wait() && token.Error() != nil {
		c.logger.Error("subscribe failed", "topic", c.cfg.CommandTopic, "error", token.Error())
	}
	if token := c.mq.Subscribe(c.cfg.ApprovalResponseTopic, 0, c.wrapHandler(c.cfg.ApprovalResponseTopic)); token.Wait() && token.Error() != nil {
		c.logger.Error("subscribe failed", "topic", c.cfg.ApprovalResponseTopic, "error", token.Error())
	}

	c.publishStatus(true)
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("broker connection lost", "error", err)
	c.publishStatus(false)
}

func (c *Client) wrapHandler(topic string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.handler(topic, msg.Payload())
	}
}

func (c *Client) publishStatus(online bool) {
	payload := fmt.Sprintf(`{"server":%q,"online":%t,"timestamp":%d}`, c.cfg.ClientID, online, time.Now().UnixMilli())
	if err := c.Publish(c.cfg.StatusTopic, []byte(payload), true); err != nil {
		c.logger.Error("publish liveness status failed", "online", online, "error", err)
	}
}

// startStatusRepublish re-publishes online:true retained on an interval
// independent of connect/disconnect transitions, so a broker that loses
// retained state across its own restart converges within one interval.
func (c *Client) startStatusRepublish(ctx context.Context) func() {
	sched := cronlib.New()
	spec := fmt.Sprintf("@every %s", c.cfg.StatusRepublishEvery)
	if _, err := sched.AddFunc(spec, func() {
		if c.mq.IsConnected() {
			c.publishStatus(true)
		}
	}); err != nil {
		c.logger.Error("invalid status republish interval, skipping periodic republish", "interval", c.cfg.StatusRepublishEvery, "error", err)
		return func() {}
	}

	sched.Start()
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		<-sched.Stop().Done()
		close(done)
	}()
	return func() { <-done }
}
