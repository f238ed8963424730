// Package mqtt publishes glucose snapshots and alerts to an MQTT broker
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/golang/glog"

	"github.com/mrcode/librelinkup-daemon/internal/models"
)

const (
	dataSubtopic  = "data"
	alertSubtopic = "alert"

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Publisher maintains a broker connection and publishes to the device's
// topic tree: <base>/<device>/data for snapshots, <base>/<device>/alert
// for alerts.
type Publisher struct {
	cm     *autopaho.ConnectionManager
	base   string
	device string
}

// NewPublisher connects to the broker configured in settings and waits
// for the initial connection. The connection manager reconnects on its
// own afterwards.
func NewPublisher(ctx context.Context, settings *models.Settings) (*Publisher, error) {
	broker, err := url.Parse(settings.MQTTBroker)
	if err != nil {
		return nil, fmt.Errorf("parsing broker URL: %w", err)
	}

	clientID := "librelinkup-" + settings.DeviceID

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		KeepAlive:                     30,
		SessionExpiryInterval:         60,
		CleanStartOnInitialConnection: true,
		ConnectUsername:               settings.MQTTUsername,
		ConnectPassword:               []byte(settings.MQTTPassword),
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			glog.Infof("mqtt connected to %s as %s", broker.Redacted(), clientID)
		},
		OnConnectError: func(err error) {
			glog.Warningf("mqtt connection error: %v", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnClientError: func(err error) {
				glog.Warningf("mqtt client error: %v", err)
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("starting mqtt connection: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(connectCtx); err != nil {
		_ = cm.Disconnect(ctx)
		return nil, fmt.Errorf("awaiting mqtt connection: %w", err)
	}

	return &Publisher{
		cm:     cm,
		base:   settings.MQTTBase,
		device: settings.DeviceID,
	}, nil
}

func (p *Publisher) topic(subtopic string) string {
	return p.base + "/" + p.device + "/" + subtopic
}

// PublishSnapshot publishes the cycle snapshot as retained JSON so a
// dashboard picks up the last state immediately after subscribing
func (p *Publisher) PublishSnapshot(ctx context.Context, snap models.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_, err = p.cm.Publish(pubCtx, &paho.Publish{
		Topic:   p.topic(dataSubtopic),
		QoS:     0,
		Retain:  true,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	glog.V(1).Infof("published snapshot to %s", p.topic(dataSubtopic))
	return nil
}

type alertPayload struct {
	Alert     string `json:"alert"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Notify publishes an alert message. It implements the alert manager's
// notifier interface.
func (p *Publisher) Notify(alertType, message string) error {
	payload, err := json.Marshal(alertPayload{
		Alert:     alertType,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	_, err = p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.topic(alertSubtopic),
		QoS:     1,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("publishing alert: %w", err)
	}
	return nil
}

// Disconnect closes the broker connection
func (p *Publisher) Disconnect(ctx context.Context) error {
	return p.cm.Disconnect(ctx)
}
