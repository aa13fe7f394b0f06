// Package mqtt publishes attendance events to an MQTT broker so external
// systems (dashboards, automations) can react to marks in real time.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/models"
)

var logFields = log.Fields{
	"component": "mqtt",
}

// attendanceEvent is the JSON payload published per created record.
type attendanceEvent struct {
	StudentKey  string    `json:"student_key"`
	DisplayName string    `json:"display_name,omitempty"`
	Day         string    `json:"day"`
	FirstSeen   time.Time `json:"first_seen"`
	Score       float64   `json:"score"`
	Dataset     string    `json:"dataset,omitempty"`
}

// Publisher wraps the Paho client and the configured topic.
type Publisher struct {
	cfg    config.MQTTConfig
	client mqtt.Client
}

// NewPublisher creates an MQTT publisher. It returns (nil, nil) when MQTT is
// disabled: running without a broker is a normal deployment.
func NewPublisher(cfg config.MQTTConfig) (*Publisher, error) {
	if !cfg.Enabled {
		log.WithFields(logFields).Info("MQTT publisher is disabled in the configuration")
		return nil, nil
	}

	brokerURL := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithFields(logFields).WithError(err).Warn("MQTT connection lost, reconnecting")
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.WithFields(logFields).Infof("Connected to MQTT broker %s", brokerURL)
	})

	p := &Publisher{cfg: cfg, client: mqtt.NewClient(opts)}

	log.WithFields(logFields).Infof("Connecting to MQTT broker: %s", brokerURL)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		// Auto-reconnect keeps trying in the background.
		log.WithFields(logFields).WithError(token.Error()).Warn("Initial MQTT connect failed")
	}

	return p, nil
}

// PublishAttendance publishes one attendance-created event. Failures are
// logged, never propagated: attendance is already durably recorded and a
// broker outage must not affect the session.
func (p *Publisher) PublishAttendance(record models.AttendanceRecord, displayName string) {
	payload, err := json.Marshal(attendanceEvent{
		StudentKey:  record.StudentKey,
		DisplayName: displayName,
		Day:         record.Day,
		FirstSeen:   record.FirstSeen,
		Score:       record.Score,
		Dataset:     record.Dataset,
	})
	if err != nil {
		log.WithFields(logFields).WithError(err).Error("Failed to marshal attendance event")
		return
	}

	token := p.client.Publish(p.cfg.Topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.WithFields(logFields).WithError(token.Error()).Warnf(
				"Failed to publish attendance event for %s", record.StudentKey)
		}
	}()
}

// Stop disconnects from the broker, allowing in-flight publishes to finish.
func (p *Publisher) Stop() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
	log.WithFields(logFields).Info("MQTT publisher stopped")
}
