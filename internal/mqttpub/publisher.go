// Package mqttpub republishes client signals as JSON on MQTT topics:
// <prefix>/position, <prefix>/satellites, <prefix>/devices and the retained
// <prefix>/status.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"gpsc-ng/internal/gpsd"
)

const defaultTimeout = 2 * time.Second

// publisher is the subset of mqtt.Client the Publisher needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

type Publisher struct {
	pub     publisher
	prefix  string
	qos     byte
	timeout time.Duration
}

type Position struct {
	Device string    `json:"device,omitempty"`
	Time   string    `json:"time,omitempty"`
	Fix    gpsd.Fix  `json:"fix"`
	DOP    gpsd.DOP  `json:"dop"`
	Set    string    `json:"set"`
	At     time.Time `json:"at"`
}

type Satellites struct {
	Visible    int              `json:"visible"`
	Used       int              `json:"used"`
	Satellites []gpsd.Satellite `json:"satellites"`
}

type Devices struct {
	Devices []string        `json:"devices"`
	Device  gpsd.DeviceInfo `json:"device"`
}

type Status struct {
	Connected bool   `json:"connected"`
	Code      int    `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Dial connects to the broker and returns a Publisher on that connection.
// The broker's last will marks the status topic offline.
func Dial(cfg Config) (*Publisher, mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(defaultTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	will, _ := json.Marshal(Status{Connected: false})
	opts.SetWill(cfg.TopicPrefix+"/status", string(will), cfg.QoS, true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultTimeout) {
		return nil, nil, fmt.Errorf("mqtt connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	log.Printf("mqtt connected broker=%s client_id=%s", cfg.Broker, cfg.ClientID)
	return New(client, cfg.TopicPrefix, cfg.QoS), client, nil
}

func New(pub publisher, prefix string, qos byte) *Publisher {
	return &Publisher{pub: pub, prefix: prefix, qos: qos, timeout: defaultTimeout}
}

// Attach publishes c's signals until the returned func is called.
func (p *Publisher) Attach(c *gpsd.Client) (detach func()) {
	cancels := []func(){
		c.On(gpsd.PositionUpdated, func() { p.PublishPosition(c.Data()) }),
		c.On(gpsd.ConstellationUpdated, func() { p.PublishSatellites(c.Data()) }),
		c.On(gpsd.DeviceListUpdated, func() { p.PublishDevices(c.Data()) }),
		c.OnConnectionStatus(func(connected bool) {
			p.PublishStatus(Status{Connected: connected})
		}),
		c.OnConnectionError(func(code int) {
			p.PublishStatus(Status{Connected: false, Code: code, Error: gpsd.ErrorString(code)})
		}),
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func (p *Publisher) PublishPosition(rec gpsd.Record) error {
	msg := Position{
		Device: rec.Path,
		Fix:    rec.Fix,
		DOP:    rec.DOP,
		Set:    rec.Set.String(),
		At:     time.Now().UTC(),
	}
	if t := rec.Fix.UTC(); !t.IsZero() {
		msg.Time = t.Format(time.RFC3339Nano)
	}
	return p.publish("position", false, msg)
}

func (p *Publisher) PublishSatellites(rec gpsd.Record) error {
	return p.publish("satellites", false, Satellites{
		Visible:    rec.SatellitesVisible,
		Used:       rec.SatellitesUsed,
		Satellites: rec.Satellites(),
	})
}

func (p *Publisher) PublishDevices(rec gpsd.Record) error {
	return p.publish("devices", true, Devices{Devices: rec.Devices, Device: rec.Dev})
}

func (p *Publisher) PublishStatus(s Status) error {
	return p.publish("status", true, s)
}

func (p *Publisher) publish(sub string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	topic := p.prefix + "/" + sub
	token := p.pub.Publish(topic, p.qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		err = fmt.Errorf("mqtt publish %s: timeout", topic)
	} else {
		err = token.Error()
	}
	if err != nil {
		log.Printf("mqtt publish failed topic=%s err=%v", topic, err)
	}
	return err
}
