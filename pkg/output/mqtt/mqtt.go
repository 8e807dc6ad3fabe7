package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/plant-autocal/pkg/calibration"
	"github.com/ericogr/plant-autocal/pkg/config"
	"github.com/ericogr/plant-autocal/pkg/output"
)

const (
	// defaults
	DefaultServer       = "tcp://localhost:1883"
	DefaultClientID     = "plant-autocal"
	DefaultStateTopic   = "plantsensor/%s"
	DefaultCommandTopic = "plantsensor/+/set"
	replySuffix         = "/result"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
	valueTemplateValue     = "{{ value_json.value }}"
)

type MQTTOutput struct {
	client       mqtt.Client
	cfg          config.MQTTConfig
	stateTopic   string
	commandTopic string
	announced    map[string]bool
}

// NewMQTT connects to the broker. When a discovery topic is configured, each
// measurement is announced to Home Assistant the first time it is published.
func NewMQTT(cfg config.MQTTConfig) (*MQTTOutput, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID).SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	m := &MQTTOutput{
		client:       client,
		cfg:          cfg,
		stateTopic:   cfg.StateTopic,
		commandTopic: cfg.CommandTopic,
		announced:    make(map[string]bool),
	}
	if m.stateTopic == "" {
		m.stateTopic = DefaultStateTopic
	}
	if m.commandTopic == "" {
		m.commandTopic = DefaultCommandTopic
	}
	return m, nil
}

func (m *MQTTOutput) announce(s calibration.Snapshot) {
	if m.cfg.DiscoveryTopic == "" || m.announced[s.Key] {
		return
	}
	payload := discoveryPayload(m.cfg, s, formatTopic(m.stateTopic, s.Key))
	if err := publishJSON(m.client, formatTopic(m.cfg.DiscoveryTopic, s.Key), true, payload); err != nil {
		log.Printf("mqtt discovery publish error: %v", err)
		return
	}
	m.announced[s.Key] = true
}

var _ output.Output = (*MQTTOutput)(nil)

func (m *MQTTOutput) Publish(snaps []calibration.Snapshot) error {
	for _, s := range snaps {
		m.announce(s)
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}
		token := m.client.Publish(formatTopic(m.stateTopic, s.Key), 0, false, b)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

// HandleCommands subscribes to the command topic. handler receives the
// measurement key taken from the + segment and returns the reply, which is
// published on the command topic with /result appended.
func (m *MQTTOutput) HandleCommands(handler func(key string, payload []byte) []byte) error {
	token := m.client.Subscribe(m.commandTopic, 1, func(c mqtt.Client, msg mqtt.Message) {
		key, ok := keyFromTopic(m.commandTopic, msg.Topic())
		if !ok {
			log.Printf("mqtt: ignoring command on %s", msg.Topic())
			return
		}
		// waiting on a token inside the router goroutine can deadlock paho
		topic, payload := msg.Topic(), msg.Payload()
		go func() {
			reply := handler(key, payload)
			if t := c.Publish(topic+replySuffix, 1, false, reply); t.Wait() && t.Error() != nil {
				log.Printf("mqtt: reply on %s: %v", topic, t.Error())
			}
		}()
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", m.commandTopic, err)
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Unsubscribe(m.commandTopic)
		m.client.Disconnect(250)
	}
	return nil
}

// formatTopic fills a %s formatter with the measurement key, or appends the key.
func formatTopic(base, key string) string {
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, key)
	}
	return strings.TrimSuffix(base, "/") + "/" + key
}

// keyFromTopic returns the segment of topic matching the single + wildcard of pattern.
func keyFromTopic(pattern, topic string) (string, bool) {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")
	if len(ps) != len(ts) {
		return "", false
	}
	key := ""
	for i := range ps {
		switch ps[i] {
		case "+":
			key = ts[i]
		default:
			if ps[i] != ts[i] {
				return "", false
			}
		}
	}
	return key, key != ""
}

func deviceClass(k calibration.Kind) string {
	switch k {
	case calibration.KindRelative:
		return "moisture"
	case calibration.KindTemperature:
		return "temperature"
	case calibration.KindCO2:
		return "carbon_dioxide"
	case calibration.KindParticulate:
		return "pm25"
	}
	return ""
}

func discoveryPayload(cfg config.MQTTConfig, s calibration.Snapshot, stateTopic string) map[string]interface{} {
	name := s.Name
	if cfg.DiscoveryName != "" {
		name = cfg.DiscoveryName + " " + s.Name
	}
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateValue,
		keyJSONAttributesTopic: stateTopic,
	}
	if uid != "" {
		payload[keyUniqueID] = uid + "_" + s.Key
	}
	if s.Unit != "" {
		payload[keyUnitOfMeasurement] = s.Unit
	}
	if dc := deviceClass(s.Kind); dc != "" {
		payload[keyDeviceClass] = dc
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
