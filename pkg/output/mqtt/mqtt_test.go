package mqtt

import (
	"testing"

	"github.com/ericogr/plant-autocal/pkg/calibration"
	"github.com/ericogr/plant-autocal/pkg/config"
)

func TestFormatTopic(t *testing.T) {
	tests := []struct {
		base, key, want string
	}{
		{"plantsensor/%s", "ANALOG_0", "plantsensor/ANALOG_0"},
		{"homeassistant/sensor/%s/config", "ANALOG_1", "homeassistant/sensor/ANALOG_1/config"},
		{"greenhouse/", "ANALOG_2", "greenhouse/ANALOG_2"},
	}
	for _, tt := range tests {
		if got := formatTopic(tt.base, tt.key); got != tt.want {
			t.Fatalf("formatTopic(%q, %q) = %q want %q", tt.base, tt.key, got, tt.want)
		}
	}
}

func TestKeyFromTopic(t *testing.T) {
	tests := []struct {
		pattern, topic, key string
		ok                  bool
	}{
		{"plantsensor/+/set", "plantsensor/ANALOG_0/set", "ANALOG_0", true},
		{"plantsensor/+/set", "plantsensor/ANALOG_0/set/result", "", false},
		{"plantsensor/+/set", "other/ANALOG_0/set", "", false},
		{"plantsensor/+/set", "plantsensor//set", "", false},
	}
	for _, tt := range tests {
		key, ok := keyFromTopic(tt.pattern, tt.topic)
		if key != tt.key || ok != tt.ok {
			t.Fatalf("keyFromTopic(%q) = %q,%v want %q,%v", tt.topic, key, ok, tt.key, tt.ok)
		}
	}
}

func TestDiscoveryPayload(t *testing.T) {
	cfg := config.MQTTConfig{ClientID: "pi", DiscoveryName: "Greenhouse"}
	s := calibration.Snapshot{Key: "ANALOG_0", Name: "Basil", Unit: "%", Kind: calibration.KindRelative}
	p := discoveryPayload(cfg, s, "plantsensor/ANALOG_0")
	want := map[string]interface{}{
		keyName:                "Greenhouse Basil",
		keyUniqueID:            "pi_ANALOG_0",
		keyUnitOfMeasurement:   "%",
		keyDeviceClass:         "moisture",
		keyValueTemplate:       valueTemplateValue,
		keyJSONAttributesTopic: "plantsensor/ANALOG_0",
	}
	for k, v := range want {
		if p[k] != v {
			t.Fatalf("%s: got %v want %v", k, p[k], v)
		}
	}
	if _, ok := discoveryPayload(config.MQTTConfig{}, calibration.Snapshot{Kind: calibration.KindGeneric}, "x")[keyDeviceClass]; ok {
		t.Fatalf("generic kind must not set a device class")
	}
}
