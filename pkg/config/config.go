package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	CommandTopic      string `json:"command_topic" yaml:"command_topic"`
	DiscoveryTopic    string `json:"discovery_topic" yaml:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name" yaml:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id" yaml:"discovery_unique_id"`
}

type OutputConfig struct {
	Type       string      `json:"type" yaml:"type"`
	IntervalMs int         `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	MQTT       *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

type I2CConfig struct {
	Bus     string `json:"bus" yaml:"bus"`
	Address int    `json:"address" yaml:"address"`
}

type ThresholdConfig struct {
	YellowLow  float64 `json:"yellow_low" yaml:"yellow_low"`
	GreenLow   float64 `json:"green_low" yaml:"green_low"`
	GreenHigh  float64 `json:"green_high" yaml:"green_high"`
	YellowHigh float64 `json:"yellow_high" yaml:"yellow_high"`
}

// ChannelConfig maps an ADC channel to a measurement and holds the defaults
// applied when the measurement is provisioned for the first time.
type ChannelConfig struct {
	Channel           int     `json:"channel" yaml:"channel"`
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	SampleRate        int     `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	CalibrationScale  float64 `json:"calibration_scale,omitempty" yaml:"calibration_scale,omitempty"`
	CalibrationOffset float64 `json:"calibration_offset,omitempty" yaml:"calibration_offset,omitempty"`

	SensorID        string           `json:"sensor_id,omitempty" yaml:"sensor_id,omitempty"`
	Index           int              `json:"index,omitempty" yaml:"index,omitempty"`
	Name            string           `json:"name,omitempty" yaml:"name,omitempty"`
	Unit            string           `json:"unit,omitempty" yaml:"unit,omitempty"`
	Kind            string           `json:"kind,omitempty" yaml:"kind,omitempty"`
	Expression      string           `json:"expression,omitempty" yaml:"expression,omitempty"`
	Thresholds      *ThresholdConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Min             int              `json:"min,omitempty" yaml:"min,omitempty"`
	Max             int              `json:"max,omitempty" yaml:"max,omitempty"`
	Inverted        bool             `json:"inverted,omitempty" yaml:"inverted,omitempty"`
	CalibrationMode bool             `json:"calibration_mode,omitempty" yaml:"calibration_mode,omitempty"`
	AutocalDuration int              `json:"autocal_duration,omitempty" yaml:"autocal_duration,omitempty"`
	IntervalSeconds int              `json:"interval_seconds,omitempty" yaml:"interval_seconds,omitempty"`
	WarmupSeconds   int              `json:"warmup_seconds,omitempty" yaml:"warmup_seconds,omitempty"`
}

type Config struct {
	I2C           I2CConfig       `json:"i2c" yaml:"i2c"`
	SampleRate    int             `json:"sample_rate" yaml:"sample_rate"`
	Outputs       []OutputConfig  `json:"outputs" yaml:"outputs"`
	SensorType    string          `json:"sensor_type" yaml:"sensor_type"`
	Channels      []ChannelConfig `json:"channels" yaml:"channels"`
	IntervalMs    int             `json:"interval_ms" yaml:"interval_ms"`
	ReadTimeoutMs int             `json:"read_timeout_ms" yaml:"read_timeout_ms"`
	StorePath     string          `json:"store_path" yaml:"store_path"`
	HTTPAddr      string          `json:"http_addr" yaml:"http_addr"`
	AutocalPolicy string          `json:"autocal_policy" yaml:"autocal_policy"`
}

func DefaultConfig() Config {
	return Config{
		I2C:           I2CConfig{Bus: "2", Address: 0x48},
		SampleRate:    128,
		Outputs:       []OutputConfig{{Type: "console", IntervalMs: 1000}},
		SensorType:    "real",
		Channels:      DefaultChannels(),
		IntervalMs:    1000,
		ReadTimeoutMs: 500,
		StorePath:     "calibration.db",
		HTTPAddr:      ":8080",
		AutocalPolicy: "continuous",
	}
}

// DefaultChannels provisions the four ADS1115 inputs as soil moisture probes.
// Capacitive probes read lower when wet, hence inverted.
func DefaultChannels() []ChannelConfig {
	out := make([]ChannelConfig, 0, 4)
	for ch := 0; ch < 4; ch++ {
		out = append(out, ChannelConfig{
			Channel:         ch,
			Enabled:         ch == 0,
			SensorID:        "ANALOG",
			Index:           ch,
			Name:            fmt.Sprintf("Soil moisture %d", ch+1),
			Unit:            "%",
			Kind:            "relative",
			Thresholds:      &ThresholdConfig{YellowLow: 10, GreenLow: 30, GreenHigh: 70, YellowHigh: 90},
			Min:             8000,
			Max:             20000,
			Inverted:        true,
			AutocalDuration: 86400,
			IntervalSeconds: 60,
		})
	}
	return out
}

// LoadFromFlags loads configuration from a JSON or YAML file (optional) and flags.
// Flags override values present in the file.
func LoadFromFlags() (Config, error) {
	return Load(os.Args[1:])
}

func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("plant-autocal", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '2' -> /dev/i2c-2)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagSampleRate := fs.Int("sample-rate", -1, "ADS1115 sample rate (SPS)")
	flagCalibration := fs.Float64("calibration", math.NaN(), "Calibration scale factor applied to every channel")
	flagCalOffset := fs.Float64("calibration-offset", math.NaN(), "Calibration offset applied to every channel")
	flagChannelScales := fs.String("channel-scales", "", "Per-channel scale, e.g. 0=1.0,1=0.98")
	flagChannelOffsets := fs.String("channel-offsets", "", "Per-channel offset, e.g. 0=0.12,1=-0.05")
	flagChannelRates := fs.String("channel-sample-rates", "", "Per-channel sample rate, e.g. 0=128,1=250")
	flagChannelInverted := fs.String("channel-inverted", "", "Per-channel inversion, e.g. 0=true,1=false")
	flagChannelAutocal := fs.String("channel-autocal", "", "Per-channel calibration mode, e.g. 0=true")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagChannels := fs.String("channels", "", "Comma-separated enabled channels e.g. 0,1,2,3")
	flagInterval := fs.Int("interval-ms", -1, "Publish interval in ms")
	flagReadTimeout := fs.Int("read-timeout-ms", -1, "Upper bound for a single ADC read in ms")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic (use %s for the measurement key)")
	flagCommandTopic := fs.String("mqtt-command-topic", "", "MQTT command topic (use + for the measurement key)")
	flagStore := fs.String("store", "", "Path of the calibration database")
	flagHTTP := fs.String("http", "", "HTTP listen address (empty to disable)")
	flagPolicy := fs.String("autocal-policy", "", "autocal policy: continuous|freeze")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := readFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if *flagI2CBus != "" {
		cfg.I2C.Bus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.I2C.Address = v
	}
	if *flagSampleRate != -1 {
		cfg.SampleRate = *flagSampleRate
	}
	if !math.IsNaN(*flagCalibration) {
		for i := range cfg.Channels {
			cfg.Channels[i].CalibrationScale = *flagCalibration
		}
	}
	if !math.IsNaN(*flagCalOffset) {
		for i := range cfg.Channels {
			cfg.Channels[i].CalibrationOffset = *flagCalOffset
		}
	}
	if err := applyChannelFlags(&cfg, *flagChannelScales, *flagChannelOffsets, *flagChannelRates, *flagChannelInverted, *flagChannelAutocal); err != nil {
		return cfg, err
	}
	if *flagOutputs != "" {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: p, IntervalMs: cfg.IntervalMs})
		}
		cfg.Outputs = outs
	}
	if *flagOutputIntervals != "" {
		for _, p := range parseCSV(*flagOutputIntervals) {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
			if err != nil {
				continue
			}
			for i := range cfg.Outputs {
				if cfg.Outputs[i].Type == strings.TrimSpace(kv[0]) {
					cfg.Outputs[i].IntervalMs = v
				}
			}
		}
	}
	mqttFlags := MQTTConfig{
		Server:       *flagMQTTServer,
		Username:     *flagMQTTUser,
		Password:     *flagMQTTPass,
		ClientID:     *flagClientID,
		StateTopic:   *flagTopic,
		CommandTopic: *flagCommandTopic,
	}
	if mqttFlags != (MQTTConfig{}) {
		applyMQTTFlags(&cfg, mqttFlags)
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagChannels != "" {
		chs, err := parseChannels(*flagChannels)
		if err != nil {
			return cfg, err
		}
		enableChannels(&cfg, chs)
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagReadTimeout != -1 {
		cfg.ReadTimeoutMs = *flagReadTimeout
	}
	if *flagStore != "" {
		cfg.StorePath = *flagStore
	}
	if *flagHTTP != "" {
		cfg.HTTPAddr = *flagHTTP
	}
	if *flagPolicy != "" {
		cfg.AutocalPolicy = *flagPolicy
	}
	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	if cfg.SampleRate <= 0 {
		return cfg, errors.New("sample-rate must be > 0")
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// applyMQTTFlags applies MQTT flags to all mqtt outputs; if none exist, one is created.
func applyMQTTFlags(cfg *Config, f MQTTConfig) {
	merge := func(dst *MQTTConfig) {
		if f.Server != "" {
			dst.Server = f.Server
		}
		if f.Username != "" {
			dst.Username = f.Username
		}
		if f.Password != "" {
			dst.Password = f.Password
		}
		if f.ClientID != "" {
			dst.ClientID = f.ClientID
		}
		if f.StateTopic != "" {
			dst.StateTopic = f.StateTopic
		}
		if f.CommandTopic != "" {
			dst.CommandTopic = f.CommandTopic
		}
	}
	applied := false
	for i := range cfg.Outputs {
		if strings.ToLower(cfg.Outputs[i].Type) != "mqtt" {
			continue
		}
		if cfg.Outputs[i].MQTT == nil {
			cfg.Outputs[i].MQTT = &MQTTConfig{}
		}
		merge(cfg.Outputs[i].MQTT)
		applied = true
	}
	if !applied {
		out := OutputConfig{Type: "mqtt", IntervalMs: cfg.IntervalMs, MQTT: &MQTTConfig{}}
		merge(out.MQTT)
		cfg.Outputs = append(cfg.Outputs, out)
	}
}

func applyChannelFlags(cfg *Config, scales, offsets, rates, inverted, autocal string) error {
	sc, err := parseKeyFloatMap(scales)
	if err != nil {
		return fmt.Errorf("channel-scales: %w", err)
	}
	off, err := parseKeyFloatMap(offsets)
	if err != nil {
		return fmt.Errorf("channel-offsets: %w", err)
	}
	sr, err := parseKeyIntMap(rates)
	if err != nil {
		return fmt.Errorf("channel-sample-rates: %w", err)
	}
	inv, err := parseKeyBoolMap(inverted)
	if err != nil {
		return fmt.Errorf("channel-inverted: %w", err)
	}
	ac, err := parseKeyBoolMap(autocal)
	if err != nil {
		return fmt.Errorf("channel-autocal: %w", err)
	}
	for i := range cfg.Channels {
		c := &cfg.Channels[i]
		if v, ok := sc[c.Channel]; ok {
			c.CalibrationScale = v
		}
		if v, ok := off[c.Channel]; ok {
			c.CalibrationOffset = v
		}
		if v, ok := sr[c.Channel]; ok {
			c.SampleRate = v
		}
		if v, ok := inv[c.Channel]; ok {
			c.Inverted = v
		}
		if v, ok := ac[c.Channel]; ok {
			c.CalibrationMode = v
		}
	}
	return nil
}

// enableChannels enables exactly the listed channels, adding default entries
// for channels the config does not know yet.
func enableChannels(cfg *Config, chs []int) {
	want := make(map[int]bool, len(chs))
	for _, ch := range chs {
		want[ch] = true
	}
	seen := make(map[int]bool)
	for i := range cfg.Channels {
		cfg.Channels[i].Enabled = want[cfg.Channels[i].Channel]
		seen[cfg.Channels[i].Channel] = true
	}
	defaults := DefaultChannels()
	for _, ch := range chs {
		if seen[ch] {
			continue
		}
		c := ChannelConfig{Channel: ch, SensorID: "ANALOG", Index: ch, Name: fmt.Sprintf("Analog %d", ch), Kind: "relative"}
		if ch >= 0 && ch < len(defaults) {
			c = defaults[ch]
		}
		c.Enabled = true
		cfg.Channels = append(cfg.Channels, c)
		seen[ch] = true
	}
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseChannels(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t == "" {
			continue
		}
		v, err := strconv.Atoi(t)
		if err != nil {
			return nil, fmt.Errorf("invalid channel '%s': %w", t, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseKeyValues splits "k=v,k=v" into channel keyed raw values.
func parseKeyValues(s string) (map[int]string, error) {
	out := map[int]string{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry '%s': want channel=value", p)
		}
		k, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid channel '%s': %w", kv[0], err)
		}
		out[k] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

func parseKeyFloatMap(s string) (map[int]float64, error) {
	raw, err := parseKeyValues(s)
	if err != nil {
		return nil, err
	}
	out := make(map[int]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for channel %d: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

func parseKeyIntMap(s string) (map[int]int, error) {
	raw, err := parseKeyValues(s)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for channel %d: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func parseKeyBoolMap(s string) (map[int]bool, error) {
	raw, err := parseKeyValues(s)
	if err != nil {
		return nil, err
	}
	out := make(map[int]bool, len(raw))
	for k, v := range raw {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for channel %d: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}
