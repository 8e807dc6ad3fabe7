package config

import (
	"reflect"
	"testing"
)

func TestParseKeyFloatMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[int]float64
		ok   bool
	}{
		{"", map[int]float64{}, true},
		{"0=0.0078125,1=1", map[int]float64{0: 0.0078125, 1: 1}, true},
		{" 2 = -40 , 3 = 0.5", map[int]float64{2: -40, 3: 0.5}, true},
		{"0=wet", nil, false},
		{"soil", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyFloatMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyFloatMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyFloatMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseKeyIntMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[int]int
		ok   bool
	}{
		{"", map[int]int{}, true},
		{"0=128,1=860", map[int]int{0: 128, 1: 860}, true},
		{"x=8", nil, false},
		{"1", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyIntMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyIntMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyIntMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseKeyBoolMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[int]bool
		ok   bool
	}{
		{"", map[int]bool{}, true},
		{"0=true,3=false", map[int]bool{0: true, 3: false}, true},
		{"0=maybe", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyBoolMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyBoolMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyBoolMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseChannelsAndAddress(t *testing.T) {
	chs, err := parseChannels(" 0, 2,,3 ")
	if err != nil || !reflect.DeepEqual(chs, []int{0, 2, 3}) {
		t.Fatalf("parseChannels: %v %v", chs, err)
	}
	if _, err := parseChannels("0,a"); err == nil {
		t.Fatalf("parseChannels accepted a non-number")
	}
	for in, want := range map[string]int{"0x48": 72, "0X49": 73, "75": 75} {
		if got, err := parseIntOrHex(in); err != nil || got != want {
			t.Fatalf("parseIntOrHex(%q) = %d, %v", in, got, err)
		}
	}
}
