package device

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestKind_Valid(t *testing.T) {
	for _, k := range []Kind{KindLight, KindFan, KindAirConditioner, KindTelevision, KindMeter, KindGeneric} {
		if !k.Valid() {
			t.Errorf("Kind(%q).Valid() = false", k)
		}
	}
	if Kind("toaster").Valid() {
		t.Error("Kind(toaster).Valid() = true")
	}
}

func TestApplyTagValue(t *testing.T) {
	tests := []struct {
		name    string
		attrs   Attributes
		suffix  string
		value   any
		wantErr error
		check   func(Attributes) bool
	}{
		{
			name:   "light brightness",
			attrs:  &LightAttributes{},
			suffix: "Brightness",
			value:  80,
			check:  func(a Attributes) bool { return a.(*LightAttributes).Brightness == 80 },
		},
		{
			name:   "light brightness from float",
			attrs:  &LightAttributes{},
			suffix: "Brightness",
			value:  float64(80),
			check:  func(a Attributes) bool { return a.(*LightAttributes).Brightness == 80 },
		},
		{
			name:   "light colour",
			attrs:  &LightAttributes{},
			suffix: "Color",
			value:  "#ff8800",
			check:  func(a Attributes) bool { return a.(*LightAttributes).Colour == "#ff8800" },
		},
		{
			name:   "fan swing",
			attrs:  &FanAttributes{},
			suffix: "shake",
			value:  true,
			check:  func(a Attributes) bool { return a.(*FanAttributes).Swing },
		},
		{
			name:   "air conditioner temperature",
			attrs:  &AirConditionerAttributes{},
			suffix: "set_temp",
			value:  21.5,
			check:  func(a Attributes) bool { return a.(*AirConditionerAttributes).Temperature == 21.5 },
		},
		{
			name:   "television mute",
			attrs:  &TelevisionAttributes{},
			suffix: "mute",
			value:  true,
			check:  func(a Attributes) bool { return a.(*TelevisionAttributes).Muted },
		},
		{
			name:   "meter power",
			attrs:  &MeterAttributes{},
			suffix: "power",
			value:  1250.5,
			check:  func(a Attributes) bool { return a.(*MeterAttributes).Power == 1250.5 },
		},
		{
			name:   "generic onoff",
			attrs:  &GenericAttributes{},
			suffix: "onoff",
			value:  true,
			check:  func(a Attributes) bool { return a.(*GenericAttributes).On },
		},
		{
			name:    "unknown suffix for kind",
			attrs:   &LightAttributes{},
			suffix:  "set_temp",
			value:   21.5,
			wantErr: ErrUnknownAttribute,
		},
		{
			name:    "wrong value type",
			attrs:   &LightAttributes{},
			suffix:  "onoff",
			value:   "definitely",
			wantErr: ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.attrs.ApplyTagValue(tt.suffix, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ApplyTagValue() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyTagValue() error = %v", err)
			}
			if !tt.check(tt.attrs) {
				t.Errorf("attribute not applied: %+v", tt.attrs)
			}
		})
	}
}

func TestNewAttributes_UnknownKind(t *testing.T) {
	if _, err := NewAttributes("toaster"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("NewAttributes() error = %v, want ErrInvalidKind", err)
	}
}

func TestDevice_UnmarshalJSON_SelectsVariant(t *testing.T) {
	raw := `{
		"id": "dev-1",
		"name": "Bedroom AC",
		"kind": "air_conditioner",
		"tag": "home.ac01",
		"attributes": {"on": true, "temperature": 22.5, "speed": 2, "swing": false}
	}`

	var d Device
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	attrs, ok := d.Attributes.(*AirConditionerAttributes)
	if !ok {
		t.Fatalf("Attributes type = %T, want *AirConditionerAttributes", d.Attributes)
	}
	if !attrs.On || attrs.Temperature != 22.5 || attrs.Speed != 2 {
		t.Errorf("attributes = %+v", attrs)
	}
}

func TestDevice_UnmarshalJSON_UnknownKind(t *testing.T) {
	var d Device
	err := json.Unmarshal([]byte(`{"kind":"toaster","attributes":{}}`), &d)
	if !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Unmarshal() error = %v, want ErrInvalidKind", err)
	}
}
