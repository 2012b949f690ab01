package device

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the closed set of device kinds. Each kind carries
// only its own attributes; the kind is selected once at lookup time,
// never re-probed per operation.
type Kind string

// Supported device kinds.
const (
	KindLight          Kind = "light"
	KindFan            Kind = "fan"
	KindAirConditioner Kind = "air_conditioner"
	KindTelevision     Kind = "television"
	KindMeter          Kind = "meter"
	KindGeneric        Kind = "generic"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindLight, KindFan, KindAirConditioner, KindTelevision, KindMeter, KindGeneric:
		return true
	}
	return false
}

// Attributes is the per-kind attribute variant. Implementations are
// plain structs; ApplyTagValue mutates one attribute addressed by its
// broker tag suffix.
type Attributes interface {
	Kind() Kind

	// ApplyTagValue sets the attribute addressed by the tag suffix to
	// the (already coerced) value. Returns ErrUnknownAttribute if the
	// suffix does not belong to this kind.
	ApplyTagValue(suffix string, value any) error
}

// LightAttributes are the attributes of a dimmable colour light.
type LightAttributes struct {
	On         bool   `json:"on"`
	Brightness int    `json:"brightness"`
	Colour     string `json:"colour,omitempty"`
}

// Kind implements Attributes.
func (*LightAttributes) Kind() Kind { return KindLight }

// ApplyTagValue implements Attributes.
func (a *LightAttributes) ApplyTagValue(suffix string, value any) error {
	switch suffix {
	case "onoff":
		return assignBool(&a.On, value)
	case "Brightness":
		return assignInt(&a.Brightness, value)
	case "Color":
		return assignString(&a.Colour, value)
	default:
		return fmt.Errorf("%w: light has no %q", ErrUnknownAttribute, suffix)
	}
}

// FanAttributes are the attributes of a fan.
type FanAttributes struct {
	On    bool `json:"on"`
	Speed int  `json:"speed"`
	Swing bool `json:"swing"`
}

// Kind implements Attributes.
func (*FanAttributes) Kind() Kind { return KindFan }

// ApplyTagValue implements Attributes.
func (a *FanAttributes) ApplyTagValue(suffix string, value any) error {
	switch suffix {
	case "onoff":
		return assignBool(&a.On, value)
	case "speed":
		return assignInt(&a.Speed, value)
	case "shake":
		return assignBool(&a.Swing, value)
	default:
		return fmt.Errorf("%w: fan has no %q", ErrUnknownAttribute, suffix)
	}
}

// AirConditionerAttributes are the attributes of an air conditioner.
type AirConditionerAttributes struct {
	On          bool    `json:"on"`
	Temperature float64 `json:"temperature"`
	Speed       int     `json:"speed"`
	Swing       bool    `json:"swing"`
}

// Kind implements Attributes.
func (*AirConditionerAttributes) Kind() Kind { return KindAirConditioner }

// ApplyTagValue implements Attributes.
func (a *AirConditionerAttributes) ApplyTagValue(suffix string, value any) error {
	switch suffix {
	case "onoff":
		return assignBool(&a.On, value)
	case "set_temp":
		return assignFloat(&a.Temperature, value)
	case "speed":
		return assignInt(&a.Speed, value)
	case "shake":
		return assignBool(&a.Swing, value)
	default:
		return fmt.Errorf("%w: air conditioner has no %q", ErrUnknownAttribute, suffix)
	}
}

// TelevisionAttributes are the attributes of a television.
type TelevisionAttributes struct {
	On      bool `json:"on"`
	Volume  int  `json:"volume"`
	Channel int  `json:"channel"`
	Muted   bool `json:"muted"`
}

// Kind implements Attributes.
func (*TelevisionAttributes) Kind() Kind { return KindTelevision }

// ApplyTagValue implements Attributes.
func (a *TelevisionAttributes) ApplyTagValue(suffix string, value any) error {
	switch suffix {
	case "onoff":
		return assignBool(&a.On, value)
	case "volume":
		return assignInt(&a.Volume, value)
	case "channel":
		return assignInt(&a.Channel, value)
	case "mute":
		return assignBool(&a.Muted, value)
	default:
		return fmt.Errorf("%w: television has no %q", ErrUnknownAttribute, suffix)
	}
}

// MeterAttributes are the readings of a power meter.
type MeterAttributes struct {
	Power   float64 `json:"power"`
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
	Energy  float64 `json:"energy"`
}

// Kind implements Attributes.
func (*MeterAttributes) Kind() Kind { return KindMeter }

// ApplyTagValue implements Attributes.
func (a *MeterAttributes) ApplyTagValue(suffix string, value any) error {
	switch suffix {
	case "power":
		return assignFloat(&a.Power, value)
	case "voltage":
		return assignFloat(&a.Voltage, value)
	case "current":
		return assignFloat(&a.Current, value)
	case "energy":
		return assignFloat(&a.Energy, value)
	default:
		return fmt.Errorf("%w: meter has no %q", ErrUnknownAttribute, suffix)
	}
}

// GenericAttributes cover devices that only switch on and off.
type GenericAttributes struct {
	On bool `json:"on"`
}

// Kind implements Attributes.
func (*GenericAttributes) Kind() Kind { return KindGeneric }

// ApplyTagValue implements Attributes.
func (a *GenericAttributes) ApplyTagValue(suffix string, value any) error {
	if suffix == "onoff" {
		return assignBool(&a.On, value)
	}
	return fmt.Errorf("%w: generic device has no %q", ErrUnknownAttribute, suffix)
}

// Device is one controllable appliance or sensor.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Room string `json:"room,omitempty"`

	// Tag is the broker tag prefix for this device (for example
	// "home.light01"). Empty for devices with no broker binding;
	// such devices cannot be commanded.
	Tag string `json:"tag,omitempty"`

	Attributes Attributes `json:"attributes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAttributes returns the zero attribute variant for a kind.
func NewAttributes(kind Kind) (Attributes, error) {
	switch kind {
	case KindLight:
		return &LightAttributes{}, nil
	case KindFan:
		return &FanAttributes{}, nil
	case KindAirConditioner:
		return &AirConditionerAttributes{}, nil
	case KindTelevision:
		return &TelevisionAttributes{}, nil
	case KindMeter:
		return &MeterAttributes{}, nil
	case KindGeneric:
		return &GenericAttributes{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}

// unmarshalAttributes decodes a stored attribute document into the
// variant for the given kind.
func unmarshalAttributes(kind Kind, data []byte) (Attributes, error) {
	attrs, err := NewAttributes(kind)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(data, attrs); err != nil {
		return nil, fmt.Errorf("decoding %s attributes: %w", kind, err)
	}
	return attrs, nil
}

// UnmarshalJSON decodes a Device, selecting the attribute variant from
// the kind field.
func (d *Device) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Kind       Kind            `json:"kind"`
		Room       string          `json:"room"`
		Tag        string          `json:"tag"`
		Attributes json.RawMessage `json:"attributes"`
		CreatedAt  time.Time       `json:"created_at"`
		UpdatedAt  time.Time       `json:"updated_at"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	attrs, err := unmarshalAttributes(a.Kind, a.Attributes)
	if err != nil {
		return err
	}

	*d = Device{
		ID:         a.ID,
		Name:       a.Name,
		Kind:       a.Kind,
		Room:       a.Room,
		Tag:        a.Tag,
		Attributes: attrs,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
	return nil
}

// ─── attribute assignment helpers ───

func assignBool(dst *bool, value any) error {
	v, ok := value.(bool)
	if !ok {
		return fmt.Errorf("%w: expected bool, got %T", ErrInvalidValue, value)
	}
	*dst = v
	return nil
}

func assignInt(dst *int, value any) error {
	switch v := value.(type) {
	case int:
		*dst = v
	case float64:
		*dst = int(v)
	default:
		return fmt.Errorf("%w: expected number, got %T", ErrInvalidValue, value)
	}
	return nil
}

func assignFloat(dst *float64, value any) error {
	switch v := value.(type) {
	case float64:
		*dst = v
	case int:
		*dst = float64(v)
	default:
		return fmt.Errorf("%w: expected number, got %T", ErrInvalidValue, value)
	}
	return nil
}

func assignString(dst *string, value any) error {
	v, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: expected string, got %T", ErrInvalidValue, value)
	}
	*dst = v
	return nil
}
