package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueKind tags the concrete variant of a FieldValue.
type ValueKind string

const (
	KindText       ValueKind = "text"
	KindNumber     ValueKind = "number"
	KindDate       ValueKind = "date"
	KindChoice     ValueKind = "choice"
	KindChoiceList ValueKind = "choice_list"
)

// FieldValue is a typed form value.  The variant is fixed by the declared
// FieldType of the field it belongs to.
type FieldValue interface {
	Kind() ValueKind
}

type (
	// TextValue holds text, textarea, email and phone values.
	TextValue string
	// NumberValue holds number values.
	NumberValue float64
	// ChoiceValue holds a single select or radio option.
	ChoiceValue string
	// ChoiceListValue holds checkbox selections.
	ChoiceListValue []string
)

// DateValue holds a calendar date (UTC midnight for date-only input).
type DateValue struct{ time.Time }

func (TextValue) Kind() ValueKind       { return KindText }
func (NumberValue) Kind() ValueKind     { return KindNumber }
func (DateValue) Kind() ValueKind       { return KindDate }
func (ChoiceValue) Kind() ValueKind     { return KindChoice }
func (ChoiceListValue) Kind() ValueKind { return KindChoiceList }

const dateLayout = "2006-01-02"

// MarshalJSON renders date-only values as YYYY-MM-DD and others as RFC3339.
func (d DateValue) MarshalJSON() ([]byte, error) {
	t := d.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return json.Marshal(t.Format(dateLayout))
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// KindFor returns the value variant stored for a field type.
func KindFor(t FieldType) ValueKind {
	switch t {
	case FieldNumber:
		return KindNumber
	case FieldDate:
		return KindDate
	case FieldSelect, FieldRadio:
		return KindChoice
	case FieldCheckbox:
		return KindChoiceList
	}
	return KindText
}

// EncodeFieldValue serializes v for storage in the value column.
func EncodeFieldValue(v FieldValue) (ValueKind, []byte, error) {
	if v == nil {
		return "", nil, fmt.Errorf("encode field value: nil")
	}
	var payload any
	switch x := v.(type) {
	case TextValue:
		payload = string(x)
	case NumberValue:
		payload = float64(x)
	case DateValue:
		payload = x.UTC().Format(time.RFC3339Nano)
	case ChoiceValue:
		payload = string(x)
	case ChoiceListValue:
		payload = []string(x)
	default:
		return "", nil, fmt.Errorf("encode field value: unsupported %T", v)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}
	return v.Kind(), raw, nil
}

// DecodeFieldValue is the inverse of EncodeFieldValue.
func DecodeFieldValue(kind ValueKind, raw []byte) (FieldValue, error) {
	switch kind {
	case KindText, KindChoice:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", kind, err)
		}
		if kind == KindChoice {
			return ChoiceValue(s), nil
		}
		return TextValue(s), nil
	case KindNumber:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode number value: %w", err)
		}
		return NumberValue(f), nil
	case KindDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode date value: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("decode date value: %w", err)
		}
		return DateValue{t.UTC()}, nil
	case KindChoiceList:
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode choice list: %w", err)
		}
		return ChoiceListValue(list), nil
	}
	return nil, fmt.Errorf("decode field value: unknown kind %q", kind)
}
