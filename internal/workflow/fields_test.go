package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

func TestValidateValue(t *testing.T) {
	three, five := 3, 5
	low, high := 1.5, 10.0
	text := model.StepField{Key: "code", Type: model.FieldText, MinLength: &three, MaxLength: &five, Pattern: `^[A-Z]+$`}
	number := model.StepField{Key: "n", Type: model.FieldNumber, MinValue: &low, MaxValue: &high}
	choice := model.StepField{Key: "c", Type: model.FieldRadio, Options: []string{"yes", "no"}}
	boxes := model.StepField{Key: "b", Type: model.FieldCheckbox, Options: []string{"a", "b", "c"}}

	cases := []struct {
		name   string
		field  model.StepField
		raw    any
		want   model.FieldValue
		reason string
	}{
		{"absent nil", text, nil, nil, ""},
		{"absent blank", text, "   ", nil, ""},
		{"text ok", text, " ABCD ", model.TextValue("ABCD"), ""},
		{"text too short", text, "AB", nil, reasonTooShort},
		{"text too long", text, "ABCDEF", nil, reasonTooLong},
		{"length in runes", model.StepField{Type: model.FieldText, MaxLength: &three}, "ééé", model.TextValue("ééé"), ""},
		{"pattern", text, "abcd", nil, reasonPattern},
		{"number from json", number, 2.5, model.NumberValue(2.5), ""},
		{"number from string", number, "7", model.NumberValue(7), ""},
		{"number json.Number", number, json.Number("3"), model.NumberValue(3), ""},
		{"number below", number, 1.0, nil, reasonBelowMin},
		{"number above", number, 11, nil, reasonAboveMax},
		{"number garbage", number, "seven", nil, reasonNotNumber},
		{"date", model.StepField{Type: model.FieldDate}, "2024-02-29",
			model.DateValue{Time: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)}, ""},
		{"date rfc3339", model.StepField{Type: model.FieldDate}, "2024-02-29T10:00:00+02:00",
			model.DateValue{Time: time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)}, ""},
		{"date invalid", model.StepField{Type: model.FieldDate}, "29/02/2024", nil, reasonInvalidDate},
		{"radio ok", choice, "yes", model.ChoiceValue("yes"), ""},
		{"radio unknown", choice, "maybe", nil, reasonInvalidOption},
		{"radio not a string", choice, true, nil, reasonNotString},
		{"checkbox empty is absent", boxes, []any{}, nil, ""},
		{"checkbox duplicate", boxes, []any{"a", "a"}, nil, reasonInvalidOption},
		{"checkbox unknown", boxes, []any{"a", "z"}, nil, reasonInvalidOption},
		{"checkbox mixed", boxes, []any{"a", 1}, nil, reasonInvalidOption},
		{"email ok", model.StepField{Type: model.FieldEmail}, "a.b@example.co", model.TextValue("a.b@example.co"), ""},
		{"email no domain dot", model.StepField{Type: model.FieldEmail}, "a@localhost", nil, reasonInvalidEmail},
		{"email two ats", model.StepField{Type: model.FieldEmail}, "a@b@c.io", nil, reasonInvalidEmail},
		{"phone ok", model.StepField{Type: model.FieldPhone}, "+1 (555) 010-9999", model.TextValue("+1 (555) 010-9999"), ""},
		{"phone too few digits", model.StepField{Type: model.FieldPhone}, "12-34", nil, reasonInvalidPhone},
		{"file", model.StepField{Type: model.FieldFile}, "x.pdf", nil, reasonFileField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := ValidateValue(tc.field, tc.raw)
			if reason != tc.reason {
				t.Fatalf("reason = %q, want %q", reason, tc.reason)
			}
			if tc.want == nil {
				if got != nil {
					t.Fatalf("expected no value, got %#v", got)
				}
				return
			}
			if d, ok := tc.want.(model.DateValue); ok {
				gd, ok := got.(model.DateValue)
				if !ok || !gd.Equal(d.Time) {
					t.Fatalf("got %#v, want %v", got, d)
				}
				return
			}
			if got != tc.want {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestValidateCheckboxKeepsOrder(t *testing.T) {
	f := model.StepField{Type: model.FieldCheckbox, Options: []string{"a", "b", "c"}}
	got, reason := ValidateValue(f, []any{"c", "a"})
	if reason != "" {
		t.Fatalf("unexpected reason %q", reason)
	}
	list, ok := got.(model.ChoiceListValue)
	if !ok || len(list) != 2 || list[0] != "c" || list[1] != "a" {
		t.Fatalf("got %#v", got)
	}
}
