package workflow

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// Field rejection reasons reported in ValidationError.Fields.
const (
	reasonUnknownField    = "unknown_field"
	reasonFileField       = "file_field"
	reasonRequired        = "required"
	reasonNotString       = "not_a_string"
	reasonTooShort        = "too_short"
	reasonTooLong         = "too_long"
	reasonPattern         = "pattern_mismatch"
	reasonNotNumber       = "not_a_number"
	reasonBelowMin        = "below_min"
	reasonAboveMax        = "above_max"
	reasonInvalidDate     = "invalid_date"
	reasonInvalidOption   = "invalid_option"
	reasonInvalidEmail    = "invalid_email"
	reasonInvalidPhone    = "invalid_phone"
	reasonAlreadyApproved = "already_approved"
	reasonCorrection      = "correction_required"
	reasonNotApproved     = "not_approved"
)

// ValidateValue checks raw against the field definition and returns the
// typed value.  A nil value with an empty reason means the input counts as
// absent.
func ValidateValue(f model.StepField, raw any) (model.FieldValue, string) {
	if isAbsent(raw) {
		return nil, ""
	}
	switch f.Type {
	case model.FieldText, model.FieldTextarea, model.FieldEmail, model.FieldPhone:
		s, ok := raw.(string)
		if !ok {
			return nil, reasonNotString
		}
		s = strings.TrimSpace(s)
		if r := checkLength(f, s); r != "" {
			return nil, r
		}
		switch f.Type {
		case model.FieldEmail:
			if !validEmail(s) {
				return nil, reasonInvalidEmail
			}
		case model.FieldPhone:
			if !validPhone(s) {
				return nil, reasonInvalidPhone
			}
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil || !re.MatchString(s) {
				return nil, reasonPattern
			}
		}
		return model.TextValue(s), ""

	case model.FieldNumber:
		n, ok := toNumber(raw)
		if !ok {
			return nil, reasonNotNumber
		}
		if f.MinValue != nil && n < *f.MinValue {
			return nil, reasonBelowMin
		}
		if f.MaxValue != nil && n > *f.MaxValue {
			return nil, reasonAboveMax
		}
		return model.NumberValue(n), ""

	case model.FieldDate:
		s, ok := raw.(string)
		if !ok {
			return nil, reasonInvalidDate
		}
		t, err := parseDate(strings.TrimSpace(s))
		if err != nil {
			return nil, reasonInvalidDate
		}
		return model.DateValue{Time: t}, ""

	case model.FieldSelect, model.FieldRadio:
		s, ok := raw.(string)
		if !ok {
			return nil, reasonNotString
		}
		if !contains(f.Options, s) {
			return nil, reasonInvalidOption
		}
		return model.ChoiceValue(s), ""

	case model.FieldCheckbox:
		list, ok := toStrings(raw)
		if !ok {
			return nil, reasonInvalidOption
		}
		seen := make(map[string]bool, len(list))
		for _, s := range list {
			if seen[s] || !contains(f.Options, s) {
				return nil, reasonInvalidOption
			}
			seen[s] = true
		}
		return model.ChoiceListValue(list), ""

	case model.FieldFile:
		return nil, reasonFileField
	}
	return nil, reasonUnknownField
}

// parseSubmission validates a key-to-raw-value map against the effective
// fields of a step.  Absent values are dropped from the result.
func parseSubmission(fields []model.StepField, values map[string]any) (map[uint64]model.FieldValue, *model.ValidationError) {
	byKey := make(map[string]model.StepField, len(fields))
	for _, f := range fields {
		byKey[f.Key] = f
	}
	out := make(map[uint64]model.FieldValue, len(values))
	problems := map[string]string{}
	for key, raw := range values {
		f, ok := byKey[key]
		if !ok {
			problems[key] = reasonUnknownField
			continue
		}
		if f.Type == model.FieldFile {
			problems[key] = reasonFileField
			continue
		}
		v, reason := ValidateValue(f, raw)
		if reason != "" {
			problems[key] = reason
			continue
		}
		if v != nil {
			out[f.ID] = v
		}
	}
	if len(problems) > 0 {
		return nil, &model.ValidationError{Message: "invalid field values", Fields: problems}
	}
	return out, nil
}

func isAbsent(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}
	return false
}

func checkLength(f model.StepField, s string) string {
	n := utf8.RuneCountInString(s)
	if f.MinLength != nil && n < *f.MinLength {
		return reasonTooShort
	}
	if f.MaxLength != nil && n > *f.MaxLength {
		return reasonTooLong
	}
	return ""
}

func toNumber(raw any) (float64, bool) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func toStrings(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func contains(list []string, s string) bool {
	for _, o := range list {
		if o == s {
			return true
		}
	}
	return false
}

func validEmail(s string) bool {
	if strings.Count(s, "@") != 1 || strings.ContainsFunc(s, unicode.IsSpace) {
		return false
	}
	local, domain, _ := strings.Cut(s, "@")
	if local == "" || domain == "" {
		return false
	}
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1
}

func validPhone(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ', r == '+', r == '-', r == '(', r == ')':
		default:
			return false
		}
	}
	return digits >= 6 && digits <= 20
}
