package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/vitwit/apmkit/types"
)

var (
	digitsPattern = regexp.MustCompile(`^\d+$`)
	phonePattern  = regexp.MustCompile(`^\+?\d{1,3}\d*$`)
)

// invalid reports a rejected value. Data carries the parameter key.
func invalid(def types.ParameterDefinition, format string, args ...any) error {
	return &types.APMError{
		Code:    types.ErrInvalidParameter,
		Message: fmt.Sprintf(format, args...),
		Data:    def.Key,
	}
}

// ValidateParameter checks a raw value against its definition. Empty optional
// values are always valid. Rejections are *types.APMError with code
// ErrInvalidParameter.
func ValidateParameter(def types.ParameterDefinition, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		if def.Required {
			return invalid(def, "Parameter is required.")
		}
		return nil
	}

	if def.Type != types.ParameterMultiSelect {
		if err := validateLength(def, value); err != nil {
			return err
		}
	}

	switch def.Type {
	case types.ParameterNumeric:
		if !digitsPattern.MatchString(value) {
			return invalid(def, "Value must contain only digits.")
		}
	case types.ParameterEmail:
		if validate.Var(value, "email") != nil {
			return invalid(def, "Email format is invalid.")
		}
	case types.ParameterPhone:
		if !phonePattern.MatchString(NormalizePhone(value)) {
			return invalid(def, "Phone number format is invalid.")
		}
	case types.ParameterSingleSelect:
		if !def.HasChoice(value) {
			return invalid(def, "Selected value is not available.")
		}
	case types.ParameterMultiSelect:
		for _, v := range SplitMultiSelect(value) {
			if !def.HasChoice(v) {
				return invalid(def, "Selected value %q is not available.", v)
			}
		}
	}

	if def.Pattern != "" {
		if re, err := regexp.Compile(def.Pattern); err == nil && !re.MatchString(value) {
			return invalid(def, "Value format is invalid.")
		}
	}
	return nil
}

func validateLength(def types.ParameterDefinition, value string) error {
	length := utf8.RuneCountInString(value)
	switch {
	case def.MinLength != nil && def.MaxLength != nil && *def.MinLength == *def.MaxLength && length != *def.MinLength:
		return invalid(def, "Value must be exactly %d characters.", *def.MinLength)
	case def.MinLength != nil && length < *def.MinLength:
		return invalid(def, "Value must be at least %d characters.", *def.MinLength)
	case def.MaxLength != nil && length > *def.MaxLength:
		return invalid(def, "Value must be at most %d characters.", *def.MaxLength)
	}
	return nil
}

// NormalizePhone strips the separators customers commonly type.
func NormalizePhone(value string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, value)
}

// SplitMultiSelect splits a comma joined multi select value, dropping empty items.
func SplitMultiSelect(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// SubmitValue converts a raw value to its wire form.
func SubmitValue(def types.ParameterDefinition, value string) any {
	value = strings.TrimSpace(value)
	switch def.Type {
	case types.ParameterMultiSelect:
		return SplitMultiSelect(value)
	case types.ParameterPhone:
		return NormalizePhone(value)
	default:
		return value
	}
}
