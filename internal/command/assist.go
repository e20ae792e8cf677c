package command

import (
	"strings"
	"time"

	"tutorme/tutorchat/internal/apperr"
)

type Picker string

const (
	PickerNone Picker = ""
	PickerDate Picker = "date"
	PickerTime Picker = "time"
)

const (
	dateSuffix = "/date"
	timeSuffix = "/time"

	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

type Assistance struct {
	Picker Picker `json:"picker,omitempty"`
	Buffer string `json:"buffer"`
}

// Detect reports which picker the composing buffer asks for.
func Detect(buffer string) Picker {
	trimmed := strings.TrimRightFunc(buffer, isSpace)
	switch {
	case strings.HasSuffix(trimmed, dateSuffix):
		return PickerDate
	case strings.HasSuffix(trimmed, timeSuffix):
		return PickerTime
	default:
		return PickerNone
	}
}

// Assist substitutes the trailing /date or /time in buffer with the chosen
// value. With no value it only reports the picker to surface. Buffers without
// a trailing token are returned unchanged.
func Assist(buffer, value string) (Assistance, error) {
	const op = "command.assist"
	picker := Detect(buffer)
	if picker == PickerNone || value == "" {
		return Assistance{Picker: picker, Buffer: buffer}, nil
	}
	value = strings.TrimSpace(value)
	trimmed := strings.TrimRightFunc(buffer, isSpace)
	switch picker {
	case PickerDate:
		if _, err := time.Parse(dateLayout, value); err != nil {
			return Assistance{}, apperr.Errorf(apperr.Invalid, op, "date must be YYYY-MM-DD")
		}
		return Assistance{Buffer: strings.TrimSuffix(trimmed, dateSuffix) + "Date: " + value}, nil
	default:
		if _, err := time.Parse(timeLayout, value); err != nil || len(value) != len(timeLayout) {
			return Assistance{}, apperr.Errorf(apperr.Invalid, op, "time must be HH:MM")
		}
		return Assistance{Buffer: strings.TrimSuffix(trimmed, timeSuffix) + "Time: " + value}, nil
	}
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
