// Package command classifies raw conversation input into the in-band
// protocol: plain text, booking cancellation or a certificate request.
package command

import (
	"errors"
	"strings"
	"unicode"

	"tutorme/tutorchat/internal/apperr"
)

const (
	stopToken        = "/stop"
	certificateToken = "/certificate"
)

// ErrEmpty marks whitespace-only input. Callers must not produce a message.
var ErrEmpty = errors.New("empty input")

type Kind int

const (
	KindPlain Kind = iota
	KindCancel
	KindCertificate
)

func (k Kind) String() string {
	switch k {
	case KindCancel:
		return "cancel"
	case KindCertificate:
		return "certificate"
	default:
		return "plain"
	}
}

type Command struct {
	Kind Kind
	// Text is the trimmed input for plain messages.
	Text string
	// StudentName is set for certificate requests.
	StudentName string
}

func Interpret(raw string) (Command, error) {
	const op = "command.interpret"
	text := strings.TrimSpace(raw)
	if text == "" {
		return Command{}, ErrEmpty
	}
	if text == stopToken {
		return Command{Kind: KindCancel}, nil
	}
	if rest, ok := cutToken(text, certificateToken); ok {
		name := strings.TrimSpace(rest)
		if name == "" {
			return Command{}, apperr.Errorf(apperr.InvalidCommand, op, "certificate requires a student name")
		}
		return Command{Kind: KindCertificate, StudentName: name}, nil
	}
	return Command{Kind: KindPlain, Text: text}, nil
}

// cutToken strips token from the start of text when it stands alone, i.e. is
// followed by whitespace or nothing.
func cutToken(text, token string) (string, bool) {
	rest, ok := strings.CutPrefix(text, token)
	if !ok {
		return "", false
	}
	if rest != "" && !unicode.IsSpace([]rune(rest)[0]) {
		return "", false
	}
	return rest, true
}
