// Package anchor implements the wire conventions of Anchor programs:
// 8-byte discriminators for accounts, instructions and events, event
// extraction from transaction logs, and custom error code parsing.
package anchor

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// DiscriminatorSize is the length of every Anchor discriminator.
const DiscriminatorSize = 8

// ErrorCodeOffset is the first code assigned to a program's #[error_code] enum.
const ErrorCodeOffset = 6000

// Discriminator is the 8-byte prefix that tags accounts, instructions and events.
type Discriminator [DiscriminatorSize]byte

func hashPrefix(namespace, name string) Discriminator {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d Discriminator
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// AccountDiscriminator returns sha256("account:<Name>")[:8].
func AccountDiscriminator(name string) Discriminator {
	return hashPrefix("account", name)
}

// InstructionDiscriminator returns sha256("global:<snake_name>")[:8].
// CamelCase names are converted to snake_case first.
func InstructionDiscriminator(name string) Discriminator {
	return hashPrefix("global", ToSnakeCase(name))
}

// EventDiscriminator returns sha256("event:<Name>")[:8].
func EventDiscriminator(name string) Discriminator {
	return hashPrefix("event", name)
}

// ToSnakeCase converts "ExecuteTranche" to "execute_tranche". Names already in
// snake_case are returned unchanged.
func ToSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ErrDiscriminatorMismatch is returned when data does not start with the expected tag.
var ErrDiscriminatorMismatch = errors.New("discriminator mismatch")

// StripDiscriminator checks the prefix of data and returns the remaining bytes.
func StripDiscriminator(data []byte, want Discriminator) ([]byte, error) {
	if len(data) < DiscriminatorSize {
		return nil, fmt.Errorf("data too short for discriminator: %d bytes", len(data))
	}
	var got Discriminator
	copy(got[:], data[:DiscriminatorSize])
	if got != want {
		return nil, fmt.Errorf("%w: got %x, want %x", ErrDiscriminatorMismatch, got, want)
	}
	return data[DiscriminatorSize:], nil
}

const programDataPrefix = "Program data: "

// ParseEvents scans transaction log lines for "Program data:" entries carrying
// the named event and returns their Borsh payloads without the discriminator.
func ParseEvents(logs []string, eventName string) [][]byte {
	want := EventDiscriminator(eventName)
	var payloads [][]byte
	for _, line := range logs {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataPrefix))
		if err != nil {
			continue
		}
		payload, err := StripDiscriminator(raw, want)
		if err != nil {
			continue
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

// EncodeEventLog renders the log line a program emits for an event. Used by the
// local engine so that its logs parse the same way cluster logs do.
func EncodeEventLog(eventName string, payload []byte) string {
	d := EventDiscriminator(eventName)
	buf := make([]byte, 0, DiscriminatorSize+len(payload))
	buf = append(buf, d[:]...)
	buf = append(buf, payload...)
	return programDataPrefix + base64.StdEncoding.EncodeToString(buf)
}

var (
	customErrorPattern = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)
	// InstructionError status values render as {"Custom":6001} or map[Custom:6001].
	customStatusPattern = regexp.MustCompile(`Custom"?:\s*([0-9]+)`)
)

// ParseCustomError extracts the code from "custom program error: 0x1771" or a
// formatted InstructionError status anywhere in the given text.
func ParseCustomError(text string) (uint32, bool) {
	if m := customErrorPattern.FindStringSubmatch(text); m != nil {
		code, err := strconv.ParseUint(m[1], 16, 32)
		return uint32(code), err == nil
	}
	if m := customStatusPattern.FindStringSubmatch(text); m != nil {
		code, err := strconv.ParseUint(m[1], 10, 32)
		return uint32(code), err == nil
	}
	return 0, false
}

// ParseCustomErrorFromLogs returns the first custom error code found in logs.
func ParseCustomErrorFromLogs(logs []string) (uint32, bool) {
	for _, line := range logs {
		if code, ok := ParseCustomError(line); ok {
			return code, true
		}
	}
	return 0, false
}
