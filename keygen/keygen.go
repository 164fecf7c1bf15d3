// Package keygen provides session key generators for sessions.Registry.
//
// Meaningful produces human-readable keys such as
// "brave-otter-42_Q8ZK3M0A7PLX2R9T1BWE5" (two words, a number, then a random
// uppercase/digit suffix). UUID produces random RFC 4122 v4 identifiers.
// Both draw from crypto/rand.
package keygen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultNumberUpTo = 60
	defaultSuffixMin  = 20
	defaultSuffixMax  = 30
	defaultJoinBy     = "-"
	suffixSeparator   = "_"
	suffixAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	FormatMeaningful  = "meaningful"
	FormatUUID        = "uuid"
)

// ErrUnknownFormat is returned by ByName for unsupported key formats.
var ErrUnknownFormat = errors.New("keygen: unknown key format")

// Generator mints session keys. It matches sessions.KeyGenerator.
type Generator interface {
	Generate() (string, error)
}

// Func adapts a plain function to the sessions.KeyGenerator interface.
type Func func() (string, error)

func (f Func) Generate() (string, error) { return f() }

// UUID generates random v4 UUID keys.
type UUID struct{}

func (UUID) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("keygen: uuid: %w", err)
	}
	return id.String(), nil
}

// Meaningful generates "<adjective><JoinBy><noun><JoinBy><n>_<suffix>" keys.
// Zero values select the defaults: numbers in [0, 60], "-" as separator and a
// suffix of 20 to 30 characters.
type Meaningful struct {
	NumberUpTo int
	JoinBy     string
	SuffixMin  int
	SuffixMax  int
}

func (m Meaningful) Generate() (string, error) {
	upTo, joinBy, minLen, maxLen := m.params()

	adj, err := pick(adjectives)
	if err != nil {
		return "", err
	}
	noun, err := pick(nouns)
	if err != nil {
		return "", err
	}
	n, err := randInt(upTo + 1)
	if err != nil {
		return "", err
	}
	suffixLen := minLen
	if maxLen > minLen {
		extra, err := randInt(maxLen - minLen + 1)
		if err != nil {
			return "", err
		}
		suffixLen += extra
	}
	suffix, err := randomString(suffixLen)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(adj)
	b.WriteString(joinBy)
	b.WriteString(noun)
	b.WriteString(joinBy)
	b.WriteString(strconv.Itoa(n))
	b.WriteString(suffixSeparator)
	b.WriteString(suffix)
	return b.String(), nil
}

func (m Meaningful) params() (upTo int, joinBy string, minLen, maxLen int) {
	upTo, joinBy, minLen, maxLen = m.NumberUpTo, m.JoinBy, m.SuffixMin, m.SuffixMax
	if upTo <= 0 {
		upTo = defaultNumberUpTo
	}
	if joinBy == "" {
		joinBy = defaultJoinBy
	}
	if minLen <= 0 {
		minLen = defaultSuffixMin
	}
	if maxLen == 0 {
		maxLen = defaultSuffixMax
	}
	if maxLen < minLen {
		maxLen = minLen
	}
	return upTo, joinBy, minLen, maxLen
}

// ByName resolves a configured key format ("meaningful" or "uuid").
func ByName(format string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatMeaningful:
		return Meaningful{}, nil
	case FormatUUID:
		return UUID{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func pick(words []string) (string, error) {
	i, err := randInt(len(words))
	if err != nil {
		return "", err
	}
	return words[i], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("keygen: read random: %w", err)
	}
	return int(v.Int64()), nil
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	for i := range buf {
		j, err := randInt(len(suffixAlphabet))
		if err != nil {
			return "", err
		}
		buf[i] = suffixAlphabet[j]
	}
	return string(buf), nil
}
