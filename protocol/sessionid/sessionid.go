// Package sessionid mints session identifiers for a participant pair.
package sessionid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

const (
	RandomSuffixSize = 16
	separator        = "_"
)

// Generator builds ids of the form lo_hi_<unix millis>_<32 hex chars> where
// lo/hi are the participant ids in sorted order. Two generations for the same
// pair share the prefix but never the suffix.
type Generator struct {
	Now  func() time.Time
	Rand io.Reader
}

func New() *Generator {
	return &Generator{Now: time.Now, Rand: rand.Reader}
}

func (g *Generator) Generate(idA, idB string) (string, error) {
	pair := []string{idA, idB}
	sort.Strings(pair)

	suffix := make([]byte, RandomSuffixSize)
	if _, err := io.ReadFull(g.Rand, suffix); err != nil {
		return "", fmt.Errorf("failed to read session id entropy: %w", err)
	}

	return strings.Join([]string{
		pair[0],
		pair[1],
		fmt.Sprintf("%d", g.Now().UnixMilli()),
		hex.EncodeToString(suffix),
	}, separator), nil
}
