package service

import (
	"crypto/rand"
	"fmt"
	"io"
)

// attendanceCodeAlphabet omits I, O, 0 and 1. Its length is a power of two so a
// masked random byte maps onto it uniformly.
const attendanceCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const attendanceCodeLength = 6

// CodeGenerator produces candidate attendance codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodeGenerator draws codes from a cryptographic source.
type RandomCodeGenerator struct {
	source io.Reader
}

// NewRandomCodeGenerator uses crypto/rand when source is nil.
func NewRandomCodeGenerator(source io.Reader) *RandomCodeGenerator {
	if source == nil {
		source = rand.Reader
	}
	return &RandomCodeGenerator{source: source}
}

// Generate implements CodeGenerator.
func (g *RandomCodeGenerator) Generate() (string, error) {
	buf := make([]byte, attendanceCodeLength)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return "", fmt.Errorf("read code entropy: %w", err)
	}
	mask := byte(len(attendanceCodeAlphabet) - 1)
	for i, b := range buf {
		buf[i] = attendanceCodeAlphabet[b&mask]
	}
	return string(buf), nil
}
