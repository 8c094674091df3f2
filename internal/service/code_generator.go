package service

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/Cheertaboi/discount-code-service/internal/models"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	MinGenerateCount = 1
	MaxGenerateCount = 2000
	MinCodeLength    = 7
	MaxCodeLength    = 8

	attemptsPerCode = 50

	// largest multiple of len(codeAlphabet) that fits in a byte; draws at or
	// above it are rejected to keep every symbol equally likely.
	rejectionLimit = 256 - 256%len(codeAlphabet)
)

// CodeGenerator produces random unique code strings. It holds no state
// between calls and is safe for concurrent use when its reader is.
type CodeGenerator struct {
	rand io.Reader
}

// NewCodeGenerator returns a generator backed by crypto/rand.
func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{rand: rand.Reader}
}

// NewCodeGeneratorWithReader uses r as the randomness source.
func NewCodeGeneratorWithReader(r io.Reader) *CodeGenerator {
	return &CodeGenerator{rand: r}
}

// Generate returns count distinct codes of the given length, none of which
// appear in excluding, in the order they were produced.
func (g *CodeGenerator) Generate(count, length int, excluding []string) ([]string, error) {
	if count < MinGenerateCount || count > MaxGenerateCount {
		return nil, fmt.Errorf("%w: count must be between %d and %d", models.ErrValidation, MinGenerateCount, MaxGenerateCount)
	}
	if length < MinCodeLength || length > MaxCodeLength {
		return nil, fmt.Errorf("%w: length must be %d or %d", models.ErrValidation, MinCodeLength, MaxCodeLength)
	}

	taken := make(map[string]struct{}, len(excluding)+count)
	for _, c := range excluding {
		taken[c] = struct{}{}
	}

	out := make([]string, 0, count)
	budget := count * attemptsPerCode
	for attempts := 0; len(out) < count; attempts++ {
		if attempts >= budget {
			return nil, fmt.Errorf("%w: %d of %d codes after %d attempts",
				models.ErrGenerationExhausted, len(out), count, attempts)
		}
		code, err := g.draw(length)
		if err != nil {
			return nil, fmt.Errorf("read randomness: %w", err)
		}
		if _, dup := taken[code]; dup {
			continue
		}
		taken[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}

func (g *CodeGenerator) draw(length int) (string, error) {
	code := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(code) < length {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= rejectionLimit {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == length {
				break
			}
		}
	}
	return string(code), nil
}
