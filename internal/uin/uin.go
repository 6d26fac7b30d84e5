// Package uin generates the human-readable Unique Identifier Numbers assigned
// to newly registered people.
//
// A UIN has the form "{P}-{A}-{NNNNN}": P is V for the Female category and M
// otherwise, A is the uppercased first letter of the area, and NNNNN is drawn
// uniformly from [10000, 99999]. Each (P, A) prefix therefore has 90 000
// codes; with n codes already issued under a prefix, one draw collides with
// probability n/90 000, and the chance of at least one collision among k fresh
// draws is about k²/180 000 (birthday bound). Generate alone never consults
// the registry; GenerateUnique retries against an existence check.
package uin

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/ajitpratap0/microplan/internal/metrics"
	"github.com/ajitpratap0/microplan/internal/models"
)

const (
	minNumber = 10000
	maxNumber = 99999

	// DefaultMaxAttempts bounds GenerateUnique's check-and-retry loop.
	DefaultMaxAttempts = 10
)

// Exists reports whether a UIN is already registered.
type Exists func(ctx context.Context, uin string) (bool, error)

// Generator draws UINs from an injected random source.
type Generator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	maxAttempts int
	logger      *slog.Logger
}

// NewGenerator creates a Generator. A nil rng uses a randomly seeded source.
func NewGenerator(rng *rand.Rand, maxAttempts int, logger *slog.Logger) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{rng: rng, maxAttempts: maxAttempts, logger: logger}
}

// NewSeeded creates a Generator with a deterministic source, for tests and replays.
func NewSeeded(seed uint64, logger *slog.Logger) *Generator {
	return NewGenerator(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), DefaultMaxAttempts, logger)
}

// Prefix returns the gender letter: V for the Female category, M otherwise.
func Prefix(gender string) string {
	if strings.EqualFold(strings.TrimSpace(gender), "Female") {
		return "V"
	}
	return "M"
}

// AreaLetter returns the uppercased first letter of the area name.
func AreaLetter(area string) (string, error) {
	area = strings.TrimSpace(area)
	if area == "" {
		return "", models.NewValidationError("area", "is required to derive the UIN")
	}
	r, _ := utf8.DecodeRuneInString(area)
	return string(unicode.ToUpper(r)), nil
}

// Generate returns a fresh UIN without checking the registry.
func (g *Generator) Generate(gender, area string) (string, error) {
	letter, err := AreaLetter(area)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	n := minNumber + g.rng.IntN(maxNumber-minNumber+1)
	g.mu.Unlock()
	return fmt.Sprintf("%s-%s-%05d", Prefix(gender), letter, n), nil
}

// GenerateUnique draws UINs until exists reports one as free, up to the
// configured number of attempts.
func (g *Generator) GenerateUnique(ctx context.Context, gender, area string, exists Exists) (string, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := g.Generate(gender, area)
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("checking uin %s: %w", code, err)
		}
		if !taken {
			return code, nil
		}
		metrics.Inc(metrics.UINCollisions)
		g.logger.Warn("uin collision, retrying", "uin", code, "attempt", attempt)
	}
	return "", models.NewValidationError("uin", fmt.Sprintf("no free identifier after %d attempts", g.maxAttempts))
}
