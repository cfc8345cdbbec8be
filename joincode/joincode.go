// Package joincode generates and normalises the short public codes that
// devices type in to join a pairing session.
//
// Codes are Length characters drawn from Alphabet, which leaves out the
// characters people confuse when reading a code off another screen
// (0/O, 1/I). Codes are case-insensitive: any separators or lower-case
// letters a user types are removed by Canonicalize before a code is compared
// or stored.
package joincode

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
)

const (
	// Length is the number of characters in a canonical join code.
	Length = 8
	// Alphabet holds the characters a code may contain.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// GroupSize is the chunk width used by FormatInput.
	GroupSize = 4
	// Separator joins chunks in the display format.
	Separator = "-"

	defaultMaxAttempts = 10
)

// ActiveCodeChecker reports whether a code is held by a currently active
// session.
type ActiveCodeChecker interface {
	IsCodeActive(ctx context.Context, code string) (bool, error)
}

// Generator produces collision-free join codes.
type Generator struct {
	checker     ActiveCodeChecker
	maxAttempts int
	random      func() (string, error)
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithMaxAttempts bounds the number of candidates tried before giving up.
func WithMaxAttempts(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithRandomSource replaces the candidate source (primarily for testing).
func WithRandomSource(random func() (string, error)) GeneratorOption {
	return func(g *Generator) {
		g.random = random
	}
}

// NewGenerator returns a Generator that checks candidates against checker.
func NewGenerator(checker ActiveCodeChecker, options ...GeneratorOption) *Generator {
	g := &Generator{
		checker:     checker,
		maxAttempts: defaultMaxAttempts,
		random:      randomCode,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Generate returns a canonical code not held by any active session. After
// maxAttempts collisions it fails with ErrCodeSpaceExhausted.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < g.maxAttempts; i++ {
		code, err := g.random()
		if err != nil {
			return "", errors.Wrap(err, "[Generator.Generate] random")
		}
		active, err := g.checker.IsCodeActive(ctx, code)
		if err != nil {
			return "", errors.Wrap(err, "[Generator.Generate] IsCodeActive")
		}
		if !active {
			return code, nil
		}
	}
	return "", errors.Wrapf(apperrors.ErrCodeSpaceExhausted, "[Generator.Generate] %d collisions", g.maxAttempts)
}

func randomCode() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Canonicalize strips everything except letters and digits and upper-cases
// the rest. Non-ASCII letters are kept so that Validate rejects them rather
// than the code silently changing meaning.
func Canonicalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// Validate checks that code is canonical, has the fixed length and only
// contains Alphabet characters.
func Validate(code string) error {
	if len(code) != Length {
		return errors.Wrapf(apperrors.ErrInvalidCode, "code must be %d characters", Length)
	}
	for _, r := range code {
		if !strings.ContainsRune(Alphabet, r) {
			return errors.Wrap(apperrors.ErrInvalidCode, "code contains characters outside the alphabet")
		}
	}
	return nil
}

// Parse canonicalizes raw user input and validates the result.
func Parse(raw string) (string, error) {
	code := Canonicalize(raw)
	if err := Validate(code); err != nil {
		return "", err
	}
	return code, nil
}

// FormatInput renders a code for display in GroupSize chunks, e.g. ABCD-EFGH.
func FormatInput(code string) string {
	code = Canonicalize(code)
	if len(code) <= GroupSize {
		return code
	}
	chunks := make([]string, 0, (len(code)+GroupSize-1)/GroupSize)
	for i := 0; i < len(code); i += GroupSize {
		end := i + GroupSize
		if end > len(code) {
			end = len(code)
		}
		chunks = append(chunks, code[i:end])
	}
	return strings.Join(chunks, Separator)
}

// StripFormatting reverses FormatInput.
func StripFormatting(display string) string {
	return Canonicalize(display)
}
