package objectkey

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// DefaultPrefix is the namespace uploads are written under
const DefaultPrefix = "uploads"

// FallbackFileName is used when nothing of the supplied name survives sanitizing
const FallbackFileName = "uploaded_file"

// timestampLayout sorts lexically in upload order
const timestampLayout = "20060102150405"

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates an object key for an upload
	GenerateKey(metadata KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	FileName string
	OwnerID  string
	Time     time.Time
}

// TimestampGenerator builds keys of the form
// {prefix}/{YYYYmmddHHMMSS}_{suffix}_{sanitized name}.
// The random suffix keeps same-name uploads within one second apart.
type TimestampGenerator struct {
	Prefix string
	// SuffixLength is the number of random hex characters (default: 8, 0 disables)
	SuffixLength int
	random       func() string
}

func NewTimestampGenerator() *TimestampGenerator {
	return &TimestampGenerator{
		Prefix:       DefaultPrefix,
		SuffixLength: 8,
		random:       randomHex,
	}
}

func (g *TimestampGenerator) GenerateKey(metadata KeyMetadata) string {
	t := metadata.Time
	if t.IsZero() {
		t = time.Now()
	}
	prefix := strings.Trim(g.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	name := SanitizeFileName(metadata.FileName)
	stamp := t.UTC().Format(timestampLayout)

	if g.SuffixLength <= 0 {
		return fmt.Sprintf("%s/%s_%s", prefix, stamp, name)
	}
	suffix := g.random()
	if len(suffix) > g.SuffixLength {
		suffix = suffix[:g.SuffixLength]
	}
	return fmt.Sprintf("%s/%s_%s_%s", prefix, stamp, suffix, name)
}

// CustomFuncGenerator allows callers to provide their own key generation function
type CustomFuncGenerator struct {
	GenerateFunc func(metadata KeyMetadata) string
}

func NewCustomFuncGenerator(fn func(metadata KeyMetadata) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{
		GenerateFunc: fn,
	}
}

func (g *CustomFuncGenerator) GenerateKey(metadata KeyMetadata) string {
	return g.GenerateFunc(metadata)
}

// SanitizeFileName reduces a client supplied file name to a URL and
// filesystem safe token. Directory components are stripped, control and
// non-ASCII characters dropped, whitespace and other punctuation collapsed
// to "_". Names with nothing left become FallbackFileName.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r > unicode.MaxASCII, unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune('_')
		}
	}

	safe := b.String()
	for strings.Contains(safe, "__") {
		safe = strings.ReplaceAll(safe, "__", "_")
	}
	safe = strings.Trim(safe, "._")
	if safe == "" {
		return FallbackFileName
	}
	return safe
}

func randomHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
