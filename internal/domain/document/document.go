package document

import (
	"fmt"
	"regexp"

	"github.com/stgy-dev/shardix/internal/domain"
)

var (
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// Fixed route segments under /{resource}/ that can never be document ids.
	reservedIDs = map[string]bool{
		"tokenize":         true,
		"search":           true,
		"search-fetch":     true,
		"flush":            true,
		"maintenance":      true,
		"reservation-mode": true,
		"reserve":          true,
		"reconstruct":      true,
		"optimize":         true,
		"shards":           true,
	}
)

// MaxBodySize is the maximum body text size in bytes.
const MaxBodySize = 163840 // 160KB

// Document is an indexed record (immutable value object).
// Attrs is an opaque blob stored and returned verbatim, never indexed.
type Document struct {
	id        string
	bodyText  string
	timestamp int64
	locale    string
	attrs     string
}

// New validates and creates a Document.
// ID: ^[a-zA-Z0-9_-]+$, 1-256 chars, not a fixed route segment.
// BodyText: non-empty, max 160KB. Timestamp: positive seconds.
func New(id, bodyText string, timestamp int64, locale, attrs string) (Document, error) {
	if err := ValidateID(id); err != nil {
		return Document{}, err
	}
	if bodyText == "" {
		return Document{}, fmt.Errorf("body text is required: %w", domain.ErrInvalidDocument)
	}
	if len(bodyText) > MaxBodySize {
		return Document{}, fmt.Errorf("body text too large (max %d bytes): %w", MaxBodySize, domain.ErrInvalidDocument)
	}
	if timestamp <= 0 {
		return Document{}, fmt.Errorf("timestamp must be positive seconds: %w", domain.ErrInvalidTimestamp)
	}
	if locale == "" {
		return Document{}, fmt.Errorf("locale is required: %w", domain.ErrInvalidLocale)
	}

	return Document{
		id:        id,
		bodyText:  bodyText,
		timestamp: timestamp,
		locale:    locale,
		attrs:     attrs,
	}, nil
}

// ValidateID checks a document id in isolation (also used for delete mutations).
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("document ID is required: %w", domain.ErrInvalidDocument)
	}
	if len(id) > 256 {
		return fmt.Errorf("document ID too long (max 256): %w", domain.ErrInvalidDocument)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("document ID must be alphanumeric with underscores and hyphens: %w", domain.ErrInvalidDocument)
	}
	if reservedIDs[id] {
		return fmt.Errorf("document ID %q is reserved: %w", id, domain.ErrInvalidDocument)
	}
	return nil
}

// Rehydrate creates a Document without validation (storage hydration).
func Rehydrate(id, bodyText string, timestamp int64, locale, attrs string) Document {
	return Document{id: id, bodyText: bodyText, timestamp: timestamp, locale: locale, attrs: attrs}
}

// ID returns the caller-supplied document identifier.
func (d *Document) ID() string { return d.id }

// BodyText returns the raw indexed text.
func (d *Document) BodyText() string { return d.bodyText }

// Timestamp returns the document timestamp in seconds.
func (d *Document) Timestamp() int64 { return d.timestamp }

// Locale returns the BCP-47 locale tag the document was indexed with.
func (d *Document) Locale() string { return d.locale }

// Attrs returns the opaque attribute blob.
func (d *Document) Attrs() string { return d.attrs }

// WithID returns a copy under a different id (shard reconstruction).
func (d *Document) WithID(id string) Document {
	return Document{id: id, bodyText: d.bodyText, timestamp: d.timestamp, locale: d.locale, attrs: d.attrs}
}
