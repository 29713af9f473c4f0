package shard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stgy-dev/shardix/internal/domain/document"
)

// Hash field names for persisted documents.
const (
	fieldID        = "id"
	fieldText      = "text"
	fieldTimestamp = "ts"
	fieldLocale    = "locale"
	fieldAttrs     = "attrs"
	fieldTokens    = "tokens"
)

func (r *Repo) docKey(id string) string {
	return r.prefix + "doc:" + id
}

func (r *Repo) docPattern() string {
	return r.prefix + "doc:*"
}

// docToFields flattens a document plus its tokens into hash fields.
// Tokens are persisted so hydration never re-tokenizes with a different
// tokenizer version than the one used at enqueue time.
func docToFields(doc document.Document, tokens []string) map[string]string {
	return map[string]string{
		fieldID:        doc.ID(),
		fieldText:      doc.BodyText(),
		fieldTimestamp: strconv.FormatInt(doc.Timestamp(), 10),
		fieldLocale:    doc.Locale(),
		fieldAttrs:     doc.Attrs(),
		fieldTokens:    strings.Join(tokens, " "),
	}
}

// docFromFields rebuilds a document plus tokens from hash fields.
func docFromFields(fields map[string]string) (document.Document, []string, error) {
	id := fields[fieldID]
	if id == "" {
		return document.Document{}, nil, fmt.Errorf("stored document missing id field")
	}
	ts, err := strconv.ParseInt(fields[fieldTimestamp], 10, 64)
	if err != nil {
		return document.Document{}, nil, fmt.Errorf("stored document %s: bad timestamp %q: %w", id, fields[fieldTimestamp], err)
	}

	doc := document.Rehydrate(id, fields[fieldText], ts, fields[fieldLocale], fields[fieldAttrs])

	var tokens []string
	if raw := fields[fieldTokens]; raw != "" {
		tokens = strings.Split(raw, " ")
	}
	return doc, tokens, nil
}
