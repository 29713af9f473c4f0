package query

import (
	"context"

	"github.com/stgy-dev/shardix/internal/domain/document"
)

// Reader is the read surface of the shard repository.
type Reader interface {
	Get(ctx context.Context, id string) (document.Document, error)
	Search(ctx context.Context, tokens []string) []string
	SearchDocs(ctx context.Context, tokens []string) []document.Document
}

// Tokenizer turns queries into the same terms indexing produced.
type Tokenizer interface {
	Tokenize(text, locale string) ([]string, error)
	ResolveLocale(locale string) (string, error)
}
