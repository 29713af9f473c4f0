// Package query serves reads: document fetch, search, and tokenization.
// Queries see only committed state; pending mutations are invisible until
// the update worker drains them.
package query

import (
	"context"
	"fmt"

	"github.com/stgy-dev/shardix/internal/domain"
	"github.com/stgy-dev/shardix/internal/domain/document"
)

// Service answers read requests from the committed shard state.
type Service struct {
	repo      Reader
	tokenizer Tokenizer
}

// New creates the query service.
func New(repo Reader, tokenizer Tokenizer) *Service {
	return &Service{repo: repo, tokenizer: tokenizer}
}

// Fetch returns the committed document for id.
func (s *Service) Fetch(ctx context.Context, id string) (document.Document, error) {
	if err := document.ValidateID(id); err != nil {
		return document.Document{}, err
	}
	return s.repo.Get(ctx, id)
}

// Search returns ids of documents containing every query token, newest
// shard first, id ascending within a shard. An empty or all-separator query
// matches nothing.
func (s *Service) Search(ctx context.Context, text, locale string) ([]string, error) {
	tokens, err := s.queryTokens(text, locale)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return []string{}, nil
	}
	return s.repo.Search(ctx, tokens), nil
}

// SearchFetch is Search with full documents in the same order.
func (s *Service) SearchFetch(ctx context.Context, text, locale string) ([]document.Document, error) {
	tokens, err := s.queryTokens(text, locale)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return []document.Document{}, nil
	}
	return s.repo.SearchDocs(ctx, tokens), nil
}

// Tokenize exposes the indexing tokenizer verbatim so callers can predict
// index terms. Returns the tokens and the resolved base locale.
func (s *Service) Tokenize(text, locale string) ([]string, string, error) {
	if text == "" {
		return nil, "", fmt.Errorf("text is required: %w", domain.ErrInvalidDocument)
	}
	base, err := s.tokenizer.ResolveLocale(locale)
	if err != nil {
		return nil, "", err
	}
	tokens, err := s.tokenizer.Tokenize(text, locale)
	if err != nil {
		return nil, "", err
	}
	return tokens, base, nil
}

func (s *Service) queryTokens(text, locale string) ([]string, error) {
	if text == "" {
		return nil, fmt.Errorf("query is required: %w", domain.ErrInvalidDocument)
	}
	return s.tokenizer.Tokenize(text, locale)
}
