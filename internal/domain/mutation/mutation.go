// Package mutation defines the pending-queue mutation records.
package mutation

import "github.com/stgy-dev/shardix/internal/domain/document"

// Op is the kind of a pending mutation.
type Op string

const (
	// OpUpsert inserts or replaces a document.
	OpUpsert Op = "upsert"
	// OpDelete removes a document.
	OpDelete Op = "delete"
)

// Mutation is one pending write. Upserts carry the full document plus its
// tokens, computed at enqueue time so locale problems surface to the caller
// instead of failing silently during drain. Deletes carry only the id; the
// shard store resolves which shard holds it.
//
// Seq is assigned by the queue; after per-id coalescing it reflects the most
// recent enqueue for that id.
type Mutation struct {
	Op        Op
	ID        string
	Timestamp int64
	Doc       document.Document
	Tokens    []string
	Seq       uint64
}

// Upsert builds an upsert mutation for the given document and its tokens.
func Upsert(doc document.Document, tokens []string) Mutation {
	return Mutation{Op: OpUpsert, ID: doc.ID(), Timestamp: doc.Timestamp(), Doc: doc, Tokens: tokens}
}

// Delete builds a delete mutation.
func Delete(id string) Mutation {
	return Mutation{Op: OpDelete, ID: id}
}
