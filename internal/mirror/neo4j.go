// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// statement is one parameterized Cypher query.
type statement struct {
	Query  string
	Params map[string]any
}

// cypherRunner runs statements in a single write transaction.
type cypherRunner interface {
	Write(ctx context.Context, stmts []statement) error
	Close(ctx context.Context) error
}

const (
	mergeDocumentCypher = `MERGE (d:Document {document_id: $document_id})
SET d.title = $title, d.sha256 = $sha256, d.model_key = $model_key, d.processed_at = $processed_at`

	mergeTagsCypher = `MATCH (d:Document {document_id: $document_id})
UNWIND $tags AS tag
MERGE (t:Tag {name: tag})
MERGE (d)-[:HAS_TAG]->(t)`

	mergeCitationsCypher = `MATCH (d:Document {document_id: $document_id})
UNWIND $citations AS ref
MERGE (c:Citation {key: ref})
MERGE (d)-[:CITES]->(c)`
)

// Neo4j mirrors documents, their tags and their citations as a graph.
type Neo4j struct {
	run cypherRunner
}

// NewNeo4j connects to uri with basic auth and verifies connectivity.
func NewNeo4j(ctx context.Context, uri, user, password string) (*Neo4j, error) {
	if uri == "" {
		return nil, errors.New("neo4j uri is empty")
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}
	return &Neo4j{run: driverRunner{driver: driver}}, nil
}

// Name implements Mirror.
func (n *Neo4j) Name() string { return "neo4j" }

// Upsert merges the document node and its edges.
func (n *Neo4j) Upsert(ctx context.Context, entry *types.KnowledgeEntry) error {
	if err := n.run.Write(ctx, graphStatements(entry)); err != nil {
		return fmt.Errorf("merging %s: %w", entry.DocumentID, err)
	}
	return nil
}

func graphStatements(e *types.KnowledgeEntry) []statement {
	stmts := []statement{{
		Query: mergeDocumentCypher,
		Params: map[string]any{
			"document_id":  e.DocumentID,
			"title":        e.Metadata.Title,
			"sha256":       e.Source.SHA256,
			"model_key":    e.ModelKey,
			"processed_at": e.Metadata.ProcessedAt,
		},
	}}
	if tags := e.Metadata.Tags; len(tags) > 0 {
		stmts = append(stmts, statement{
			Query:  mergeTagsCypher,
			Params: map[string]any{"document_id": e.DocumentID, "tags": tags},
		})
	}
	if refs := citations(e); len(refs) > 0 {
		stmts = append(stmts, statement{
			Query:  mergeCitationsCypher,
			Params: map[string]any{"document_id": e.DocumentID, "citations": refs},
		})
	}
	return stmts
}

// Close closes the driver.
func (n *Neo4j) Close() error { return n.run.Close(context.Background()) }

type driverRunner struct {
	driver neo4j.DriverWithContext
}

func (r driverRunner) Write(ctx context.Context, stmts []statement) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, s := range stmts {
			if _, err := tx.Run(ctx, s.Query, s.Params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (r driverRunner) Close(ctx context.Context) error { return r.driver.Close(ctx) }
