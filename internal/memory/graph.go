// Package memory keeps a long-term graph of sessions and the insights and
// patterns observed in them, in Neo4j.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/nuka-stream/internal/broadcast"
	"github.com/nidhogg/nuka-stream/internal/insight"
	"github.com/nidhogg/nuka-stream/internal/pattern"
	"go.uber.org/zap"
)

// Graph writes stream messages into Neo4j. It implements sink.Sink.
type Graph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewGraph creates a Neo4j-backed graph.
func NewGraph(uri, user, password string, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Graph{driver: driver, logger: logger}, nil
}

// Ping verifies the Neo4j connection.
func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraints the writes rely on.
func (g *Graph) EnsureSchema(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT session_id IF NOT EXISTS FOR (s:Session) REQUIRE s.id IS UNIQUE`,
		`CREATE CONSTRAINT insight_id IF NOT EXISTS FOR (i:Insight) REQUIRE i.id IS UNIQUE`,
		`CREATE CONSTRAINT pattern_key IF NOT EXISTS FOR (p:Pattern) REQUIRE p.key IS UNIQUE`,
	} {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (g *Graph) Name() string { return "neo4j" }

// Deliver records context updates and insight messages. Other message types
// are ignored.
func (g *Graph) Deliver(ctx context.Context, msg broadcast.Message) error {
	if msg.SessionID == "" {
		return nil
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	switch p := msg.Payload.(type) {
	case broadcast.ContextUpdatePayload:
		if err := g.touchSession(ctx, session, msg, p); err != nil {
			return err
		}
		for _, in := range p.Insights {
			if err := g.mergeInsight(ctx, session, msg.SessionID, in); err != nil {
				return err
			}
		}
		for _, pt := range p.Patterns {
			if err := g.mergePattern(ctx, session, msg.SessionID, pt); err != nil {
				return err
			}
		}
	case insight.Insight:
		if err := g.mergeInsight(ctx, session, msg.SessionID, p); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) touchSession(ctx context.Context, session neo4j.SessionWithContext, msg broadcast.Message, p broadcast.ContextUpdatePayload) error {
	_, err := session.Run(ctx,
		`MERGE (s:Session {id: $id})
		 SET s.last_seen = $lastSeen, s.relevance = $relevance,
		     s.dominant_type = $dominant, s.event_count = $events`,
		map[string]interface{}{
			"id":        msg.SessionID,
			"lastSeen":  msg.Timestamp.UTC().Format(time.RFC3339Nano),
			"relevance": p.RelevanceScore,
			"dominant":  string(p.ActivitySummary.DominantType),
			"events":    p.EventCount,
		})
	if err != nil {
		return fmt.Errorf("merge session %s: %w", msg.SessionID, err)
	}
	return nil
}

func (g *Graph) mergeInsight(ctx context.Context, session neo4j.SessionWithContext, sessionID string, in insight.Insight) error {
	_, err := session.Run(ctx,
		`MERGE (s:Session {id: $sessionId})
		 MERGE (i:Insight {id: $id})
		 SET i.category = $category, i.title = $title, i.description = $desc,
		     i.confidence = $confidence, i.urgency = $urgency, i.tag = $tag,
		     i.action = $action, i.created_at = $createdAt
		 MERGE (s)-[:HAS_INSIGHT]->(i)`,
		map[string]interface{}{
			"sessionId":  sessionID,
			"id":         in.ID,
			"category":   string(in.Category),
			"title":      in.Title,
			"desc":       in.Description,
			"confidence": in.Confidence,
			"urgency":    in.Urgency,
			"tag":        in.Tag,
			"action":     in.ActionSuggested,
			"createdAt":  in.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	if err != nil {
		return fmt.Errorf("merge insight %s: %w", in.ID, err)
	}
	return nil
}

func (g *Graph) mergePattern(ctx context.Context, session neo4j.SessionWithContext, sessionID string, p pattern.Pattern) error {
	_, err := session.Run(ctx,
		`MERGE (s:Session {id: $sessionId})
		 MERGE (p:Pattern {key: $key})
		 SET p.kind = $kind, p.signature = $signature, p.description = $desc,
		     p.frequency = $frequency, p.confidence = $confidence,
		     p.last_observed = $lastObserved
		 MERGE (s)-[:EXHIBITS]->(p)`,
		map[string]interface{}{
			"sessionId":    sessionID,
			"key":          PatternKey(sessionID, p.Signature),
			"kind":         string(p.Kind),
			"signature":    p.Signature,
			"desc":         p.Description,
			"frequency":    p.Frequency,
			"confidence":   p.Confidence,
			"lastObserved": p.LastObserved.UTC().Format(time.RFC3339Nano),
		})
	if err != nil {
		return fmt.Errorf("merge pattern %s: %w", p.Signature, err)
	}
	return nil
}

// PatternKey identifies a pattern node. Patterns are per session.
func PatternKey(sessionID, signature string) string {
	return sessionID + "|" + signature
}

// StoredInsight is an insight read back from the graph.
type StoredInsight struct {
	ID         string
	Category   string
	Title      string
	Confidence float64
}

// SessionInsights returns the insights linked to a session, highest
// confidence first.
func (g *Graph) SessionInsights(ctx context.Context, sessionID string, limit int) ([]StoredInsight, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Session {id: $sessionId})-[:HAS_INSIGHT]->(i:Insight)
		 RETURN i.id, i.category, i.title, i.confidence
		 ORDER BY i.confidence DESC LIMIT $limit`,
		map[string]interface{}{"sessionId": sessionID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}

	var out []StoredInsight
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("i.id")
		category, _ := rec.Get("i.category")
		title, _ := rec.Get("i.title")
		confidence, _ := rec.Get("i.confidence")
		out = append(out, StoredInsight{
			ID:         id.(string),
			Category:   category.(string),
			Title:      title.(string),
			Confidence: confidence.(float64),
		})
	}
	return out, result.Err()
}

// SessionPatternCount returns how many patterns are linked to a session.
func (g *Graph) SessionPatternCount(ctx context.Context, sessionID string) (int, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Session {id: $sessionId})-[:EXHIBITS]->(p:Pattern) RETURN count(p) AS n`,
		map[string]interface{}{"sessionId": sessionID})
	if err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	rec, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := rec.Get("n")
	return int(n.(int64)), nil
}

// Close shuts down the Neo4j driver.
func (g *Graph) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.driver.Close(ctx)
}
