package network

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ajitpratap0/microplan/internal/models"
)

// Repository persists one Network per ward.
type Repository interface {
	Save(ctx context.Context, ward string, n Network) error
	Load(ctx context.Context, ward string) (Network, error)
	Close(ctx context.Context) error
}

// MemoryRepository keeps networks in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	wards map[string]Network
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{wards: make(map[string]Network)}
}

// Save implements Repository.
func (m *MemoryRepository) Save(_ context.Context, ward string, n Network) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wards[ward] = n.clone()
	return nil
}

// Load implements Repository. An unknown ward is an empty network.
func (m *MemoryRepository) Load(_ context.Context, ward string) (Network, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wards[ward].clone(), nil
}

// Close implements Repository.
func (m *MemoryRepository) Close(context.Context) error { return nil }

// Cypher statements for the ward graph. Nodes are keyed by (ward, id).
const (
	cypherDeleteMissing = `MATCH (n:SocialNode {ward: $ward}) WHERE NOT n.id IN $ids DETACH DELETE n`
	cypherDeleteBridges = `MATCH (:SocialNode {ward: $ward})-[r:TRUST_BRIDGE]->(:SocialNode {ward: $ward}) DELETE r`
	cypherMergeNodes    = `UNWIND $nodes AS node
MERGE (n:SocialNode {ward: $ward, id: node.id})
SET n.name = node.name, n.type = node.type, n.x = node.x, n.y = node.y`
	cypherMergeBridges = `UNWIND $bridges AS b
MATCH (a:SocialNode {ward: $ward, id: b.from}), (c:SocialNode {ward: $ward, id: b.to})
MERGE (a)-[r:TRUST_BRIDGE]->(c)
SET r.strength = b.strength`
	cypherLoadNodes   = `MATCH (n:SocialNode {ward: $ward}) RETURN n.id AS id, n.name AS name, n.type AS type, n.x AS x, n.y AS y ORDER BY id`
	cypherLoadBridges = `MATCH (a:SocialNode {ward: $ward})-[r:TRUST_BRIDGE]->(c:SocialNode {ward: $ward})
RETURN a.id AS from, c.id AS to, r.strength AS strength ORDER BY from, to`
)

// Neo4jRepository stores ward networks in a Neo4j graph.
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jRepository connects to uri and verifies connectivity.
func NewNeo4jRepository(ctx context.Context, uri, username, password, database string, logger *slog.Logger) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}
	return &Neo4jRepository{driver: driver, database: database, logger: logger}, nil
}

// nodeParams converts nodes to Cypher parameters. Missing positions are null.
func nodeParams(nodes []models.SocialNode) ([]any, []any) {
	params := make([]any, 0, len(nodes))
	ids := make([]any, 0, len(nodes))
	for _, n := range nodes {
		var x, y any
		if n.X != nil {
			x = *n.X
		}
		if n.Y != nil {
			y = *n.Y
		}
		params = append(params, map[string]any{"id": n.ID, "name": n.Name, "type": n.Type, "x": x, "y": y})
		ids = append(ids, n.ID)
	}
	return params, ids
}

func bridgeParams(bridges []models.TrustBridge) []any {
	out := make([]any, 0, len(bridges))
	for _, b := range bridges {
		out = append(out, map[string]any{"from": b.From, "to": b.To, "strength": string(b.Strength)})
	}
	return out
}

// Save replaces the stored graph of ward with n in one transaction.
func (r *Neo4jRepository) Save(ctx context.Context, ward string, n Network) error {
	nodes, ids := nodeParams(n.Nodes)
	bridges := bridgeParams(n.Bridges)

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database, AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		steps := []struct {
			cypher string
			params map[string]any
		}{
			{cypherDeleteMissing, map[string]any{"ward": ward, "ids": ids}},
			{cypherDeleteBridges, map[string]any{"ward": ward}},
			{cypherMergeNodes, map[string]any{"ward": ward, "nodes": nodes}},
			{cypherMergeBridges, map[string]any{"ward": ward, "bridges": bridges}},
		}
		for _, s := range steps {
			res, err := tx.Run(ctx, s.cypher, s.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("saving network for %s: %w", ward, err)
	}
	r.logger.Info("network saved", "ward", ward, "nodes", len(n.Nodes), "bridges", len(n.Bridges))
	return nil
}

// Load reads the graph of ward.
func (r *Neo4jRepository) Load(ctx context.Context, ward string) (Network, error) {
	params := map[string]any{"ward": ward}
	nodesRes, err := neo4j.ExecuteQuery(ctx, r.driver, cypherLoadNodes, params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(r.database))
	if err != nil {
		return Network{}, fmt.Errorf("loading nodes for %s: %w", ward, err)
	}
	bridgesRes, err := neo4j.ExecuteQuery(ctx, r.driver, cypherLoadBridges, params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(r.database))
	if err != nil {
		return Network{}, fmt.Errorf("loading bridges for %s: %w", ward, err)
	}

	n := Network{Nodes: []models.SocialNode{}, Bridges: []models.TrustBridge{}}
	for _, rec := range nodesRes.Records {
		node := models.SocialNode{Ward: ward}
		node.ID, _, _ = neo4j.GetRecordValue[string](rec, "id")
		node.Name, _, _ = neo4j.GetRecordValue[string](rec, "name")
		node.Type, _, _ = neo4j.GetRecordValue[string](rec, "type")
		node.X = floatValue(rec, "x")
		node.Y = floatValue(rec, "y")
		n.Nodes = append(n.Nodes, node)
	}
	for _, rec := range bridgesRes.Records {
		var b models.TrustBridge
		b.From, _, _ = neo4j.GetRecordValue[string](rec, "from")
		b.To, _, _ = neo4j.GetRecordValue[string](rec, "to")
		strength, _, _ := neo4j.GetRecordValue[string](rec, "strength")
		b.Strength = models.BridgeStrength(strength)
		n.Bridges = append(n.Bridges, b)
	}
	return n, nil
}

func floatValue(rec *neo4j.Record, key string) *float64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return nil
	}
	switch f := v.(type) {
	case float64:
		return &f
	case int64:
		x := float64(f)
		return &x
	}
	return nil
}

// Close implements Repository.
func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
