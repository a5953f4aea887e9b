// Package graph provides the Memgraph/Neo4j storage layer for entities,
// orphans, data items, and the relationships between them, using the Bolt
// protocol.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/thistle/pkg/errs"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// defaultQueryTimeout bounds a single query or transaction when no timeout is
// configured.
const defaultQueryTimeout = 10 * time.Second

// Client wraps the Neo4j driver for Memgraph compatibility
type Client struct {
	driver  neo4j.DriverWithContext
	logger  ectologger.Logger
	timeout time.Duration
}

// Config holds graph database configuration
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// QueryTimeout bounds every query and transaction issued through the
	// client. Zero means defaultQueryTimeout.
	QueryTimeout time.Duration
}

// NewClient creates a new graph database client
func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	uri := fmt.Sprintf("bolt://%s:%d", cfg.Host, cfg.Port)

	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}

	return &Client{
		driver:  driver,
		logger:  logger,
		timeout: timeout,
	}, nil
}

// Close closes the driver connection
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// VerifyConnectivity checks if the database is reachable
func (c *Client) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// Session creates a new session with the given access mode
func (c *Client) Session(ctx context.Context, accessMode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode: accessMode,
	})
}

type txKey struct{}

// WithWriteTx runs fn inside a single managed write transaction. Every query
// issued through the client with the context passed to fn joins that
// transaction; an error from fn rolls the whole transaction back.
func (c *Client) WithWriteTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.WithWriteTx")
	defer span.End()

	if txFromContext(ctx) != nil {
		// Already inside a transaction; join it.
		return fn(ctx)
	}

	ctx, cancel := c.queryContext(ctx)
	defer cancel()

	session := c.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(context.WithValue(ctx, txKey{}, tx))
	})
	return asUnavailable(err)
}

func txFromContext(ctx context.Context) neo4j.ManagedTransaction {
	tx, _ := ctx.Value(txKey{}).(neo4j.ManagedTransaction)
	return tx
}

// queryContext bounds a standalone query with the client timeout. Contexts
// already inside a transaction are returned unchanged: the transaction that
// opened them carries the deadline.
func (c *Client) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if txFromContext(ctx) != nil {
		return ctx, func() {}
	}
	timeout := c.timeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// asUnavailable classifies driver failures (connection refused, timeouts) as
// retryable. Errors that already carry a kind pass through unchanged.
func asUnavailable(err error) error {
	if err == nil || errs.KindOf(err) != "" {
		return err
	}
	return errs.Unavailable("", err)
}

// ReadRecords runs a read query and collects all records. Joins the
// transaction in ctx when present.
func (c *Client) ReadRecords(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.ReadRecords")
	defer span.End()

	if tx := txFromContext(ctx); tx != nil {
		records, err := collect(ctx, tx, cypher, params)
		return records, asUnavailable(err)
	}

	ctx, cancel := c.queryContext(ctx)
	defer cancel()

	session := c.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, asUnavailable(err)
	}
	return records.([]*neo4j.Record), nil
}

// WriteRecords runs a write query and collects all records. Joins the
// transaction in ctx when present.
func (c *Client) WriteRecords(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.WriteRecords")
	defer span.End()

	if tx := txFromContext(ctx); tx != nil {
		records, err := collect(ctx, tx, cypher, params)
		return records, asUnavailable(err)
	}

	ctx, cancel := c.queryContext(ctx)
	defer cancel()

	session := c.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	records, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, asUnavailable(err)
	}
	return records.([]*neo4j.Record), nil
}

func collect(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}
