package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"chatrelay-backend/pkg/config"
	"chatrelay-backend/pkg/metrics"
)

// DefaultCassandraQueryTimeout applies when neither config nor ctx sets one
const DefaultCassandraQueryTimeout = 5 * time.Second

// CassandraDB wraps the gocql Session with context support
type CassandraDB struct {
	Session *gocql.Session
}

// NewCassandraDB connects to the message log keyspace
func NewCassandraDB(cfg config.CassandraConfig, username, password string) (*CassandraDB, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.Timeout = cfg.Timeout
	if cluster.Timeout <= 0 {
		cluster.Timeout = DefaultCassandraQueryTimeout
	}

	if username != "" && password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: username,
			Password: password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}
	return &CassandraDB{Session: session}, nil
}

func parseConsistency(level string) gocql.Consistency {
	switch strings.ToUpper(level) {
	case "ONE":
		return gocql.One
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "ALL":
		return gocql.All
	default:
		return gocql.Quorum
	}
}

func (c *CassandraDB) Close() {
	c.Session.Close()
}

// QueryWithContext binds the query to ctx so cancellation reaches the driver
func (c *CassandraDB) QueryWithContext(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return c.Session.Query(stmt, values...).WithContext(ctx)
}

// ExecWithContext executes a statement and records its duration under operation
func (c *CassandraDB) ExecWithContext(ctx context.Context, operation, stmt string, values ...interface{}) error {
	start := time.Now()
	err := c.QueryWithContext(ctx, stmt, values...).Exec()
	ObserveCassandra(operation, start, err)
	return err
}

// ObserveCassandra records duration and failures for a query
func ObserveCassandra(operation string, start time.Time, err error) {
	metrics.CassandraQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CassandraQueryErrorTotal.WithLabelValues(operation).Inc()
	}
}
