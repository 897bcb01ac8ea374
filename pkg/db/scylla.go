package db

import (
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Session struct {
	*gocql.Session
}

func cluster(hosts []string, keyspace string) *gocql.ClusterConfig {
	c := gocql.NewCluster(hosts...)
	c.Keyspace = keyspace
	c.Consistency = gocql.Quorum
	c.SerialConsistency = gocql.LocalSerial
	c.Timeout = 5 * time.Second
	c.ConnectTimeout = 5 * time.Second

	// Retry policy
	c.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}
	return c
}

func NewSession(hosts []string, keyspace string, log *zap.Logger) (*Session, error) {
	session, err := cluster(hosts, keyspace).CreateSession()
	if err != nil {
		return nil, errors.Wrapf(err, "connect scylla %v", hosts)
	}

	log.Info("connected to scylla", zap.Strings("hosts", hosts), zap.String("keyspace", keyspace))
	return &Session{Session: session}, nil
}

// CreateKeyspace makes sure keyspace exists, connecting through the system
// keyspace to do so.
func CreateKeyspace(hosts []string, keyspace string, log *zap.Logger) error {
	sys, err := NewSession(hosts, "system", log)
	if err != nil {
		return err
	}
	defer sys.Close()

	stmt := `CREATE KEYSPACE IF NOT EXISTS ` + keyspace +
		` WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`
	if err := sys.Query(stmt).Exec(); err != nil {
		return errors.Wrapf(err, "create keyspace %s", keyspace)
	}
	return nil
}
