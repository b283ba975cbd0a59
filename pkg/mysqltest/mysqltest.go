// Package mysqltest runs a disposable MariaDB container for unit tests.
package mysqltest

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
)

// DB is a MariaDB server in Docker with a connected sqlx client.
type DB struct {
	DB       *sqlx.DB
	Resource *dockertest.Resource
	pool     *dockertest.Pool
}

// New starts a MariaDB container and waits for it to accept connections.
// Tests are skipped when no Docker daemon is reachable.
func New(t testing.TB) *DB {
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skip("Docker not available:", err)
	}
	pool.MaxWait = 2 * time.Minute
	var passBytes [16]byte
	_, err = rand.Read(passBytes[:])
	require.NoError(t, err, "Getting random password bytes")
	password := hex.EncodeToString(passBytes[:])
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mariadb",
		Tag:        "10.5",
		Env: []string{
			"MYSQL_DATABASE=mysqltest",
			"MYSQL_ROOT_PASSWORD=" + password,
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err, "Creating MariaDB container")
	sqlConfig := mysql.NewConfig()
	sqlConfig.User = "root"
	sqlConfig.Passwd = password
	sqlConfig.Net = "tcp"
	sqlConfig.Addr = "localhost:" + resource.GetPort("3306/tcp")
	sqlConfig.DBName = "mysqltest"
	sqlConfig.ParseTime = true
	sqlConfig.AllowNativePasswords = true
	var db *sqlx.DB
	err = pool.Retry(func() error {
		var err error
		db, err = sqlx.Open("mysql", sqlConfig.FormatDSN())
		if err != nil {
			return err
		}
		return db.Ping()
	})
	require.NoError(t, err, "Connecting to MariaDB")
	t.Log("mysqltest: MariaDB is up")
	return &DB{DB: db, Resource: resource, pool: pool}
}

// Close tears down the client and the container.
func (d *DB) Close(t testing.TB) {
	_ = d.DB.Close()
	if err := d.pool.Purge(d.Resource); err != nil {
		t.Log("mysqltest: Failed to purge container:", err)
	}
}
