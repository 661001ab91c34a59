package migrate

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/avsav1n/stackd/pkg/errors"
)

// Config carries the database connection settings shared between the
// database service and the application's database client. User and
// Password are part of the external contract and are passed through to
// drivers that need them; the sqlite driver only uses Name.
type Config struct {
	Driver   string `yaml:"driver,omitempty"`
	Name     string `yaml:"name"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// FromEnv builds a Config from the environment variables provided by
// the stack manifest: DB_NAME, DB_USER, DB_PASSWORD and optionally
// DB_DRIVER.
func FromEnv() Config {
	config := Config{
		Driver:   os.Getenv("DB_DRIVER"),
		Name:     os.Getenv("DB_NAME"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
	}
	if config.Driver == "" {
		config.Driver = "sqlite"
	}
	if config.Name == "" {
		config.Name = "app"
	}
	return config
}

// Open opens the database described by the config.
func Open(config Config) (*sql.DB, error) {
	if config.Name == "" {
		return nil, errors.NewValidationError("database name cannot be empty", nil)
	}

	switch config.Driver {
	case "", "sqlite":
		// busy_timeout makes concurrent migrators queue on the write
		// lock instead of failing with SQLITE_BUSY.
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)", config.Name)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, errors.NewIOError("failed to open database", err).WithContext("name", config.Name)
		}
		return db, nil

	default:
		return nil, errors.NewValidationError("unsupported database driver: "+config.Driver, nil)
	}
}
