// Package config defines the storage adapter configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	kverrors "github.com/ryltsov/histkv/internal/errors"
)

// OnClosure selects what happens to persisted data when the adapter is
// closed.
type OnClosure int

const (
	// OnClosureDoNothing keeps all rows as they are.
	OnClosureDoNothing OnClosure = iota
	// OnClosureDropAll deletes every row from the history table.
	OnClosureDropAll
	// OnClosureDropTable drops the history table itself.
	OnClosureDropTable
)

// ParseOnClosure parses the on_closure configuration value.
// An empty string maps to OnClosureDoNothing.
func ParseOnClosure(s string) (OnClosure, error) {
	switch s {
	case "", "do_nothing":
		return OnClosureDoNothing, nil
	case "drop_all":
		return OnClosureDropAll, nil
	case "drop_table":
		return OnClosureDropTable, nil
	default:
		return OnClosureDoNothing, fmt.Errorf("%w: %q", kverrors.ErrUnknownOnClosure, s)
	}
}

// String returns the configuration form of the policy.
func (o OnClosure) String() string {
	switch o {
	case OnClosureDropAll:
		return "drop_all"
	case OnClosureDropTable:
		return "drop_table"
	default:
		return "do_nothing"
	}
}

// Config represents the complete adapter configuration.
type Config struct {
	// Store configures the backing DuckDB store.
	Store StoreConfig `yaml:"store"`

	// KeyExpr is the key expression scoping this adapter instance.
	KeyExpr string `yaml:"key_expr"`

	// KeyPrefix, if set, must be a literal prefix of KeyExpr. It is
	// stripped from keys at write time and re-added to query results.
	KeyPrefix string `yaml:"key_prefix"`

	// OnClosure is the teardown policy: do_nothing, drop_all or drop_table.
	OnClosure string `yaml:"on_closure"`

	// GracePeriod is how long a tombstoned key is kept before a
	// reclamation check may drop its rows.
	GracePeriod time.Duration `yaml:"grace_period"`

	// NodeID identifies this adapter instance in generated timestamps.
	NodeID string `yaml:"node_id"`

	// Query configures the query engine.
	Query QueryConfig `yaml:"query"`
}

// StoreConfig configures the backing store connection.
type StoreConfig struct {
	// Path is the DuckDB database file. Empty means in-memory.
	Path string `yaml:"path"`

	// Table is the history table name. Generated if absent.
	Table string `yaml:"table"`

	// CreateIfMissing creates the database file if it does not exist.
	CreateIfMissing bool `yaml:"create_if_missing"`

	// Username and Password are optional store credentials. They must be
	// set together.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	// StrictWildcards keeps the single-segment meaning of '*' when
	// translating key expressions. The default collapses '*' and '**'
	// to the same multi-segment match.
	StrictWildcards bool `yaml:"strict_wildcards"`

	// Timeout bounds individual store operations.
	Timeout time.Duration `yaml:"timeout"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			CreateIfMissing: true,
		},
		KeyExpr:     "**",
		GracePeriod: 5 * time.Second,
		NodeID:      "histkv",
		Query: QueryConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// tableNameRE restricts table names to plain SQL identifiers, since the
// table name is interpolated into statements.
var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.KeyExpr == "" {
		return fmt.Errorf("%w: key_expr", kverrors.ErrMissingProperty)
	}
	if c.KeyPrefix != "" {
		if strings.ContainsAny(c.KeyPrefix, "*") {
			return fmt.Errorf("%w: key_prefix %q must be literal", kverrors.ErrInvalidConfig, c.KeyPrefix)
		}
		if !strings.HasPrefix(c.KeyExpr, c.KeyPrefix) {
			return fmt.Errorf("%w: key_prefix %q is not a prefix of key_expr %q",
				kverrors.ErrPrefixMismatch, c.KeyPrefix, c.KeyExpr)
		}
	}
	if (c.Store.Username == "") != (c.Store.Password == "") {
		return kverrors.ErrCredentialsUnpaired
	}
	if c.Store.Table != "" && !tableNameRE.MatchString(c.Store.Table) {
		return fmt.Errorf("%w: table name %q", kverrors.ErrInvalidConfig, c.Store.Table)
	}
	if _, err := ParseOnClosure(c.OnClosure); err != nil {
		return err
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("%w: grace_period must be positive", kverrors.ErrInvalidConfig)
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("%w: query timeout must be positive", kverrors.ErrInvalidConfig)
	}
	return nil
}

// EnsureTable fills in a generated table name if none is configured and
// returns the effective name. The generated name is recorded back into
// the configuration so that it can be re-exposed for admin status.
func (c *Config) EnsureTable() string {
	if c.Store.Table == "" {
		c.Store.Table = GenerateTableName()
	}
	return c.Store.Table
}

// GenerateTableName returns a unique history table name.
func GenerateTableName() string {
	return "histkv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
