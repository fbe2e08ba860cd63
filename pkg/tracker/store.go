package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/database"
	"dev/bravebird/form-submitter/pkg/models"
)

// ErrLocked is returned by Acquire when another run holds the store
var ErrLocked = models.ErrLocked

// ReleaseFunc gives up the exclusive run lock
type ReleaseFunc = func(ctx context.Context) error

// Store persists submission records. Implementations must make every successful write
// durable before returning.
type Store interface {
	// Load returns the record for key, or nil when there is none
	Load(ctx context.Context, key string) (*models.SubmissionRecord, error)
	// Create inserts rec; it reports false when a record for the key already exists
	Create(ctx context.Context, rec *models.SubmissionRecord) (bool, error)
	// Swap replaces the stored record if its version still equals expected
	Swap(ctx context.Context, rec *models.SubmissionRecord, expected int64) (bool, error)
	// List returns every record ordered by key
	List(ctx context.Context) ([]models.SubmissionRecord, error)
	// Acquire takes the exclusive run lock, failing with ErrLocked if it is held
	Acquire(ctx context.Context, owner string) (ReleaseFunc, error)
	Close() error
}

// Backend names a Store implementation
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendMySQL  Backend = "mysql"
	BackendRedis  Backend = "redis"
)

// Options selects and configures a backend
type Options struct {
	Backend     Backend
	MySQLDSN    string
	RedisAddr   string
	RedisPrefix string
	LockName    string
	LockTTL     time.Duration
	Logger      *zap.Logger
}

// NewStore opens the backend named in opts
func NewStore(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendMySQL:
		db, err := database.New(opts.MySQLDSN, opts.LockName)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendRedis:
		return database.NewRedisStore(opts.RedisAddr, opts.RedisPrefix, opts.LockTTL).WithLogger(opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown tracker backend %q", opts.Backend)
	}
}
