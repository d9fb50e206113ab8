package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Log 是按用户分流的追加式审计日志。
// Append 不改写已有记录；Fetch 按追加顺序返回该用户的全部记录。
type Log interface {
	Append(ctx context.Context, rec Record) error
	Fetch(ctx context.Context, user string) ([]Record, error)
	Close() error
}

// Driver 标识审计日志的存储后端。
type Driver string

const (
	DriverFile   Driver = "file"
	DriverSQLite Driver = "sqlite"
	DriverRedis  Driver = "redis"
)

var (
	// ErrInvalidDriver 表示未知的存储后端。
	ErrInvalidDriver = errors.New("audit: invalid driver")
	// ErrInvalidConfig 表示后端缺少必要配置。
	ErrInvalidConfig = errors.New("audit: invalid config")
)

type logConfig struct {
	dir         string
	sqlitePath  string
	redisClient *redis.Client
	keyPrefix   string
	logger      *zap.Logger
}

// Option 配置 Open 创建的后端。
type Option func(*logConfig)

// WithDir 设置 file 后端的目录。
func WithDir(dir string) Option {
	return func(c *logConfig) { c.dir = dir }
}

// WithSQLitePath 设置 sqlite 后端的数据库文件。
func WithSQLitePath(path string) Option {
	return func(c *logConfig) { c.sqlitePath = path }
}

// WithRedisClient 设置 redis 后端使用的客户端。
func WithRedisClient(client *redis.Client) Option {
	return func(c *logConfig) { c.redisClient = client }
}

// WithKeyPrefix 设置 redis 列表键前缀。
func WithKeyPrefix(prefix string) Option {
	return func(c *logConfig) { c.keyPrefix = prefix }
}

// WithLogger 注入日志记录器。
func WithLogger(l *zap.Logger) Option {
	return func(c *logConfig) { c.logger = l }
}

// Open 按 driver 创建审计日志。
func Open(driver Driver, opts ...Option) (Log, error) {
	cfg := &logConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}

	switch driver {
	case DriverFile, "":
		if cfg.dir == "" {
			return nil, fmt.Errorf("%w: file driver requires a directory", ErrInvalidConfig)
		}
		return NewFileLog(cfg.dir, cfg.logger)
	case DriverSQLite:
		if cfg.sqlitePath == "" {
			return nil, fmt.Errorf("%w: sqlite driver requires a path", ErrInvalidConfig)
		}
		return NewSQLiteLog(cfg.sqlitePath)
	case DriverRedis:
		if cfg.redisClient == nil {
			return nil, fmt.Errorf("%w: redis driver requires a client", ErrInvalidConfig)
		}
		return NewRedisLog(cfg.redisClient, cfg.keyPrefix), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, driver)
	}
}
