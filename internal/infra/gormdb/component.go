package gormdb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	mysqlDriver "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
)

// GormComponent manages one *gorm.DB per datasource.
type GormComponent struct {
	*core.BaseComponent
	cfg   *Config
	dbs   map[string]*gorm.DB
	mutex sync.RWMutex
	log   logger.Interface
}

func NewGormComponent(cfg *Config) *GormComponent {
	return &GormComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_GORM, consts.COMPONENT_LOGGING),
		cfg:           cfg,
		dbs:           make(map[string]*gorm.DB),
		log:           newGormLogger(cfg),
	}
}

// Create validates cfg and builds the component.
func Create(cfg *Config) (*GormComponent, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("gorm component disabled")
	}
	if len(cfg.DataSources) == 0 {
		return nil, fmt.Errorf("gorm component has no data_sources")
	}
	for name, ds := range cfg.DataSources {
		if ds == nil {
			return nil, fmt.Errorf("datasource %s config is nil", name)
		}
		if _, err := dialectorFor(ds); err != nil {
			return nil, fmt.Errorf("datasource %s: %w", name, err)
		}
	}
	return NewGormComponent(cfg), nil
}

func (c *GormComponent) Start(ctx context.Context) error {
	if err := c.BaseComponent.Start(ctx); err != nil {
		return err
	}
	for name, ds := range c.cfg.DataSources {
		gormDB, err := Open(ds, c.log)
		if err != nil {
			return fmt.Errorf("open gorm db %s failed: %w", name, err)
		}
		if ds.PingOnStart {
			sqlDB, err := gormDB.DB()
			if err != nil {
				return fmt.Errorf("get underlying sql.DB for %s failed: %w", name, err)
			}
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = sqlDB.PingContext(pingCtx)
			cancel()
			if err != nil {
				_ = sqlDB.Close()
				return fmt.Errorf("ping gorm db %s failed: %w", name, err)
			}
		}

		c.mutex.Lock()
		c.dbs[name] = gormDB
		c.mutex.Unlock()
		logging.Infof(ctx, "[gorm] datasource %s (%s) initialized", name, driverOf(ds))
	}
	logging.Infof(ctx, "[gorm] started. data sources=%v", c.listNames())
	return nil
}

func (c *GormComponent) Stop(ctx context.Context) error {
	defer func() { _ = c.BaseComponent.Stop(ctx) }()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for name, gdb := range c.dbs {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
		logging.Infof(ctx, "[gorm] datasource %s closed", name)
	}
	c.dbs = make(map[string]*gorm.DB)
	return nil
}

func (c *GormComponent) HealthCheck() error {
	if err := c.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for name, gdb := range c.dbs {
		sqlDB, err := gdb.DB()
		if err != nil {
			return fmt.Errorf("datasource %s get sql.DB failed: %w", name, err)
		}
		if err := sqlDB.Ping(); err != nil {
			return fmt.Errorf("datasource %s ping failed: %w", name, err)
		}
	}
	return nil
}

func (c *GormComponent) GetDB(name string) (*gorm.DB, error) {
	c.mutex.RLock()
	db, ok := c.dbs[name]
	c.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gorm datasource %s not found", name)
	}
	return db, nil
}

func (c *GormComponent) listNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	names := make([]string, 0, len(c.dbs))
	for k := range c.dbs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Open opens one datasource and applies pool settings. Exposed for tests and tools.
func Open(ds *DataSourceConfig, log logger.Interface) (*gorm.DB, error) {
	dialector, err := dialectorFor(ds)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = newGormLogger(nil)
	}
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   log,
		SkipDefaultTransaction:                   ds.SkipDefaultTransaction,
		PrepareStmt:                              ds.PrepareStmt,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB failed: %w", err)
	}

	maxOpen, maxIdle := ds.MaxOpenConns, ds.MaxIdleConns
	if driverOf(ds) == DriverSQLite {
		// sqlite 只允许单写连接
		maxOpen, maxIdle = 1, 1
	}
	if maxOpen <= 0 {
		maxOpen = 50
	}
	if maxIdle <= 0 {
		maxIdle = 10
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if ds.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(ds.ConnMaxLife)
	} else {
		sqlDB.SetConnMaxLifetime(60 * time.Minute)
	}
	if ds.ConnMaxIdle > 0 {
		sqlDB.SetConnMaxIdleTime(ds.ConnMaxIdle)
	}
	return gormDB, nil
}

func driverOf(ds *DataSourceConfig) string {
	d := strings.ToLower(strings.TrimSpace(ds.Driver))
	if d == "" {
		return DriverMySQL
	}
	return d
}

func dialectorFor(ds *DataSourceConfig) (gorm.Dialector, error) {
	dsn, err := buildDSN(ds)
	if err != nil {
		return nil, err
	}
	switch driverOf(ds) {
	case DriverMySQL:
		return mysqlDriver.New(mysqlDriver.Config{DSN: dsn}), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported gorm driver: %s", ds.Driver)
	}
}

// buildDSN builds DSN from datasource pieces if DSN not provided.
func buildDSN(ds *DataSourceConfig) (string, error) {
	if strings.TrimSpace(ds.DSN) != "" {
		return ds.DSN, nil
	}
	driver := driverOf(ds)
	if driver == DriverSQLite {
		if ds.Database == "" {
			return "", errors.New("database (file path) required for sqlite when dsn not provided")
		}
		return ds.Database, nil
	}
	if ds.Host == "" || ds.User == "" || ds.Database == "" {
		return "", errors.New("host, user, database required when dsn not provided")
	}
	if driver == DriverPostgres {
		port := ds.Port
		if port == 0 {
			port = 5432
		}
		base := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d", ds.Host, ds.User, ds.Password, ds.Database, port)
		keys := make([]string, 0, len(ds.Params))
		for k := range ds.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			base += fmt.Sprintf(" %s=%s", k, ds.Params[k])
		}
		return base, nil
	}
	port := ds.Port
	if port == 0 {
		port = 3306
	}
	params := url.Values{}
	params.Set("parseTime", "true")
	params.Set("charset", "utf8mb4")
	params.Set("loc", "Local")
	for k, v := range ds.Params {
		params.Set(k, v)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", ds.User, ds.Password, ds.Host, port, ds.Database, params.Encode()), nil
}

// gormLogger routes gorm output into the logging component.
type gormLogger struct {
	logLevel      logger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(cfg *Config) logger.Interface {
	lvl := logger.Warn
	slow := 200 * time.Millisecond
	if cfg != nil {
		switch strings.ToLower(cfg.LogLevel) {
		case "silent":
			lvl = logger.Silent
		case "error":
			lvl = logger.Error
		case "warn", "warning":
			lvl = logger.Warn
		case "info", "debug":
			lvl = logger.Info
		}
		if cfg.SlowThreshold > 0 {
			slow = cfg.SlowThreshold
		}
	}
	return &gormLogger{logLevel: lvl, slowThreshold: slow}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	nl := *l
	nl.logLevel = level
	return &nl
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		logging.Infof(ctx, "[gorm] "+msg, data...)
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		logging.Warnf(ctx, "[gorm] "+msg, data...)
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		logging.Errorf(ctx, "[gorm] "+msg, data...)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sqlStr, rows := fc()
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.logLevel >= logger.Error {
		logging.Errorf(ctx, "[gorm] error elapsed=%s rows=%d sql=%s err=%v", elapsed, rows, sqlStr, err)
		return
	}
	if l.slowThreshold > 0 && elapsed > l.slowThreshold && l.logLevel >= logger.Warn {
		logging.Warnf(ctx, "[gorm] slow elapsed=%s threshold=%s rows=%d sql=%s", elapsed, l.slowThreshold, rows, sqlStr)
		return
	}
	if l.logLevel >= logger.Info {
		logging.Debugf(ctx, "[gorm] elapsed=%s rows=%d sql=%s", elapsed, rows, sqlStr)
	}
}
