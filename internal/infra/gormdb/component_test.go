package gormdb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildDSN(t *testing.T) {
	mysqlDSN, err := buildDSN(&DataSourceConfig{Host: "db", User: "ce", Password: "pw", Database: "ce"})
	if err != nil {
		t.Fatalf("mysql dsn: %v", err)
	}
	if !strings.HasPrefix(mysqlDSN, "ce:pw@tcp(db:3306)/ce?") || !strings.Contains(mysqlDSN, "parseTime=true") {
		t.Fatalf("unexpected mysql dsn %s", mysqlDSN)
	}

	pgDSN, err := buildDSN(&DataSourceConfig{Driver: "postgres", Host: "db", User: "ce", Password: "pw", Database: "ce",
		Params: map[string]string{"sslmode": "disable", "TimeZone": "UTC"}})
	if err != nil {
		t.Fatalf("pg dsn: %v", err)
	}
	if pgDSN != "host=db user=ce password=pw dbname=ce port=5432 TimeZone=UTC sslmode=disable" {
		t.Fatalf("unexpected pg dsn %s", pgDSN)
	}

	if _, err := buildDSN(&DataSourceConfig{Driver: "sqlite"}); err == nil {
		t.Fatalf("sqlite without database should fail")
	}
	if _, err := buildDSN(&DataSourceConfig{Host: "db"}); err == nil {
		t.Fatalf("mysql without user should fail")
	}
}

func TestCreateRejectsUnknownDriver(t *testing.T) {
	_, err := Create(&Config{Enabled: true, DataSources: map[string]*DataSourceConfig{
		"ce": {Driver: "oracle", DSN: "x"},
	}})
	if err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestStartSQLiteDataSource(t *testing.T) {
	cfg := &Config{Enabled: true, LogLevel: "silent", DataSources: map[string]*DataSourceConfig{
		"ce": {Driver: DriverSQLite, Database: filepath.Join(t.TempDir(), "ce.db"), PingOnStart: true},
	}}
	comp, err := Create(cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer comp.Stop(ctx)

	if err := comp.HealthCheck(); err != nil {
		t.Fatalf("health: %v", err)
	}
	db, err := comp.GetDB("ce")
	if err != nil {
		t.Fatalf("get db: %v", err)
	}
	var one int
	if err := db.Raw("SELECT 1").Scan(&one).Error; err != nil || one != 1 {
		t.Fatalf("select 1: %v %d", err, one)
	}
	if _, err := comp.GetDB("missing"); err == nil {
		t.Fatalf("expected missing datasource error")
	}
}
