package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if c.DataSource != "ceworker" || c.Workers.PoolSize != 4 || c.Workers.PollInterval != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Workspace.Root == "" {
		t.Fatalf("workspace root default missing")
	}
	if GetBizConfig() == nil {
		t.Fatalf("global biz config not initialised")
	}
}

func TestValidateCapabilities(t *testing.T) {
	cases := []struct {
		name string
		cc   *CapabilityConfig
		ok   bool
	}{
		{"none", &CapabilityConfig{Kind: "none"}, true},
		{"empty", &CapabilityConfig{}, true},
		{"http ok", &CapabilityConfig{Kind: "http", URL: "http://views.local/refresh"}, true},
		{"http no url", &CapabilityConfig{Kind: "http"}, false},
		{"redis no channel", &CapabilityConfig{Kind: "redis"}, false},
		{"unknown", &CapabilityConfig{Kind: "grpc"}, false},
	}
	for _, tc := range cases {
		c := &BizConfig{Capabilities: map[string]*CapabilityConfig{"view_refresher": tc.cc}}
		err := c.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
	}
	c := &BizConfig{Capabilities: map[string]*CapabilityConfig{"view_refresher": {Kind: "http", URL: "http://x"}}}
	_ = c.Validate()
	if c.Capabilities["view_refresher"].Timeout != 10*time.Second {
		t.Fatalf("capability timeout default not applied")
	}
}
