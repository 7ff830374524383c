package httpserver

import "time"

// HTTPServerConfig defines server settings.
type HTTPServerConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Address         string        `yaml:"address" json:"address"`                   // e.g. ":8080"
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`         // whole request read, headers + body
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`       // response write
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`         // keep-alive idle
	GracefulTimeout time.Duration `yaml:"graceful_timeout" json:"graceful_timeout"` // in-flight requests during shutdown
	RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout"`   // per-handler timeout middleware
	EnableHealth    bool          `yaml:"enable_health" json:"enable_health"`
	// ServiceName injected from APPInfo.APPName
	ServiceName string `yaml:"-" json:"-"`
}

func (c *HTTPServerConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.GracefulTimeout == 0 {
		c.GracefulTimeout = 10 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.ServiceName == "" {
		c.ServiceName = "ceworker"
	}
}
