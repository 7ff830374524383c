package telemetry

import "time"

type ExporterType string

const (
	ExporterStdout ExporterType = "stdout"
	ExporterOTLP   ExporterType = "otlp"
)

type OTLPConfig struct {
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Insecure bool          `yaml:"insecure" json:"insecure"`
	Timeout  time.Duration `yaml:"timeout"  json:"timeout"`
}

type Config struct {
	Enabled     bool         `yaml:"enabled"      json:"enabled"`
	ServiceName string       `yaml:"service_name" json:"service_name"`
	Exporter    ExporterType `yaml:"exporter"     json:"exporter"` // stdout|otlp
	SampleRatio float64      `yaml:"sample_ratio" json:"sample_ratio"`
	OTLP        *OTLPConfig  `yaml:"otlp"         json:"otlp"`
}

func (c *Config) applyDefaults() {
	if c.SampleRatio <= 0 || c.SampleRatio > 1 {
		c.SampleRatio = 1.0
	}
	if c.Exporter == "" {
		c.Exporter = ExporterStdout
	}
	if c.OTLP != nil && c.OTLP.Timeout <= 0 {
		c.OTLP.Timeout = 5 * time.Second
	}
}
