package consts

const (
	ENV_PRODUCTION  = "production"
	ENV_DEVELOPMENT = "development"
	ENV_TEST        = "test"

	DEFAULT_CONFIG_PATH = "config.yaml"

	KEY_TraceID = "trace_id"
)

const (
	COMPONENT_LOGGING     = "logging"
	COMPONENT_HTTP_SERVER = "http_server"
	COMPONENT_GORM        = "gorm"
	COMPONENT_REDIS       = "redis"
	COMPONENT_PROMETHEUS  = "prometheus"
	COMPONENT_TELEMETRY   = "telemetry"
)
