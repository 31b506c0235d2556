// Package config loads the hubcap configuration from a YAML file with environment overrides.
//
// # File format
//
//	log_level: info
//	log_format: text
//	inspection:
//	  timeout: 30s
//	  teardown_timeout: 5s
//	  parallelism: 4
//	watch:
//	  enabled: true
//	  debounce: 500ms
//	server:
//	  addr: ":9090"
//	tracing:
//	  enabled: false
//	  endpoint: localhost:4317
//	refresh:
//	  schedule: "@every 10m"
//	history:
//	  driver: sqlite3
//	  dsn: /var/lib/hubcap/history.db
//	  retention: 720h
//	  cleanup_schedule: "@daily"
//	redis:
//	  url: redis://localhost:6379/0
//	  prefix: hubcap
//	  ttl: 24h
//	repositories:
//	  - kind: directory
//	    settings:
//	      path: /opt/app/plugins
//	      timeout: 10s
//	  - kind: module
//	    settings:
//	      module: builtin
//	  - kind: s3
//	    settings:
//	      bucket: plugins
//	      prefix: prod/
//
// # Environment overrides
//
//	HUBCAP_LOG_LEVEL="debug"
//	HUBCAP_LOG_FORMAT="json"
//	HUBCAP_INSPECTION_TIMEOUT="30s"
//	HUBCAP_TEARDOWN_TIMEOUT="5s"
//	HUBCAP_INSPECTION_PARALLELISM="4"
//	HUBCAP_WATCH_ENABLED="true"
//	HUBCAP_WATCH_DEBOUNCE="500ms"
//	HUBCAP_ADDR=":9090"
//	HUBCAP_SHUTDOWN_TIMEOUT="30s"
//	HUBCAP_OTEL_ENABLED="true"
//	HUBCAP_OTEL_ENDPOINT="localhost:4317"
//	HUBCAP_OTEL_SERVICE_NAME="hubcap"
//	HUBCAP_OTEL_INSECURE="true"
//	HUBCAP_REFRESH_SCHEDULE="@every 10m"
//	HUBCAP_HISTORY_DRIVER="postgres"
//	HUBCAP_HISTORY_DSN="postgres://hubcap@localhost/hubcap?sslmode=disable"
//	HUBCAP_HISTORY_RETENTION="720h"
//	HUBCAP_REDIS_URL="redis://localhost:6379/0"
//	HUBCAP_REDIS_PASSWORD="secret"
//	HUBCAP_REDIS_DB="0"
//	HUBCAP_PLUGIN_DIRS="/opt/a,/opt/b"   # appended as directory repositories
package config
