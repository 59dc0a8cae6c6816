package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes a commented starter config. It refuses to clobber an
// existing file unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(serviceTemplate), 0o600)
}

const serviceTemplate = `# botlink daemon configuration

# Address the bot runtime dials back to over WebSocket.
listen_addr = ":3001"

# Operator-facing HTTP surface: health, readiness, status, metrics.
admin_addr = "127.0.0.1:9300"
cors_origins = ["http://localhost:3000"]

# Per-call deadline when the caller passes none.
call_timeout = "60s"

# Transient-fault retry facade.
retry_attempts = 3
retry_delay = "2s"

# Concurrently pending calls; 0 disables the cap.
max_in_flight = 64

# Heartbeat probe cadence and the silence window after which the peer
# connection is declared dead.
ping_interval = "30s"
dead_after = "60s"

event_buffer = 128
shutdown_grace = "5s"

[tls]
enabled = false
cert_file = ""
key_file = ""
`
