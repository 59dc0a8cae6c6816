package observability

import (
	"testing"
	"time"

	"github.com/danmuck/botlink/internal/testutil/testlog"
)

func TestMetricsRecordWithoutPanic(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics() // idempotent

	RecordHTTPRequest("botlinkd", "GET", "/health", 200, 3*time.Millisecond)
	RecordCall("get_login_info", "ok", 12*time.Millisecond)
	RecordCall("get_login_info", "timeout", 100*time.Millisecond)
	SetPeerConnections(1)
	SetPendingRequests(2)
	RecordEvent("message")
	RecordEvent("")
	RecordDroppedFrame("malformed")
}
