package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/codehz/bedweb/internal/config"
)

// TestPingOverWebsocket is scenario S1 from the specification, driven
// through the whole wired server the way the teacher's integration_test.go
// drives greenlight's relay through a real httptest.Server.
func TestPingOverWebsocket(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bedweb.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("listen: \":0\"\n"), 0o644))
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(os.Stderr)

	srv := New(cfg, log)
	httpServer := httptest.NewServer(srv.tp.Router())
	defer httpServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.reactor.Run(ctx)
	require.NoError(t, srv.timer.Start(time.Hour)) // keep telemetry quiet during this test
	defer srv.timer.Stop()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	req := map[string]any{"id": 1, "method": "ping", "params": nil}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, raw))

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(data, &resp))
	require.Equal(t, "pong", resp["result"])
}
