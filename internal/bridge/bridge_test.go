package bridge

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vobby/vobby/internal/bridge/config"
	"github.com/vobby/vobby/internal/infmsg"
	"github.com/vobby/vobby/internal/utils"
	"github.com/vobby/vobby/internal/wsproto"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	addr, err := utils.FreeAddr()
	require.NoError(t, err)
	return addr
}

func readMsg(t *testing.T, conn *websocket.Conn) *infmsg.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	msg, _, err := wsproto.Unmarshal(typ, data)
	require.NoError(t, err)
	return msg
}

func TestBridgeEndToEnd(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(wsproto.HeaderEncoding, "json")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		<-stop
	}))
	defer srv.Close()
	defer close(stop)

	root := t.TempDir()
	cfg := &config.Config{
		User:       "alice",
		ServerURL:  srv.URL,
		Root:       root,
		RuntimeDir: t.TempDir(),
		NetBeans:   config.NetBeansConfig{Addr: freeAddr(t), Password: "pw"},
		ControlPlane: config.ControlPlaneConfig{
			Addr:  freeAddr(t),
			Token: "secret",
		},
	}
	require.NoError(t, cfg.Validate())

	b, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	var conn *websocket.Conn
	select {
	case conn = <-conns:
	case <-time.After(3 * time.Second):
		t.Fatal("bridge never connected")
	}

	typ, data, err := wsproto.Marshal(infmsg.NewWelcome(1), wsproto.EncodingJSON)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, typ, data))

	msg := readMsg(t, conn)
	require.Equal(t, infmsg.MsgExploreNode, msg.Type)
	assert.Equal(t, uint32(0), msg.Data.(*infmsg.ExploreNode).ID)

	// the control plane reports the connection
	statusURL := "http://" + cfg.ControlPlane.Addr + "/v1/status?token=secret"
	require.Eventually(t, func() bool {
		resp, err := http.Get(statusURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Bridge struct {
				Connected bool `json:"connected"`
			} `json:"bridge"`
		}
		return resp.StatusCode == http.StatusOK &&
			json.NewDecoder(resp.Body).Decode(&body) == nil &&
			body.Bridge.Connected
	}, 3*time.Second, 20*time.Millisecond)

	// opening an unknown file in the editor asks the server to create it
	vim, err := net.Dial("tcp", cfg.NetBeans.Addr)
	require.NoError(t, err)
	defer vim.Close()
	_, err = vim.Write([]byte("AUTH pw\n0:fileOpened=0 \"" + filepath.Join(root, "a.txt") + "\" T F\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(vim).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "1:putBufferNumber!1")

	msg = readMsg(t, conn)
	require.Equal(t, infmsg.MsgAddNode, msg.Type)
	add := msg.Data.(*infmsg.AddNode)
	assert.Equal(t, uint32(0), add.Parent)
	assert.Equal(t, "a.txt", add.Name)
	assert.False(t, add.IsDirectory())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.NoFileExists(t, cfg.LockFilePath())
}

func TestBridgeLockedRuntimeDir(t *testing.T) {
	rt := t.TempDir()
	newCfg := func() *config.Config {
		cfg := &config.Config{
			User:         "alice",
			ServerURL:    "ws://127.0.0.1:1",
			Root:         t.TempDir(),
			RuntimeDir:   rt,
			NetBeans:     config.NetBeansConfig{Addr: freeAddr(t)},
			ControlPlane: config.ControlPlaneConfig{Addr: freeAddr(t)},
		}
		require.NoError(t, cfg.Validate())
		return cfg
	}

	first, err := New(newCfg())
	require.NoError(t, err)
	require.NoError(t, first.workspace.Lock())
	defer first.workspace.Unlock()

	second, err := New(newCfg())
	require.NoError(t, err)
	err = second.Start(context.Background())
	assert.ErrorContains(t, err, "locked")
}
