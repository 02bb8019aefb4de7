package server

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sakuradb/sakura/config"
)

func setupServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Storage.FlushInterval = 50 * time.Millisecond

	srv, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, srv.Close(context.Background())) })
	return srv
}

func TestServerLifecycle(t *testing.T) {
	srv := setupServer(t)

	tbl, err := srv.Engine.CreateTable("users", srv.TablePath("users"), 8)
	require.NoError(t, err)

	txn, err := srv.TxnMgr.Begin()
	require.NoError(t, err)
	ctx := srv.TxnMgr.Context(txn)

	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data, 42)
	rid, err := tbl.InsertRecord(ctx, data)
	require.NoError(t, err)
	require.NoError(t, srv.TxnMgr.Commit(txn))

	txn2, err := srv.TxnMgr.Begin()
	require.NoError(t, err)
	got, err := tbl.GetRecord(srv.TxnMgr.Context(txn2), rid)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.NoError(t, srv.TxnMgr.Commit(txn2))
}

func TestServerPaths(t *testing.T) {
	srv := setupServer(t)
	require.Equal(t, filepath.Join(srv.DataDir, "users.tbl"), srv.TablePath("users"))
	require.Equal(t, filepath.Join(srv.DataDir, "users_pk.idx"), srv.IndexPath("users", "pk"))
}

// The background flusher keeps running while the server is up; closing
// stops it cleanly after a final flush.
func TestServerFlusherRuns(t *testing.T) {
	srv := setupServer(t)

	tbl, err := srv.Engine.CreateTable("t", srv.TablePath("t"), 8)
	require.NoError(t, err)

	txn, err := srv.TxnMgr.Begin()
	require.NoError(t, err)
	_, err = tbl.InsertRecord(srv.TxnMgr.Context(txn), make([]byte, 8))
	require.NoError(t, err)
	require.NoError(t, srv.TxnMgr.Commit(txn))

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 0, srv.Pool.PinnedFrames())
}
