package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dieguito9000/rskj/chaincfg"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/netsync"
	"github.com/dieguito9000/rskj/settings"
	"github.com/dieguito9000/rskj/ulogger"
	"github.com/dieguito9000/rskj/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(peers, initialBlocks int) *settings.Settings {
	tSettings := test.CreateBaseTestSettings()
	tSettings.Simulation = settings.SimulationSettings{
		Peers:         peers,
		InitialBlocks: initialBlocks,
		Timeout:       20 * time.Second,
	}

	return tSettings
}

func testLoggerFactory(_ string) ulogger.Logger {
	return &ulogger.TestLogger{}
}

func TestSimulate(t *testing.T) {
	result, err := Simulate(context.Background(), testSettings(2, 30), WithLoggerFactory(testLoggerFactory))
	require.NoError(t, err)

	assert.Equal(t, uint64(30), result.TargetNumber)
	require.Len(t, result.Nodes, 3)

	for _, node := range result.Nodes {
		assert.True(t, node.Synced, node.NodeID)
		assert.Equal(t, result.TargetHash, node.BestBlockHash, node.NodeID)
		assert.Equal(t, 0, node.PunishedPeers, node.NodeID)
	}

	assert.Equal(t, "local", result.Nodes[0].NodeID)
}

func TestSimulateNeedsPeers(t *testing.T) {
	_, err := Simulate(context.Background(), testSettings(0, 10), WithLoggerFactory(testLoggerFactory))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	t.Run("simulation off regtest", func(t *testing.T) {
		tSettings := testSettings(1, 10)
		tSettings.Network = "mainnet"
		tSettings.ChainCfgParams = &chaincfg.MainNetParams

		_, err := New(tSettings, WithLoggerFactory(testLoggerFactory))
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
	})

	t.Run("invalid sync settings", func(t *testing.T) {
		tSettings := testSettings(1, 10)
		tSettings.Sync.ChunkSize = 0

		_, err := New(tSettings, WithLoggerFactory(testLoggerFactory))
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
	})

	t.Run("unknown store scheme", func(t *testing.T) {
		tSettings := testSettings(0, 0)
		tSettings.BlockChain.StoreURL.Scheme = "leveldb"

		_, err := New(tSettings, WithLoggerFactory(testLoggerFactory))
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
	})
}

func getJSON(t *testing.T, url string, expectedStatus int, target interface{}) {
	t.Helper()

	resp, err := http.Get(url) //nolint:gosec // test server
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, expectedStatus, resp.StatusCode, string(body))

	if target != nil {
		require.NoError(t, json.Unmarshal(body, target), string(body))
	}
}

func TestDaemonStatusAPI(t *testing.T) {
	tSettings := testSettings(1, 12)
	tSettings.Status.Enabled = true
	tSettings.Status.HTTPListenAddress = "127.0.0.1:0"

	d, err := New(tSettings, WithLoggerFactory(testLoggerFactory))
	require.NoError(t, err)

	readyCh := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		errCh <- d.Start(readyCh)
	}()

	select {
	case <-readyCh:
	case err = <-errCh:
		t.Fatalf("daemon stopped early: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, d.WaitForSync(ctx, 20*time.Millisecond))

	base := "http://" + d.StatusAddr()

	t.Run("status", func(t *testing.T) {
		var status statusResponse

		getJSON(t, base+"/api/v1/status", http.StatusOK, &status)

		assert.Equal(t, "local", status.Node)
		assert.Equal(t, uint64(12), status.Chain.BestBlockNumber)
		assert.Equal(t, 1, status.Sync.ConnectedPeers)
		assert.Equal(t, 0, status.Orphans)
	})

	t.Run("peers", func(t *testing.T) {
		var peers peersResponse

		getJSON(t, base+"/api/v1/peers", http.StatusOK, &peers)

		require.Len(t, peers.Sessions, 1)
		assert.Equal(t, "sim-1", peers.Sessions[0].Peer.NodeID)
		assert.False(t, peers.Sessions[0].Punished)
		assert.NotEmpty(t, peers.Scoring)
	})

	t.Run("blocks", func(t *testing.T) {
		best, _, err := d.Local().Chain.GetBestBlock(ctx)
		require.NoError(t, err)

		var block blockResponse

		getJSON(t, base+"/api/v1/blocks/"+best.Hash().String(), http.StatusOK, &block)

		assert.Equal(t, uint64(12), block.Number)
		assert.Equal(t, best.ParentHash().String(), block.ParentHash)
		assert.True(t, block.OnMainChain)
		assert.Equal(t, 1, block.TxCount)

		var apiErr errorResponse

		getJSON(t, base+"/api/v1/blocks/not-a-hash", http.StatusBadRequest, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)

		unknown := test.GenerateChain(best, 1, "unknown")[0]
		getJSON(t, base+"/api/v1/blocks/"+unknown.Hash().String(), http.StatusNotFound, &apiErr)
	})

	t.Run("health", func(t *testing.T) {
		getJSON(t, base+"/health/liveness", http.StatusOK, nil)

		var report map[string]interface{}

		getJSON(t, base+"/health", http.StatusOK, &report)
		assert.Contains(t, report, "services")
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(base + "/metrics") //nolint:gosec // test server
		require.NoError(t, err)

		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "rskj_")
	})

	d.Stop()

	select {
	case err = <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestNodeBannedAddresses(t *testing.T) {
	ctx := context.Background()
	tSettings := testSettings(0, 0)

	newNode := func() (*Node, error) {
		network := netsync.NewMemoryNetwork()
		identity := model.NewPeerIdentity("node-1", "10.0.0.1:5050")

		return NewNode(ctx, testLoggerFactory, tSettings, clock.New(), identity, network.NewEndpoint(identity), tSettings.BlockChain.StoreURL)
	}

	t.Run("loaded from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "banned.txt")
		require.NoError(t, os.WriteFile(path, []byte("# known abusers\n10.1.0.0/16\n192.168.1.7\n"), 0o600))

		tSettings.Scoring.BannedFile = path

		node, err := newNode()
		require.NoError(t, err)

		defer node.Close()

		assert.Len(t, node.Scoring.ListBannedAddresses(), 2)
		assert.True(t, node.Scoring.IsPunished(model.NewPeerIdentity("node-9", "10.1.4.4:5050")))
	})

	t.Run("missing file", func(t *testing.T) {
		tSettings.Scoring.BannedFile = filepath.Join(t.TempDir(), "missing.txt")

		_, err := newNode()
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
	})
}

func TestMiner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tSettings := testSettings(0, 0)
	network := netsync.NewMemoryNetwork()
	identity := model.NewPeerIdentity("sim-1", "mem://sim-1")

	mockClock := clock.NewMock()
	mockClock.Set(test.GenesisTime)

	node, err := NewNode(ctx, testLoggerFactory, tSettings, mockClock, identity, network.NewEndpoint(identity), tSettings.BlockChain.StoreURL)
	require.NoError(t, err)

	defer node.Close()

	miner := NewMiner(&ulogger.TestLogger{}, node, mockClock, time.Second)

	readyCh := make(chan struct{})

	go func() {
		_ = miner.Start(ctx, readyCh)
	}()

	<-readyCh

	for i := 1; i <= 3; i++ {
		mockClock.Add(time.Second)

		expected := uint64(i)

		require.Eventually(t, func() bool {
			status, err := node.BestStatus(ctx)
			return err == nil && status.BestBlockNumber == expected
		}, 5*time.Second, 10*time.Millisecond, fmt.Sprintf("block %d", i))
	}
}
