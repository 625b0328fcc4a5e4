package daemon

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/services/netsync"
	"github.com/dieguito9000/rskj/services/scoring"
	"github.com/dieguito9000/rskj/ulogger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthFunc func(ctx context.Context, checkLiveness bool) (int, string, error)

type chainStatusResponse struct {
	BestBlockHash   string `json:"best_block_hash"`
	BestBlockNumber uint64 `json:"best_block_number"`
	TotalDifficulty string `json:"total_difficulty"`
}

type statusResponse struct {
	Node    string              `json:"node"`
	Chain   chainStatusResponse `json:"chain"`
	Sync    netsync.SyncStatus  `json:"sync"`
	Orphans int                 `json:"orphans"`
}

type peersResponse struct {
	Sessions []netsync.PeerInfo                `json:"sessions"`
	Scoring  []scoring.PeerScoringInformation `json:"scoring"`
	Banned   []scoring.BanInfo                `json:"banned"`
}

type blockResponse struct {
	Hash        string `json:"hash"`
	Number      uint64 `json:"number"`
	ParentHash  string `json:"parent_hash"`
	MerkleRoot  string `json:"merkle_root"`
	Timestamp   uint32 `json:"timestamp"`
	Bits        string `json:"bits"`
	Nonce       uint32 `json:"nonce"`
	ChainWork   string `json:"chain_work"`
	OnMainChain bool   `json:"on_main_chain"`
	TxCount     int    `json:"tx_count"`
}

type errorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// StatusServer is the read-only HTTP API of a node.
type StatusServer struct {
	logger     ulogger.Logger
	listenAddr string
	node       *Node
	health     HealthFunc
	e          *echo.Echo

	mu       sync.Mutex
	listener net.Listener
}

func NewStatusServer(logger ulogger.Logger, listenAddr string, node *Node, health HealthFunc) *StatusServer {
	return &StatusServer{
		logger:     logger,
		listenAddr: listenAddr,
		node:       node,
		health:     health,
	}
}

func (s *StatusServer) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "OK", nil
}

func (s *StatusServer) Init(_ context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}

	e.GET("/health", s.healthHandler(false))
	e.GET("/health/readiness", s.healthHandler(false))
	e.GET("/health/liveness", s.healthHandler(true))

	e.GET("/api/v1/status", s.getStatus)
	e.GET("/api/v1/peers", s.getPeers)
	e.GET("/api/v1/blocks/:hash", s.getBlock)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.e = e

	return nil
}

// Start serves the API until ctx is done. readyCh is closed once the listener is bound.
func (s *StatusServer) Start(ctx context.Context, readyCh chan<- struct{}) error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return errors.NewServiceError("[StatusServer] could not listen on %s", s.listenAddr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.e.Listener = listener
	s.mu.Unlock()

	s.logger.Infof("[StatusServer] listening on http://%s", listener.Addr())

	close(readyCh)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.e.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("[StatusServer] shutdown error: %v", err)
		}
	}()

	if err = s.e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.NewServiceError("[StatusServer] stopped", err)
	}

	return nil
}

func (s *StatusServer) Stop(ctx context.Context) error {
	if s.e == nil {
		return nil
	}

	return s.e.Shutdown(ctx)
}

// Addr is the bound address, empty before Start.
func (s *StatusServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

func (s *StatusServer) healthHandler(liveness bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		status, details, err := s.health(c.Request().Context(), liveness)
		if err != nil && status == http.StatusOK {
			status = http.StatusInternalServerError
		}

		return c.Blob(status, echo.MIMEApplicationJSONCharsetUTF8, []byte(details))
	}
}

func (s *StatusServer) getStatus(c echo.Context) error {
	chain, err := s.node.BestStatus(c.Request().Context())
	if err != nil {
		return sendError(c, http.StatusInternalServerError, err)
	}

	return c.JSONPretty(http.StatusOK, statusResponse{
		Node: s.node.Identity.NodeID,
		Chain: chainStatusResponse{
			BestBlockHash:   chain.BestBlockHash.String(),
			BestBlockNumber: chain.BestBlockNumber,
			TotalDifficulty: chain.TotalDifficulty.String(),
		},
		Sync:    s.node.Sync.SyncStatus(),
		Orphans: s.node.Sync.OrphanCount(),
	}, "  ")
}

func (s *StatusServer) getPeers(c echo.Context) error {
	return c.JSONPretty(http.StatusOK, peersResponse{
		Sessions: s.node.Sync.Peers(),
		Scoring:  s.node.Scoring.GetPeersInformation(),
		Banned:   s.node.Scoring.ListBannedAddresses(),
	}, "  ")
}

func (s *StatusServer) getBlock(c echo.Context) error {
	hash, err := chainhash.NewHashFromStr(c.Param("hash"))
	if err != nil {
		return sendError(c, http.StatusBadRequest, errors.NewInvalidArgumentError("invalid block hash %q", c.Param("hash"), err))
	}

	block, meta, err := s.node.Chain.GetBlock(c.Request().Context(), hash)
	if err != nil {
		if errors.Is(err, errors.ErrBlockNotFound) {
			return sendError(c, http.StatusNotFound, err)
		}

		return sendError(c, http.StatusInternalServerError, err)
	}

	return c.JSONPretty(http.StatusOK, blockResponse{
		Hash:        block.Hash().String(),
		Number:      block.Number(),
		ParentHash:  block.ParentHash().String(),
		MerkleRoot:  block.Header.HashMerkleRoot.String(),
		Timestamp:   block.Header.Timestamp,
		Bits:        block.Header.Bits.String(),
		Nonce:       block.Header.Nonce,
		ChainWork:   meta.ChainWork.String(),
		OnMainChain: meta.OnMainChain,
		TxCount:     len(block.Transactions),
	}, "  ")
}

func sendError(c echo.Context, status int, err error) error {
	return c.JSON(status, errorResponse{Status: status, Error: err.Error()})
}
