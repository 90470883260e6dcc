package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/celldex/pkg/abci"
	"github.com/uhyunpark/celldex/pkg/app/core/orderbook"
	"github.com/uhyunpark/celldex/pkg/app/devnet"
	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/orderstate"
	"github.com/uhyunpark/celldex/pkg/script"
	"github.com/uhyunpark/celldex/pkg/storage"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

// maxBlocksPerRequest bounds POST /chain/blocks?count=
const maxBlocksPerRequest = 100

// Server handles REST API and WebSocket connections
type Server struct {
	app      *devnet.App
	producer *abci.Producer
	router   *mux.Router
	hub      *Hub
	logger   *zap.SugaredLogger
	origins  []string
}

// NewServer wires the routes and subscribes to committed blocks
func NewServer(app *devnet.App, producer *abci.Producer, allowedOrigins []string, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		app:      app,
		producer: producer,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		logger:   logger,
		origins:  allowedOrigins,
	}
	s.setupRoutes()
	app.OnCommit(s.broadcastBlock)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/chain/blocks", s.handleProduceBlocks).Methods("POST")
	api.HandleFunc("/chain/blocks/{height}", s.handleGetBlock).Methods("GET")
	api.HandleFunc("/chain/truncate", s.handleTruncate).Methods("POST")

	// Transactions
	api.HandleFunc("/transactions", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/transactions/check", s.handleCheckTx).Methods("POST")

	// Cells and books
	api.HandleFunc("/cells", s.handleGetCells).Methods("GET")
	api.HandleFunc("/orderbook/{typeHash}", s.handleGetOrderbook).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down api: %w", err)
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Status()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "status unavailable", err.Error())
		return
	}
	respondJSON(w, ChainStatus{
		Height:    st.Height,
		Hash:      st.Hash,
		Timestamp: st.Timestamp,
		StateHash: st.StateHash,
		Pending:   st.Pending,
		Codes: CodeInfo{
			Secp256k1Lock: codeRef(st.Codes.Secp256k1Lock),
			SUDT:          codeRef(st.Codes.SUDT),
			OrderLock:     codeRef(st.Codes.OrderLock),
		},
	})
}

func codeRef(r script.CodeRef) CodeRef {
	out := CodeRef{CodeHash: r.CodeHash, HashType: r.HashType}
	if r.Dep != nil {
		out.Dep = *r.Dep
	}
	return out
}

func (s *Server) handleProduceBlocks(w http.ResponseWriter, r *http.Request) {
	count := 1
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxBlocksPerRequest {
			respondError(w, http.StatusBadRequest, "invalid count", fmt.Sprintf("count must be 1..%d", maxBlocksPerRequest))
			return
		}
		count = n
	}

	blocks := make([]BlockInfo, 0, count)
	for i := 0; i < count; i++ {
		resp, err := s.producer.ProduceBlock()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "block production failed", err.Error())
			return
		}
		blocks = append(blocks, BlockInfo{Block: resp.Block, Results: resp.Results})
	}
	respondJSON(w, blocks)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	b, err := s.app.Block(height)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "block not found", "")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "block unavailable", err.Error())
		return
	}
	respondJSON(w, BlockInfo{Block: b})
}

func (s *Server) handleTruncate(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Truncate(); err != nil {
		respondError(w, http.StatusInternalServerError, "truncate failed", err.Error())
		return
	}
	s.logger.Infow("api_truncate", "remote", r.RemoteAddr)
	s.handleGetChainStatus(w, r)
}

func decodeTx(w http.ResponseWriter, r *http.Request) (*cell.Transaction, bool) {
	var tx cell.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return nil, false
	}
	return &tx, true
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	tx, ok := decodeTx(w, r)
	if !ok {
		return
	}
	h, err := s.app.SubmitTx(tx)
	switch {
	case errors.Is(err, devnet.ErrAlreadyPending):
		respondError(w, http.StatusConflict, "already pending", h.Hex())
		return
	case err != nil:
		respondTxError(w, err)
		return
	}

	s.hub.BroadcastToChannel(ChannelTxs, WSTx{Type: "tx", Hash: h})
	respondJSON(w, SubmitTxResponse{Status: "pending", Hash: h})
}

func (s *Server) handleCheckTx(w http.ResponseWriter, r *http.Request) {
	tx, ok := decodeTx(w, r)
	if !ok {
		return
	}
	resp := s.app.CheckTx(abci.RequestCheckTx{Tx: tx})
	respondJSON(w, CheckTxResponse{
		Hash:     resp.Hash,
		Accepted: resp.IsOK(),
		Kind:     resp.Kind.String(),
		Reason:   resp.Log,
	})
}

func hashParam(r *http.Request, name string) (*cell.Hash, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	h, err := cell.HexToHash(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &h, nil
}

func (s *Server) handleGetCells(w http.ResponseWriter, r *http.Request) {
	var q storage.Query
	var err error
	if q.LockHash, err = hashParam(r, "lock"); err == nil {
		if q.TypeHash, err = hashParam(r, "type"); err == nil {
			q.LockCodeHash, err = hashParam(r, "lock_code")
		}
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid query", err.Error())
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
	}

	cells, err := s.app.CollectCells(q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cell query failed", err.Error())
		return
	}
	out := make([]CellInfo, len(cells))
	for i, rc := range cells {
		out[i] = cellInfo(rc)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	typeHash, err := cell.HexToHash(mux.Vars(r)["typeHash"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid type hash", err.Error())
		return
	}
	book, err := s.app.OrderBook(typeHash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "orderbook unavailable", err.Error())
		return
	}
	st, err := s.app.Status()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "status unavailable", err.Error())
		return
	}

	convert := func(levels []orderbook.PriceLevel) []PriceLevel {
		out := make([]PriceLevel, len(levels))
		for i, l := range levels {
			out[i] = PriceLevel{
				Price:        l.Price,
				PriceDecimal: orderstate.PriceDecimal(l.Price).String(),
				Remaining:    l.Remaining,
				Orders:       l.Orders,
			}
		}
		return out
	}

	snapshot := OrderbookSnapshot{
		TypeHash:  typeHash,
		Bids:      convert(book.GetBidLevels()),
		Asks:      convert(book.GetAskLevels()),
		Height:    st.Height,
		Timestamp: time.Now().UnixMilli(),
	}
	if mid := book.GetMidPrice(); mid > 0 {
		snapshot.MidPrice = orderstate.PriceDecimal(mid).String()
	}
	respondJSON(w, snapshot)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called on commit)
// ==============================

func (s *Server) broadcastBlock(c devnet.Committed) {
	s.hub.BroadcastToChannel(ChannelBlocks, WSBlock{
		Type:  "block",
		Block: BlockInfo{Block: c.Block, Results: c.Results},
	})
}

// ==============================
// Helper Functions
// ==============================

var shannonsPerCKB = decimal.NewFromInt(cell.ShannonsPerCKB)

func capacityCKB(shannons uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(shannons), 0).Div(shannonsPerCKB).String()
}

func cellInfo(rc cell.ResolvedCell) CellInfo {
	out := rc.Cell.Output
	info := CellInfo{
		OutPoint:    rc.OutPoint,
		Capacity:    out.Capacity,
		CapacityCKB: capacityCKB(out.Capacity),
		Lock:        out.Lock,
		LockHash:    out.Lock.Hash(),
		Type:        out.Type,
		Data:        rc.Cell.Data,
	}
	if out.Type == nil {
		return info
	}
	th := out.Type.Hash()
	info.TypeHash = &th

	st, err := orderstate.Decode(rc.Cell.Data)
	if err != nil {
		return info
	}
	info.State = &StateInfo{Kind: "balance", Balance: st.Amount()}
	if o, ok := st.(orderstate.Order); ok {
		info.State.Kind = "order"
		info.State.Order = &OrderDetail{
			Side:         o.Side.String(),
			Status:       o.Status().String(),
			Price:        o.Price,
			PriceDecimal: orderstate.PriceDecimal(o.Price).String(),
			Traded:       o.TradedAmount,
			Target:       o.TargetAmount,
		}
	}
	return info
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondTxError maps validator rejections to 400 and everything else to 500
func respondTxError(w http.ResponseWriter, err error) {
	var rejection *verdict.Error
	if !errors.As(err, &rejection) {
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   "transaction rejected",
		Message: err.Error(),
		Kind:    rejection.Kind.String(),
	})
}
