package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/swap-relay/internal/relay"
)

const defaultSlippageBps = 50

// Relay is satisfied by relay.Orchestrator.
// Decoupled here so handler tests can use a mock.
type Relay interface {
	Quote(ctx context.Context, req relay.SwapRequest) (*relay.QuoteResult, error)
	Confirm(ctx context.Context, req relay.ConfirmRequest) (*relay.ConfirmResult, error)
}

// Info is reported by the health endpoints.
type Info struct {
	Service     string
	Version     string
	Environment string
}

// Handler wires the relay routes onto a Gin engine.
type Handler struct {
	relay   Relay
	info    Info
	metrics *metricsRegistry
	log     *zap.Logger
}

// NewHandler builds a handler. activeWallets feeds the wallet gauge and may
// be nil.
func NewHandler(r Relay, info Info, activeWallets func() int, log *zap.Logger) *Handler {
	return &Handler{relay: r, info: info, metrics: newMetricsRegistry(activeWallets), log: log}
}

func (h *Handler) Register(r *gin.Engine) {
	// ── Health ──────────────────────────────────────────────────────────────
	r.GET("/health", h.handleHealth)
	r.GET("/healthz", h.handleHealth)
	r.GET("/metrics", gin.WrapH(h.metrics.handler()))

	// ── Swap ────────────────────────────────────────────────────────────────
	api := r.Group("/api")
	api.POST("/swap", h.handleQuote)
	api.POST("/confirm", h.handleConfirm)
}

// ── Request / response bodies ───────────────────────────────────────────────

// lamports accepts either a JSON number or a decimal string.
type lamports uint64

func (l *lamports) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("amount must be a positive integer, got %s", b)
	}
	*l = lamports(v)
	return nil
}

type quoteBody struct {
	FromToken           string   `json:"fromToken"`
	ToToken             string   `json:"toToken"`
	Amount              lamports `json:"amount"`
	DestinationWallet   string   `json:"destinationWallet"`
	SlippageBps         *int     `json:"slippageBps"`
	EnableMevProtection bool     `json:"enableMevProtection"`
}

type quoteResponse struct {
	TempWalletAddress string          `json:"tempWalletAddress"`
	ResumptionToken   string          `json:"resumptionToken"`
	Quote             json.RawMessage `json:"quote"`
	Warnings          []string        `json:"warnings"`
	Instructions      []string        `json:"instructions"`
	ExpiresAt         time.Time       `json:"expiresAt"`
}

// protectionBody is optional; a missing body or enable field means protected.
type protectionBody struct {
	Enable      *bool `json:"enable"`
	UseBundling bool  `json:"useBundling"`
	MaxRetries  int   `json:"maxRetries"`
}

type confirmBody struct {
	WalletAddress      string          `json:"walletAddress"`
	ResumptionToken    string          `json:"resumptionToken"`
	DestinationAddress string          `json:"destinationAddress"`
	DestinationWallet  string          `json:"destinationWallet"`
	Quote              json.RawMessage `json:"quote"`
	Confirmed          *bool           `json:"confirmed"`
	ProtectionOptions  *protectionBody `json:"protectionOptions"`
}

type swapDetails struct {
	InputMint          string `json:"inputMint"`
	OutputMint         string `json:"outputMint"`
	InputAmount        uint64 `json:"inputAmount"`
	QuotedOutputAmount uint64 `json:"quotedOutputAmount"`
	OutputAmount       uint64 `json:"outputAmount"`
}

type explorerLinks struct {
	Swap    string `json:"swap"`
	Forward string `json:"forward"`
}

type confirmResponse struct {
	Status               string         `json:"status"`
	RelayID              string         `json:"relayId"`
	SwapTransactionID    string         `json:"swapTransactionId,omitempty"`
	ForwardTransactionID string         `json:"forwardTransactionId,omitempty"`
	SwapDetails          *swapDetails   `json:"swapDetails,omitempty"`
	ExplorerLinks        *explorerLinks `json:"explorerLinks,omitempty"`
	CompletedAt          *time.Time     `json:"completedAt,omitempty"`
}

// ── Quote ───────────────────────────────────────────────────────────────────

func (h *Handler) handleQuote(c *gin.Context) {
	var body quoteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.metrics.incQuote(string(relay.CodeValidation))
		c.JSON(http.StatusBadRequest, gin.H{"error": relay.CodeValidation, "message": err.Error()})
		return
	}
	slippage := defaultSlippageBps
	if body.SlippageBps != nil {
		slippage = *body.SlippageBps
	}

	res, err := h.relay.Quote(c.Request.Context(), relay.SwapRequest{
		InputMint:   body.FromToken,
		OutputMint:  body.ToToken,
		Amount:      uint64(body.Amount),
		Destination: body.DestinationWallet,
		SlippageBps: slippage,
		Protected:   body.EnableMevProtection,
	})
	if err != nil {
		h.metrics.incQuote(string(relay.CodeOf(err)))
		h.log.Warn("quote rejected", zap.String("code", string(relay.CodeOf(err))), zap.Error(err))
		writeError(c, err)
		return
	}
	h.metrics.incQuote("ok")

	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	c.JSON(http.StatusOK, quoteResponse{
		TempWalletAddress: res.WalletAddress,
		ResumptionToken:   res.Token,
		Quote:             res.Quote.Raw,
		Warnings:          warnings,
		Instructions:      res.Instructions,
		ExpiresAt:         res.ExpiresAt,
	})
}

// ── Confirm ─────────────────────────────────────────────────────────────────

func (h *Handler) handleConfirm(c *gin.Context) {
	var body confirmBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.metrics.incConfirm(string(relay.CodeValidation))
		c.JSON(http.StatusBadRequest, gin.H{"error": relay.CodeValidation, "message": err.Error()})
		return
	}

	req := relay.ConfirmRequest{
		WalletAddress: body.WalletAddress,
		Token:         body.ResumptionToken,
		Destination:   body.DestinationAddress,
		Quote:         body.Quote,
		Confirmed:     body.Confirmed == nil || *body.Confirmed,
	}
	if req.Destination == "" {
		req.Destination = body.DestinationWallet
	}
	req.Protection = relay.Protection{Enable: true}
	if p := body.ProtectionOptions; p != nil {
		req.Protection.UseBundling = p.UseBundling
		req.Protection.MaxRetries = p.MaxRetries
		if p.Enable != nil {
			req.Protection.Enable = *p.Enable
		}
	}

	res, err := h.relay.Confirm(c.Request.Context(), req)
	if err != nil {
		h.metrics.incConfirm(string(relay.CodeOf(err)))
		writeError(c, err)
		return
	}

	if res.Status == relay.StateCancelled {
		h.metrics.incConfirm("cancelled")
		c.JSON(http.StatusOK, confirmResponse{Status: "cancelled", RelayID: res.RelayID})
		return
	}
	h.metrics.incConfirm("completed")

	out := confirmResponse{
		Status:               "completed",
		RelayID:              res.RelayID,
		SwapTransactionID:    res.SwapTx,
		ForwardTransactionID: res.ForwardTx,
		ExplorerLinks:        &explorerLinks{Swap: res.SwapLink, Forward: res.ForwardLink},
		CompletedAt:          &res.CompletedAt,
	}
	if d := res.Details; d != nil {
		out.SwapDetails = &swapDetails{
			InputMint:          d.InputMint,
			OutputMint:         d.OutputMint,
			InputAmount:        d.InputAmount,
			QuotedOutputAmount: d.QuotedOutputAmount,
			OutputAmount:       d.OutputAmount,
		}
	}
	c.JSON(http.StatusOK, out)
}

// ── Health ──────────────────────────────────────────────────────────────────

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"service":     h.info.Service,
		"version":     h.info.Version,
		"environment": h.info.Environment,
	})
}
