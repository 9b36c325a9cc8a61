package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/azebets/walletsync/internal/domain"
)

const (
	journalPollInterval = 2 * time.Second
	heartbeatInterval   = 30 * time.Second
)

type walletReader interface {
	Currencies() []domain.CurrencyView
	Current() domain.Selection
	HideAmount() bool
	PreferredFiat() string
	Deductions() []domain.Deduction
	SetUnsafeCurrency(name string)
	SetHideAmount(hide bool)
}

type journalReader interface {
	EventsAfter(index uint64) ([]domain.WalletEventRecord, error)
}

// Server exposes the wallet as JSON, an SSE stream of journaled wallet events
// and prometheus metrics.
type Server struct {
	Addr    string
	Wallet  walletReader
	Journal journalReader

	logger       *zap.Logger
	pollInterval time.Duration
}

// NewServer creates a new web server instance.
func NewServer(addr string, wallet walletReader, journal journalReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:         addr,
		Wallet:       wallet,
		Journal:      journal,
		logger:       logger,
		pollInterval: journalPollInterval,
	}
}

// WalletView is the body of GET /wallet.
type WalletView struct {
	Currencies    []domain.CurrencyView `json:"currencies"`
	Current       domain.Selection      `json:"current"`
	HideAmount    bool                  `json:"hideAmount"`
	PreferredFiat string                `json:"preferredFiat"`
	Deductions    []domain.Deduction    `json:"deductions"`
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /wallet", s.handleWallet)
	mux.HandleFunc("POST /wallet/current", s.handleSelect)
	mux.HandleFunc("POST /wallet/hide", s.handleHide)
	mux.HandleFunc("GET /wallet/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("web server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme server", zap.Error(err))
		}
	}()

	s.logger.Info("web server listening with autotls", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleWallet(w http.ResponseWriter, _ *http.Request) {
	view := WalletView{
		Currencies:    s.Wallet.Currencies(),
		Current:       s.Wallet.Current(),
		HideAmount:    s.Wallet.HideAmount(),
		PreferredFiat: s.Wallet.PreferredFiat(),
		Deductions:    s.Wallet.Deductions(),
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var body domain.Selection
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CurrencyName == "" {
		http.Error(w, "currencyName is required", http.StatusBadRequest)
		return
	}
	s.Wallet.SetUnsafeCurrency(body.CurrencyName)
	writeJSON(w, http.StatusOK, s.Wallet.Current())
}

func (s *Server) handleHide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hide bool `json:"hide"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.Wallet.SetHideAmount(body.Hide)
	w.WriteHeader(http.StatusNoContent)
}

// handleStream replays journaled events after the Last-Event-ID (or ?after=)
// index and then follows the journal.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		http.Error(w, "wallet journal not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastIndex, err := resumeIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	sendEvents := func() error {
		records, err := s.Journal.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Event)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: %s\n", record.Event.Kind)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			lastIndex = record.Index
		}
		if len(records) > 0 {
			flusher.Flush()
		}
		return nil
	}

	if err := sendEvents(); err != nil {
		http.Error(w, "failed to load wallet events", http.StatusInternalServerError)
		s.logger.Error("wallet stream initial load", zap.Error(err))
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendEvents(); err != nil {
				s.logger.Warn("wallet stream poll", zap.Error(err))
			}
		}
	}
}

func resumeIndex(r *http.Request) (uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0, nil
	}
	idx, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid resume index %q", raw)
	}
	return idx, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>walletsync</title>
  <style>
    body { font-family: system-ui, sans-serif; background: #111; color: #eee; margin: 2rem; }
    table { border-collapse: collapse; min-width: 32rem; }
    td, th { padding: .4rem .8rem; border-bottom: 1px solid #333; text-align: right; }
    td:first-child, th:first-child { text-align: left; }
    .current { color: #73F59F; }
    #log { margin-top: 1.5rem; font-family: monospace; font-size: .85rem; color: #aaa; }
  </style>
</head>
<body>
  <h1>Wallet</h1>
  <table>
    <thead><tr><th>Currency</th><th>Amount</th><th>Deducting</th><th>Available</th></tr></thead>
    <tbody id="rows"></tbody>
  </table>
  <div id="log"></div>
<script>
async function refresh(){
  const res = await fetch('/wallet');
  const w = await res.json();
  const rows = document.getElementById('rows');
  rows.innerHTML = '';
  for (const c of w.currencies) {
    const tr = document.createElement('tr');
    if (c.currencyName === w.current.currencyName) tr.className = 'current';
    const mask = v => w.hideAmount ? '****' : v;
    tr.innerHTML = '<td>' + c.currencyName + '</td><td>' + mask(c.amount) + '</td><td>' +
      mask(c.deducting) + '</td><td>' + mask(c.available) + '</td>';
    rows.appendChild(tr);
  }
}
function log(kind, data){
  const line = document.createElement('div');
  line.textContent = new Date(data.ts).toLocaleTimeString() + ' ' + kind + ' ' + (data.currency || '') + ' ' + (data.available || data.amount || '');
  const el = document.getElementById('log');
  el.prepend(line);
  while (el.childNodes.length > 50) el.removeChild(el.lastChild);
}
const es = new EventSource('/wallet/stream');
for (const kind of ['balance', 'deduction', 'current', 'sync']) {
  es.addEventListener(kind, ev => { log(kind, JSON.parse(ev.data)); refresh(); });
}
refresh();
</script>
</body>
</html>
`
