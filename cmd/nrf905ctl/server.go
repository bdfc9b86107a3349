package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli"

	"github.com/ziutek/nrf905"
	"github.com/ziutek/nrf905/nrfnet"
)

var serveCommand = cli.Command{
	Name:   "serve",
	Usage:  "Start the HTTP/REST server",
	Action: serveCommandHandler,
	Flags: []cli.Flag{
		cli.UintFlag{
			Name:  "port, p",
			Value: 8000,
			Usage: "HTTP listening port",
		},
		cli.StringFlag{
			Name:  "bind, b",
			Value: "127.0.0.1",
			Usage: "HTTP listening address",
		},
	},
}

func serveCommandHandler(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()
	iface, closeAll, err := openInterface(ctx, c, nil)
	if err != nil {
		return err
	}
	defer closeAll()

	s := newServer(iface, logger(c))
	go s.run(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", c.String("bind"), c.Uint("port")),
		Handler: s.router(),
	}
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), time.Second)
		defer scancel()
		srv.Shutdown(sctx)
	}()
	s.log.Info("listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type server struct {
	iface *nrfnet.Interface
	dev   *nrf905.Device
	log   *slog.Logger

	mu      sync.Mutex
	sockets map[*websocket.Conn]chan packetMessage
}

func newServer(iface *nrfnet.Interface, log *slog.Logger) *server {
	return &server{
		iface:   iface,
		dev:     iface.Device(),
		log:     log.With("component", "server"),
		sockets: make(map[*websocket.Conn]chan packetMessage),
	}
}

func (s *server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/regs", s.regsHandler).Methods("GET")
	r.HandleFunc("/channel/{ch:[0-9]+}", s.channelHandler).Methods("PUT")
	r.HandleFunc("/send", s.sendHandler).Methods("POST")
	r.HandleFunc("/packets/websocket", s.websocketHandler).Methods("GET")
	return r
}

// run broadcasts received packets to all websockets until ctx is done.
func (s *server) run(ctx context.Context) {
	for {
		p, err := s.iface.Recv(ctx)
		if errors.Is(err, nrfnet.ErrDevice) {
			s.log.Warn("receive failed", "err", s.dev.ClearErr())
			continue
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Warn("receive failed", "err", err)
			}
			return
		}
		s.broadcast(packetMessage{Time: p.Time, Data: p.Data})
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, errorResponse{Error: msg})
}

// deviceError responds with the sticky error of the device and clears it.
func (s *server) deviceError(w http.ResponseWriter) bool {
	err := s.dev.ClearErr()
	if err == nil {
		return false
	}
	respondError(w, http.StatusInternalServerError, err.Error())
	return true
}

type statusResponse struct {
	Mode        string `json:"mode"`
	Status      string `json:"status"`
	AddrMatched bool   `json:"addr_matched"`
	AirwayBusy  bool   `json:"airway_busy"`
	Queued      int    `json:"queued"`
	Invalid     uint64 `json:"invalid"`
}

func (s *server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:        s.dev.Mode().String(),
		Status:      s.dev.Status().String(),
		AddrMatched: s.dev.AddrMatched(),
		AirwayBusy:  s.dev.AirwayBusy(),
		Queued:      s.iface.Len(),
		Invalid:     s.iface.Invalid(),
	}
	if s.deviceError(w) {
		return
	}
	respond(w, http.StatusOK, resp)
}

type regsResponse struct {
	Raw     string `json:"raw"`
	Text    string `json:"text"`
	Channel int    `json:"channel"`
	Freq    string `json:"freq"`
	Power   string `json:"power"`
	RxAddr  string `json:"rx_addr"`
}

func (s *server) regsResponse(regs nrf905.Regs) regsResponse {
	return regsResponse{
		Raw:     hex.EncodeToString(regs[:]),
		Text:    regs.String(),
		Channel: regs.Ch(),
		Freq:    regs.Freq().String(),
		Power:   regs.Power().String(),
		RxAddr:  fmt.Sprintf("%08x", regs.RxAddr()),
	}
}

func (s *server) regsHandler(w http.ResponseWriter, r *http.Request) {
	regs := s.dev.Regs()
	if s.deviceError(w) {
		return
	}
	respond(w, http.StatusOK, s.regsResponse(regs))
}

func (s *server) channelHandler(w http.ResponseWriter, r *http.Request) {
	ch, err := strconv.Atoi(mux.Vars(r)["ch"])
	if err != nil || ch > nrf905.MaxChannel {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid channel %q", mux.Vars(r)["ch"]))
		return
	}
	s.dev.SetChannel(ch)
	regs := s.dev.Regs()
	if s.deviceError(w) {
		return
	}
	respond(w, http.StatusOK, s.regsResponse(regs))
}

type sendRequest struct {
	Addr string `json:"addr"` // Hex.
	Data []byte `json:"data"` // Base64.
	Text string `json:"text"` // Used if Data is empty.
}

func (s *server) sendHandler(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddr(req.Addr)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := req.Data
	if len(p) == 0 {
		p = []byte(req.Text)
	}
	if len(p) > nrf905.MaxPayload {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("payload longer than %d bytes", nrf905.MaxPayload))
		return
	}
	err = s.iface.Send(r.Context(), to, p)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, nrfnet.ErrCollision):
		respondError(w, http.StatusConflict, err.Error())
	default:
		s.dev.ClearErr()
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

type packetMessage struct {
	Time time.Time `json:"time"`
	Data []byte    `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	out := make(chan packetMessage, 16)
	s.mu.Lock()
	s.sockets[conn] = out
	s.mu.Unlock()
	s.log.Debug("websocket connected", "remote", conn.RemoteAddr())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		defer s.drop(conn)
		for {
			select {
			case m := <-out:
				if err := conn.WriteJSON(m); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
}

func (s *server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.sockets, conn)
	s.mu.Unlock()
	conn.Close()
	s.log.Debug("websocket disconnected", "remote", conn.RemoteAddr())
}

func (s *server) broadcast(m packetMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, out := range s.sockets {
		select {
		case out <- m:
		default:
			s.log.Warn("websocket too slow, packet dropped", "remote", conn.RemoteAddr())
		}
	}
}

func (s *server) clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}
