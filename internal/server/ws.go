package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"strategist/internal/budget"
	"strategist/internal/history"
	"strategist/internal/orchestrator"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// GenerateRequest is the first frame a client sends after connecting.
type GenerateRequest struct {
	TicketKeys        []string `json:"ticket_keys"`
	Provider          string   `json:"provider"`
	Model             string   `json:"model"`
	Depth             string   `json:"depth"`
	FocusAreas        []string `json:"focus_areas,omitempty"`
	AdditionalContext string   `json:"additional_context,omitempty"`
	TemplateText      string   `json:"template_text,omitempty"`
	Temperature       float32  `json:"temperature,omitempty"`
}

// handleGenerateWS runs one generation per connection, streaming
// orchestrator events as JSON frames. Closing the socket cancels the
// run; sections already completed are persisted with the error.
func (s *Server) handleGenerateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var req GenerateRequest
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	depth := budget.Depth(req.Depth)
	if !depth.Valid() {
		depth = budget.DepthDetailed
	}

	client, err := s.newBackend(req.Provider, req.Model)
	if err != nil {
		s.writeEvent(conn, &sync.Mutex{}, orchestrator.Event{
			Kind: orchestrator.EventRequestError, Error: err.Error(),
		})
		return
	}
	defer client.Close()

	// Serialize writes: events race with keepalive pings otherwise.
	var writeMu sync.Mutex

	// Reads only arrive as pongs or a close frame; a failed read means
	// the caller went away and the run should stop.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					cancel()
					return
				}
			}
		}
	}()

	tickets := req.TicketKeys
	var fetchFailures []string
	var run orchestrator.Request
	if s.fetcher != nil && len(tickets) > 0 {
		fetched, failures := s.fetcher.FetchTickets(ctx, tickets)
		fetched = s.fetcher.Expand(ctx, fetched)
		for _, f := range failures {
			fetchFailures = append(fetchFailures, f.Key)
		}
		run.Tickets = fetched
	}
	run.FetchFailures = fetchFailures
	run.TemplateText = req.TemplateText
	run.Depth = depth
	run.FocusAreas = req.FocusAreas
	run.AdditionalContext = req.AdditionalContext
	run.Temperature = req.Temperature

	orch := orchestrator.New(client)
	state, runErr := orch.Run(ctx, run, func(e orchestrator.Event) {
		s.writeEvent(conn, &writeMu, e)
	})
	if runErr != nil {
		log.Printf("generation failed at stage %s: %v", state.Stage, runErr)
	}

	// Persist whatever finished, partial or not, so a dropped connection
	// does not lose a long run.
	if len(state.CompletedSections) > 0 {
		_, err := s.hist.Add(context.WithoutCancel(ctx), history.Entry{
			Title:    state.Title,
			Content:  state.Content(),
			Provider: req.Provider,
			Model:    req.Model,
			Depth:    string(depth),
			Tokens:   state.TokensUsed,
		})
		if err != nil {
			log.Printf("history save failed: %v", err)
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, mu *sync.Mutex, e orchestrator.Event) {
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(e); err != nil {
		log.Printf("ws write failed: %v", err)
	}
}
