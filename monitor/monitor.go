// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package monitor broadcasts esctelemetry records to connected browsers
// over a WebSocket, alongside a JSON snapshot endpoint for one-shot
// polling clients.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flightcore/dshot/esctelemetry"
)

// Frame is the JSON structure sent to every connected client.
type Frame struct {
	Telemetry esctelemetry.Record `json:"telemetry"`
	StampMS   int64               `json:"stamp_ms"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Server polls an Aggregator at a fixed rate and fans its latest Record
// out to every connected WebSocket client.
type Server struct {
	addr string
	agg  *esctelemetry.Aggregator

	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

// New returns a Server that will listen on addr and poll agg.
func New(addr string, agg *esctelemetry.Aggregator) *Server {
	return &Server{
		addr:    addr,
		agg:     agg,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run serves /ws and /api/telemetry until ctx is canceled, broadcasting
// agg's latest Record every 20ms.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/telemetry", s.handleSnapshot)

	srv := &http.Server{Addr: s.addr, Handler: mux}

	go s.pollLoop(ctx)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[monitor] listening on %s", s.addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) pollLoop(ctx context.Context) {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.broadcast(Frame{Telemetry: s.agg.Latest(), StampMS: time.Now().UnixMilli()})
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[monitor] ws upgrade: %v", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 16)}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()

	go s.writePump(client)
	go s.readPump(client)
}

// readPump does nothing but notice disconnects: this is a publish-only
// feed, matching the dashboard's own one-way telemetry broadcast.
func (s *Server) readPump(c *wsClient) {
	defer s.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *Server) drop(c *wsClient) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.clientsMu.Unlock()
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Frame{Telemetry: s.agg.Latest(), StampMS: time.Now().UnixMilli()})
}
