package server

import (
	"encoding/json"
	"net/http"

	"github.com/dantte-lp/goeslr/internal/engine"
	"github.com/dantte-lp/goeslr/internal/neighbor"
	"github.com/dantte-lp/goeslr/internal/route"
)

// neighborView is the JSON shape of one neighbor record.
type neighborView struct {
	NeighborID int    `json:"neighbor_id"`
	Address    string `json:"address"`
	IfIndex    int    `json:"if_index"`
	LocalAddr  string `json:"local_addr"`
	State      string `json:"state"`
}

func neighborToView(r neighbor.Record) neighborView {
	return neighborView{
		NeighborID: int(r.ID),
		Address:    r.Address.String(),
		IfIndex:    r.IfIndex,
		LocalAddr:  r.LocalAddr.String(),
		State:      r.State.String(),
	}
}

// routeView is the JSON shape of one route record, used for both the main
// and backup table dumps.
type routeView struct {
	Prefix    string `json:"prefix"`
	NextHop   string `json:"next_hop"`
	IfIndex   int    `json:"if_index"`
	Metric    uint32 `json:"metric"`
	Seq       uint16 `json:"seq"`
	RouteType string `json:"route_type,omitempty"`
	Validity  string `json:"validity"`
}

func routeToView(r route.Record) routeView {
	return routeView{
		Prefix:    r.Prefix.String(),
		NextHop:   r.NextHop.String(),
		IfIndex:   r.IfIndex,
		Metric:    r.Metric,
		Seq:       r.Seq,
		RouteType: r.RouteType.String(),
		Validity:  r.Validity.String(),
	}
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	recs := s.neighbors.Snapshot()
	views := make([]neighborView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, neighborToView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRoutesMain(w http.ResponseWriter, r *http.Request) {
	recs := s.routes.MainSnapshot()
	views := make([]routeView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, routeToView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRoutesBackup(w http.ResponseWriter, r *http.Request) {
	recs := s.routes.BackupSnapshot()
	views := make([]routeView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, routeToView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetPrintingMethod(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, printingMethodView{Method: s.PrintingMethod().String()})
}

type printingMethodView struct {
	Method string `json:"method"`
}

func (s *Server) handleSetPrintingMethod(w http.ResponseWriter, r *http.Request) {
	var body printingMethodView
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	method, ok := engine.ParsePrintingMethod(body.Method)
	if !ok || body.Method == "" {
		http.Error(w, "method must be one of off, main, backup, neighbor", http.StatusBadRequest)
		return
	}
	s.printing.SetPrintingMethod(method)
	s.logger.Info("printing method changed", "method", method.String())
	writeJSON(w, http.StatusOK, printingMethodView{Method: method.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
