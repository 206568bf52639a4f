// Package api serves task snapshots and engine metrics over HTTP.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"Go2FlowSpectra/internal/metrics"
	"Go2FlowSpectra/internal/model"
	"Go2FlowSpectra/internal/snapshot"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultLimit = 100

// TaskSource lists the tasks to report on.
type TaskSource interface {
	Tasks() []model.Task
}

// Handler holds the dependencies for API handlers.
type Handler struct {
	source TaskSource
}

// NewRouter builds the API routes.
func NewRouter(source TaskSource) *mux.Router {
	h := &Handler{source: source}
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/tasks", h.listTasksHandler).Methods("GET")
	r.HandleFunc("/api/v1/tasks/{name}", h.taskHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return r
}

// NewServer returns an HTTP server for the API on addr.
func NewServer(addr string, source TaskSource) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(source),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (h *Handler) listTasksHandler(w http.ResponseWriter, r *http.Request) {
	var tasks []interface{}
	for _, t := range h.source.Tasks() {
		snap, ok := t.Snapshot().(*model.SnapshotData)
		if !ok {
			continue
		}
		tasks = append(tasks, summary(snap))
	}
	writeStruct(w, map[string]interface{}{"tasks": tasks})
}

func (h *Handler) taskHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	limit := defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("invalid limit '%s'", s), http.StatusBadRequest)
			return
		}
		limit = n
	}

	for _, t := range h.source.Tasks() {
		if t.Name() != name {
			continue
		}
		snap, ok := t.Snapshot().(*model.SnapshotData)
		if !ok {
			http.Error(w, "task has no aggregate snapshot", http.StatusNotImplemented)
			return
		}
		out := summary(snap)
		var rows []interface{}
		for i, row := range snapshot.Rows(snap) {
			if i == limit {
				break
			}
			rows = append(rows, rowFields(row))
		}
		out["aggregates"] = rows
		writeStruct(w, out)
		return
	}
	http.Error(w, fmt.Sprintf("task '%s' not found", name), http.StatusNotFound)
}

func summary(snap *model.SnapshotData) map[string]interface{} {
	records, pkts, bytes := snap.Totals()
	var groups []interface{}
	for _, g := range snap.Groups {
		groups = append(groups, map[string]interface{}{
			"start":   timeString(g.Start),
			"end":     timeString(g.End),
			"records": int64(len(g.Records)),
		})
	}
	return map[string]interface{}{
		"name":    snap.TaskName,
		"records": int64(records),
		"packets": pkts,
		"bytes":   bytes,
		"groups":  groups,
	}
}

func rowFields(r snapshot.Row) map[string]interface{} {
	return map[string]interface{}{
		"source":     r.Source,
		"proto":      int64(r.Proto),
		"src_addr":   r.SrcAddr,
		"dst_addr":   r.DstAddr,
		"src_mask":   int64(r.SrcMask),
		"dst_mask":   int64(r.DstMask),
		"sport":      int64(r.Sport),
		"dport":      int64(r.Dport),
		"first_seen": timeString(r.FirstSeen),
		"last_seen":  timeString(r.LastSeen),
		"src_pkts":   r.SrcPkts,
		"dst_pkts":   r.DstPkts,
		"src_bytes":  r.SrcBytes,
		"dst_bytes":  r.DstBytes,
		"merged":     int64(r.Records),
		"label":      r.Label,
	}
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeStruct(w http.ResponseWriter, m map[string]interface{}) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to build response: %v", err), http.StatusInternalServerError)
		return
	}
	writeProto(w, st)
}

func writeProto(w http.ResponseWriter, msg proto.Message) {
	jsonBytes, err := protojson.Marshal(msg)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonBytes)
}
