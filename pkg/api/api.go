package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/ericogr/plant-autocal/pkg/calibration"
	"github.com/ericogr/plant-autocal/pkg/engine"
	"github.com/gorilla/mux"
)

// Service is the part of the engine the HTTP adapter needs.
type Service interface {
	Snapshot(calibration.Key) (calibration.Snapshot, error)
	Snapshots() []calibration.Snapshot
	Apply(context.Context, calibration.Key, engine.Command) (calibration.Snapshot, error)
}

type API struct {
	svc     Service
	metrics http.Handler
}

// New builds the admin API. metrics may be nil.
func New(svc Service, metrics http.Handler) *API {
	return &API{svc: svc, metrics: metrics}
}

func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	a.LoadAPI(r)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics).Methods("GET")
	}
	return r
}

// LoadAPI registers the measurement endpoints on r.
func (a *API) LoadAPI(r *mux.Router) {
	sr := r.PathPrefix("/api/measurements").Subrouter()
	sr.HandleFunc("", a.list).Methods("GET")
	sr.HandleFunc("/{key}", a.get).Methods("GET")
	sr.HandleFunc("/{key}/{field}", a.set).Methods("PUT")
	sr.HandleFunc("/{key}/reset/{kind}", a.reset).Methods("POST")
	sr.HandleFunc("/{key}/trigger", a.trigger).Methods("POST")
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Snapshots())
}

func (a *API) get(w http.ResponseWriter, r *http.Request) {
	k, err := calibration.ParseKey(mux.Vars(r)["key"])
	if err != nil {
		reply(w, calibration.Snapshot{}, err)
		return
	}
	s, err := a.svc.Snapshot(k)
	if err != nil {
		reply(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// set takes the bare JSON value of the field as body, e.g. [10,30,70,90] or true.
func (a *API) set(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.apply(w, r, vars["key"], engine.Command{Op: engine.OpSet, Field: vars["field"], Value: body})
}

func (a *API) reset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a.apply(w, r, vars["key"], engine.Command{Op: engine.OpReset, Kind: vars["kind"]})
}

func (a *API) trigger(w http.ResponseWriter, r *http.Request) {
	a.apply(w, r, mux.Vars(r)["key"], engine.Command{Op: engine.OpTrigger})
}

func (a *API) apply(w http.ResponseWriter, r *http.Request, key string, cmd engine.Command) {
	k, err := calibration.ParseKey(key)
	if err != nil {
		reply(w, calibration.Snapshot{}, err)
		return
	}
	if cmd.Op == engine.OpSet && len(cmd.Value) == 0 {
		reply(w, calibration.Snapshot{}, engine.ErrInvalidValue)
		return
	}
	s, err := a.svc.Apply(r.Context(), k, cmd)
	if err != nil {
		log.Printf("api: %s %s %s: %v", cmd.Op, key, cmd.Field, err)
	}
	reply(w, s, err)
}

func reply(w http.ResponseWriter, s calibration.Snapshot, err error) {
	writeJSON(w, StatusOf(engine.CodeOf(err)), engine.NewReply(s, err))
}

// StatusOf maps reply codes onto HTTP status codes.
func StatusOf(c engine.Code) int {
	switch c {
	case engine.CodeOK:
		return http.StatusOK
	case engine.CodeUnknownMeasurement:
		return http.StatusNotFound
	case engine.CodeCalibrationActive:
		return http.StatusConflict
	case engine.CodePersistence:
		return http.StatusInternalServerError
	case engine.CodeSampleFault:
		return http.StatusServiceUnavailable
	case engine.CodeError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
