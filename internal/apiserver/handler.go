// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package apiserver serves the HTTP surface of the charm runtime: the
// relation wire used by remote units, status, metrics and operator
// requests.
package apiserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coreresource "github.com/juju/charmruntime/core/resource"
	"github.com/juju/charmruntime/core/status"
	"github.com/juju/charmruntime/internal/charm"
	"github.com/juju/charmruntime/internal/relation"
	"github.com/juju/charmruntime/internal/resource"
	"github.com/juju/charmruntime/internal/worker/reconciler"
)

var logger = loggo.GetLogger("charmruntime.apiserver")

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// Relations is the relation negotiator as seen by the wire.
type Relations interface {
	OnJoin(params relation.JoinParams) (relation.Instance, error)
	OnDepart(id int) error
	OnRemoteChanged(id int, settings map[string]string) error
	LocalData(id int) (map[string]string, error)
	Snapshot() []relation.Instance
}

// Resources is the resource binder as seen by operators.
type Resources interface {
	Attach(name, reference string) error
	Binding(name string) (resource.Binding, error)
	Bind(ctx context.Context, name string) (resource.Binding, error)
	Rebind(ctx context.Context, name string) (resource.Binding, error)
	Snapshot() []resource.Binding
}

// Settings holds the current charm settings.
type Settings interface {
	Settings() charm.Settings
	SetSettings(charm.Settings)
}

// Trigger requests reconciliation passes.
type Trigger interface {
	Push(reconciler.Event)
}

// ActionRunner runs charm actions.
type ActionRunner interface {
	RunAction(name string, params map[string]interface{}) (map[string]interface{}, error)
}

// ActionFunc adapts a function to the ActionRunner interface.
type ActionFunc func(name string, params map[string]interface{}) (map[string]interface{}, error)

// RunAction is part of the ActionRunner interface.
func (f ActionFunc) RunAction(name string, params map[string]interface{}) (map[string]interface{}, error) {
	return f(name, params)
}

// Config holds the dependencies of the handler.
type Config struct {
	Relations   Relations
	Resources   Resources
	Settings    Settings
	CharmConfig *charm.Config
	Status      status.Getter
	Trigger     Trigger
	Actions     ActionRunner
	// Gatherer serves /metrics. Optional.
	Gatherer prometheus.Gatherer
}

// Validate returns an error if the config cannot be used to create a
// handler.
func (config Config) Validate() error {
	if config.Relations == nil {
		return errors.NotValidf("nil Relations")
	}
	if config.Resources == nil {
		return errors.NotValidf("nil Resources")
	}
	if config.Settings == nil {
		return errors.NotValidf("nil Settings")
	}
	if config.CharmConfig == nil {
		return errors.NotValidf("nil CharmConfig")
	}
	if config.Status == nil {
		return errors.NotValidf("nil Status")
	}
	if config.Trigger == nil {
		return errors.NotValidf("nil Trigger")
	}
	if config.Actions == nil {
		return errors.NotValidf("nil Actions")
	}
	return nil
}

// FailableHandlerFunc is an http handler that reports failures by
// returning them.
type FailableHandlerFunc func(http.ResponseWriter, *http.Request) error

func (f FailableHandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := f(w, r); err != nil {
		if err := sendJSONError(w, r, err); err != nil {
			logger.Errorf("%v", errors.Annotate(err, "cannot return error to caller"))
		}
	}
}

type handler struct {
	config Config
}

// NewHandler returns the router serving the runtime HTTP API.
func NewHandler(config Config) (http.Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	h := &handler{config: config}

	router := mux.NewRouter()
	router.Handle("/relations", FailableHandlerFunc(h.listRelations)).Methods(http.MethodGet)
	relations := router.PathPrefix("/relations/{id:[0-9]+}").Subrouter()
	relations.Handle("/join", FailableHandlerFunc(h.join)).Methods(http.MethodPost)
	relations.Handle("/depart", FailableHandlerFunc(h.depart)).Methods(http.MethodPost)
	relations.Handle("/data", FailableHandlerFunc(h.remoteChanged)).Methods(http.MethodPut)
	relations.Handle("/data", FailableHandlerFunc(h.localData)).Methods(http.MethodGet)

	router.Handle("/status", FailableHandlerFunc(h.status)).Methods(http.MethodGet)
	router.Handle("/reconcile", FailableHandlerFunc(h.reconcile)).Methods(http.MethodPost)
	router.Handle("/config", FailableHandlerFunc(h.getConfig)).Methods(http.MethodGet)
	router.Handle("/config", FailableHandlerFunc(h.setConfig)).Methods(http.MethodPut)
	router.Handle("/resources", FailableHandlerFunc(h.listResources)).Methods(http.MethodGet)
	router.Handle("/resources/{name}/attach", FailableHandlerFunc(h.attach)).Methods(http.MethodPost)
	router.Handle("/actions/{name}", FailableHandlerFunc(h.runAction)).Methods(http.MethodPost)
	if config.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router, nil
}

func relationID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		return 0, errors.NewBadRequest(err, "relation id")
	}
	return id, nil
}

func (h *handler) listRelations(w http.ResponseWriter, r *http.Request) error {
	instances := h.config.Relations.Snapshot()
	result := make([]RelationInstance, len(instances))
	for i, in := range instances {
		result[i] = relationInstance(in)
	}
	return sendStatusAndJSON(w, http.StatusOK, result)
}

func (h *handler) join(w http.ResponseWriter, r *http.Request) error {
	id, err := relationID(r)
	if err != nil {
		return errors.Trace(err)
	}
	var req JoinRequest
	if err := readJSON(r, &req); err != nil {
		return errors.Trace(err)
	}
	instance, err := h.config.Relations.OnJoin(relation.JoinParams{
		RelationID:      id,
		Endpoint:        req.Endpoint,
		RemoteUnit:      req.RemoteUnit,
		RemoteInterface: req.Interface,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusCreated, relationInstance(instance))
}

func (h *handler) depart(w http.ResponseWriter, r *http.Request) error {
	id, err := relationID(r)
	if err != nil {
		return errors.Trace(err)
	}
	if err := h.config.Relations.OnDepart(id); err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, struct{}{})
}

// remoteChanged delivers the settings written by the remote unit. Keys with
// an empty value are deleted.
func (h *handler) remoteChanged(w http.ResponseWriter, r *http.Request) error {
	id, err := relationID(r)
	if err != nil {
		return errors.Trace(err)
	}
	var settings map[string]string
	if err := readJSON(r, &settings); err != nil {
		return errors.Trace(err)
	}
	if err := h.config.Relations.OnRemoteChanged(id, settings); err != nil {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, struct{}{})
}

// localData returns the settings written by this unit.
func (h *handler) localData(w http.ResponseWriter, r *http.Request) error {
	id, err := relationID(r)
	if err != nil {
		return errors.Trace(err)
	}
	data, err := h.config.Relations.LocalData(id)
	if err != nil {
		return errors.Trace(err)
	}
	if data == nil {
		data = map[string]string{}
	}
	return sendStatusAndJSON(w, http.StatusOK, data)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) error {
	info := h.config.Status.CurrentStatus()
	return sendStatusAndJSON(w, http.StatusOK, StatusResult{
		Status:          info.Status.String(),
		Message:         info.Message,
		Since:           info.Since,
		WorkloadVersion: info.WorkloadVersion,
	})
}

func (h *handler) reconcile(w http.ResponseWriter, r *http.Request) error {
	h.config.Trigger.Push(reconciler.Event{Kind: reconciler.EventForced})
	return sendStatusAndJSON(w, http.StatusAccepted, struct{}{})
}

func (h *handler) getConfig(w http.ResponseWriter, r *http.Request) error {
	return sendStatusAndJSON(w, http.StatusOK, h.config.Settings.Settings())
}

// setConfig layers the supplied settings over the current ones. A null value
// resets the option to its default.
func (h *handler) setConfig(w http.ResponseWriter, r *http.Request) error {
	var update charm.Settings
	if err := readJSON(r, &update); err != nil {
		return errors.Trace(err)
	}
	merged := make(charm.Settings)
	for k, v := range h.config.Settings.Settings() {
		merged[k] = v
	}
	for k, v := range update {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	settings, err := h.config.CharmConfig.ValidateSettings(merged)
	if err != nil {
		return errors.Trace(err)
	}
	h.config.Settings.SetSettings(settings)
	h.config.Trigger.Push(reconciler.Event{Kind: reconciler.EventConfigChanged})
	return sendStatusAndJSON(w, http.StatusOK, settings)
}

func (h *handler) listResources(w http.ResponseWriter, r *http.Request) error {
	bindings := h.config.Resources.Snapshot()
	result := make([]ResourceBinding, len(bindings))
	for i, b := range bindings {
		result[i] = resourceBinding(b)
	}
	return sendStatusAndJSON(w, http.StatusOK, result)
}

// attach records the reference and resolves the resource again. A failed
// resolution is reported on the returned binding.
func (h *handler) attach(w http.ResponseWriter, r *http.Request) error {
	name := mux.Vars(r)["name"]
	var req AttachRequest
	if err := readJSON(r, &req); err != nil {
		return errors.Trace(err)
	}
	if err := h.config.Resources.Attach(name, req.Reference); err != nil {
		return errors.Trace(err)
	}
	current, err := h.config.Resources.Binding(name)
	if err != nil {
		return errors.Trace(err)
	}
	var binding resource.Binding
	if current.State == coreresource.Unbound {
		binding, err = h.config.Resources.Bind(r.Context(), name)
	} else {
		binding, err = h.config.Resources.Rebind(r.Context(), name)
	}
	if err != nil && !errors.Is(err, resource.BindingFailed) {
		return errors.Trace(err)
	}
	return sendStatusAndJSON(w, http.StatusOK, resourceBinding(binding))
}

func (h *handler) runAction(w http.ResponseWriter, r *http.Request) error {
	name := mux.Vars(r)["name"]
	params := make(map[string]interface{})
	if r.ContentLength != 0 {
		if err := readJSON(r, &params); err != nil {
			return errors.Trace(err)
		}
	}
	results, err := h.config.Actions.RunAction(name, params)
	if err != nil {
		return errors.Annotatef(err, "running action %q", name)
	}
	return sendStatusAndJSON(w, http.StatusOK, ActionResult{Results: results})
}

func readJSON(r *http.Request, out interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.Annotate(err, "reading request body")
	}
	if len(data) == 0 {
		return errors.BadRequestf("missing request body")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewBadRequest(err, "request body is not valid JSON")
	}
	return nil
}

func sendStatusAndJSON(w http.ResponseWriter, statusCode int, response interface{}) error {
	body, err := json.Marshal(response)
	if err != nil {
		return errors.Errorf("cannot marshal JSON result %#v: %v", response, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(statusCode)
	_, err = w.Write(body)
	return errors.Trace(err)
}

func sendJSONError(w http.ResponseWriter, r *http.Request, err error) error {
	statusCode, code := errorStatus(err)
	if statusCode >= http.StatusInternalServerError {
		logger.Errorf("returning error from %s %s: %s", r.Method, r.URL, errors.Details(err))
	} else {
		logger.Debugf("returning error from %s %s: %v", r.Method, r.URL, err)
	}
	return errors.Trace(sendStatusAndJSON(w, statusCode, ErrorResult{
		Error: err.Error(),
		Code:  code,
	}))
}

// errorStatus maps an error onto the HTTP status and error code returned to
// the caller.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, relation.InterfaceMismatch):
		return http.StatusBadRequest, "interface-mismatch"
	case errors.Is(err, relation.LimitExceeded):
		return http.StatusConflict, "limit-exceeded"
	case errors.Is(err, errors.AlreadyExists):
		return http.StatusConflict, "already-exists"
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound, "not-found"
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.BadRequest):
		return http.StatusBadRequest, "bad-request"
	}
	return http.StatusInternalServerError, ""
}
