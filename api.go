package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/goliatone/go-errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/binding"
	"github.com/microsoft/durabletask-webjobs-go/host"
)

type createInstanceRequest struct {
	Name       string          `json:"name"`
	Version    string          `json:"version,omitempty"`
	InstanceID string          `json:"instanceId,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
}

type createInstanceResponse struct {
	InstanceID api.InstanceID `json:"instanceId"`
}

type terminateRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type hubState struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	Registrations int    `json:"registrations"`
}

// managementAPI exposes the orchestration client of every task hub over HTTP.
type managementAPI struct {
	host *host.Host
}

func newManagementAPI(h *host.Host) http.Handler {
	a := &managementAPI{host: h}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.health)
	mux.HandleFunc("POST /hubs/{hub}/instances", a.createInstance)
	mux.HandleFunc("GET /hubs/{hub}/instances/{id}", a.getInstance)
	mux.HandleFunc("POST /hubs/{hub}/instances/{id}/events/{event}", a.raiseEvent)
	mux.HandleFunc("POST /hubs/{hub}/instances/{id}/terminate", a.terminate)
	return otelhttp.NewHandler(mux, "durablehost")
}

func (a *managementAPI) health(w http.ResponseWriter, r *http.Request) {
	var hubs []hubState
	for _, l := range a.host.Listeners().All() {
		hubs = append(hubs, hubState{Name: l.HubName(), State: l.State().String(), Registrations: l.Registrations().Len()})
	}
	writeJSON(w, http.StatusOK, hubs)
}

func (a *managementAPI) createInstance(w http.ResponseWriter, r *http.Request) {
	client, ok := a.client(w, r)
	if !ok {
		return
	}
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("an orchestration name is required"))
		return
	}
	var opts []api.NewOrchestrationOptions
	if req.InstanceID != "" {
		opts = append(opts, api.WithInstanceID(api.InstanceID(req.InstanceID)))
	}
	if len(req.Input) > 0 {
		opts = append(opts, api.WithRawInput(string(req.Input)))
	}
	id, err := client.CreateInstance(r.Context(), req.Name, req.Version, nil, opts...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, createInstanceResponse{InstanceID: id})
}

func (a *managementAPI) getInstance(w http.ResponseWriter, r *http.Request) {
	client, ok := a.client(w, r)
	if !ok {
		return
	}
	id := api.InstanceID(r.PathValue("id"))
	var (
		metadata *api.OrchestrationMetadata
		err      error
	)
	if r.URL.Query().Get("wait") == "true" {
		metadata, err = client.WaitForCompletion(r.Context(), id)
	} else {
		metadata, err = client.GetStatus(r.Context(), id)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, metadata)
}

// raiseEvent sends the request body as the raw event payload.
func (a *managementAPI) raiseEvent(w http.ResponseWriter, r *http.Request) {
	client, ok := a.client(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload any
	if len(body) > 0 {
		payload = string(body)
	}
	if err := client.RaiseEvent(r.Context(), api.InstanceID(r.PathValue("id")), r.PathValue("event"), payload); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *managementAPI) terminate(w http.ResponseWriter, r *http.Request) {
	client, ok := a.client(w, r)
	if !ok {
		return
	}
	var req terminateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := client.TerminateInstance(r.Context(), api.InstanceID(r.PathValue("id")), req.Reason); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *managementAPI) client(w http.ResponseWriter, r *http.Request) (*binding.OrchestrationClientContext, bool) {
	client, err := a.host.Client(r.PathValue("hub"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, false
	}
	return client, true
}

func statusFor(err error) int {
	var ge *apperrors.Error
	if !errors.As(err, &ge) {
		if errors.Is(err, host.ErrNoConnection) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}
	switch ge.TextCode {
	case binding.ErrCodeInstanceNotFound:
		return http.StatusNotFound
	case binding.ErrCodeClientUnavailable:
		return http.StatusServiceUnavailable
	}
	switch ge.Category {
	case apperrors.CategoryBadInput, apperrors.CategoryValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: strings.TrimSpace(err.Error()), Code: binding.ErrorCode(err)})
}
