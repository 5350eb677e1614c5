// Package handler provides the metastore REST API.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/service"
)

// Handlers contains all HTTP handlers and their dependencies
type Handlers struct {
	service *service.MetadataService
	logger  *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(svc *service.MetadataService, logger *zap.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  logger,
	}
}

// CreateEntityRequest is the body of POST /v1/scopes/{scope}/entities
type CreateEntityRequest struct {
	Name                  string           `json:"name"`
	ScalingPolicy         ScalingConfig    `json:"scaling_policy"`
	RetentionPolicy       *RetentionConfig `json:"retention_policy,omitempty"`
	StartingSegmentNumber int32            `json:"starting_segment_number"`
}

// UpdateEntityRequest is the body of PUT /v1/scopes/{scope}/entities/{name}
type UpdateEntityRequest struct {
	ScalingPolicy   ScalingConfig    `json:"scaling_policy"`
	RetentionPolicy *RetentionConfig `json:"retention_policy,omitempty"`
}

// EntityProperty describes an entity
type EntityProperty struct {
	Scope           string           `json:"scope"`
	Name            string           `json:"name"`
	ID              string           `json:"id,omitempty"`
	State           string           `json:"state,omitempty"`
	CreationTime    int64            `json:"creation_time,omitempty"`
	ActiveEpoch     int32            `json:"active_epoch"`
	ScalingPolicy   ScalingConfig    `json:"scaling_policy"`
	RetentionPolicy *RetentionConfig `json:"retention_policy,omitempty"`
}

// CreateEntityResponse reports the outcome of a create request
type CreateEntityResponse struct {
	Status string         `json:"status"`
	Entity EntityProperty `json:"entity"`
}

// KeyRangeRequest is one new key range of a scale request
type KeyRangeRequest struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ScaleRequest is the body of POST .../scale
type ScaleRequest struct {
	SealedSegments []int64           `json:"sealed_segments"`
	NewRanges      []KeyRangeRequest `json:"new_ranges"`
}

// StreamCutRequest is the body of POST .../retention
type StreamCutRequest struct {
	RecordingTime int64 `json:"recording_time"`
	RecordingSize int64 `json:"recording_size"`
}

// RetentionSetResponse lists the retention set
type RetentionSetResponse struct {
	StreamCuts []StreamCutRequest `json:"stream_cuts"`
}

// ProcessorRequest is the body of PUT .../processor
type ProcessorRequest struct {
	Processor string `json:"processor"`
}

// SegmentIDsResponse lists every segment id of an entity
type SegmentIDsResponse struct {
	SegmentIDs []int64 `json:"segment_ids"`
}

// ProcessorResponse names the current waiting request processor
type ProcessorResponse struct {
	Processor string `json:"processor"`
}

const entityPath = "/scopes/{scope}/entities/{name}"

// RegisterRoutes registers the API routes on r
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/scopes/{scope}/entities", h.CreateEntity).Methods(http.MethodPost)

	v1.HandleFunc(entityPath, h.GetEntity).Methods(http.MethodGet)
	v1.HandleFunc(entityPath, h.UpdateEntity).Methods(http.MethodPut)
	v1.HandleFunc(entityPath, h.DeleteEntity).Methods(http.MethodDelete)

	ent := v1.PathPrefix(entityPath).Subrouter()
	ent.HandleFunc("/seal", h.SealEntity).Methods(http.MethodPost)
	ent.HandleFunc("/scale", h.ScaleEntity).Methods(http.MethodPost)
	ent.HandleFunc("/scale-metadata", h.GetScaleMetadata).Methods(http.MethodGet)
	ent.HandleFunc("/segments", h.GetActiveSegments).Methods(http.MethodGet)
	ent.HandleFunc("/segments/{segment_id:[0-9]+}", h.GetSegment).Methods(http.MethodGet)
	ent.HandleFunc("/segment-ids", h.GetAllSegmentIDs).Methods(http.MethodGet)
	ent.HandleFunc("/epoch-transition", h.GetEpochTransition).Methods(http.MethodGet)
	ent.HandleFunc("/epochs", h.GetEpochs).Methods(http.MethodGet)
	ent.HandleFunc("/epochs/{epoch:[0-9]+}", h.GetEpoch).Methods(http.MethodGet)
	ent.HandleFunc("/epoch-at-time", h.GetEpochAtTime).Methods(http.MethodGet)
	ent.HandleFunc("/retention", h.GetRetentionSet).Methods(http.MethodGet)
	ent.HandleFunc("/retention", h.AddStreamCut).Methods(http.MethodPost)
	ent.HandleFunc("/retention", h.TruncateRetentionSet).Methods(http.MethodDelete)
	ent.HandleFunc("/processor", h.GetProcessor).Methods(http.MethodGet)
	ent.HandleFunc("/processor", h.ClaimProcessor).Methods(http.MethodPut)
	ent.HandleFunc("/processor", h.ReleaseProcessor).Methods(http.MethodDelete)
}

func entityVars(r *http.Request) (scope, name string) {
	vars := mux.Vars(r)
	return vars["scope"], vars["name"]
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, bits int) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, fmt.Errorf("query parameter %q is required", key)
	}
	v, err := strconv.ParseInt(raw, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q: %w", key, err)
	}
	return v, nil
}

// CreateEntity handles POST /v1/scopes/{scope}/entities
func (h *Handlers) CreateEntity(w http.ResponseWriter, r *http.Request) {
	scope := mux.Vars(r)["scope"]

	var req CreateEntityRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}
	if req.Name == "" {
		h.writeValidationError(w, r, "name is required")
		return
	}
	cfg, err := DecodeConfiguration(req.ScalingPolicy, req.RetentionPolicy)
	if err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}

	status, err := h.service.CreateEntity(r.Context(), scope, req.Name, cfg, req.StartingSegmentNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	scaling, retention := EncodeConfiguration(cfg)
	resp := CreateEntityResponse{
		Status: string(status),
		Entity: EntityProperty{
			Scope:           scope,
			Name:            req.Name,
			ScalingPolicy:   scaling,
			RetentionPolicy: retention,
		},
	}
	code := http.StatusCreated
	if status == service.CreateStatusEntityExists {
		code = http.StatusConflict
	}
	h.writeJSONResponse(w, code, resp)
}

// GetEntity handles GET /v1/scopes/{scope}/entities/{name}
func (h *Handlers) GetEntity(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	info, err := h.service.DescribeEntity(r.Context(), scope, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	scaling, retention := EncodeConfiguration(info.Configuration)
	h.writeJSONResponse(w, http.StatusOK, EntityProperty{
		Scope:           scope,
		Name:            name,
		ID:              info.ID.ID.String(),
		State:           info.State.String(),
		CreationTime:    info.CreationTime,
		ActiveEpoch:     info.ActiveEpoch,
		ScalingPolicy:   scaling,
		RetentionPolicy: retention,
	})
}

// UpdateEntity handles PUT /v1/scopes/{scope}/entities/{name}
func (h *Handlers) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)

	var req UpdateEntityRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}
	cfg, err := DecodeConfiguration(req.ScalingPolicy, req.RetentionPolicy)
	if err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}
	if err := h.service.UpdateConfiguration(r.Context(), scope, name, cfg); err != nil {
		h.writeError(w, r, err)
		return
	}

	scaling, retention := EncodeConfiguration(cfg)
	h.writeJSONResponse(w, http.StatusOK, EntityProperty{
		Scope:           scope,
		Name:            name,
		ScalingPolicy:   scaling,
		RetentionPolicy: retention,
	})
}

// DeleteEntity handles DELETE /v1/scopes/{scope}/entities/{name}
func (h *Handlers) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	if err := h.service.DeleteEntity(r.Context(), scope, name); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SealEntity handles POST .../seal
func (h *Handlers) SealEntity(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	if err := h.service.Seal(r.Context(), scope, name); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]string{"state": model.StateSealed.String()})
}

// ScaleEntity handles POST .../scale
func (h *Handlers) ScaleEntity(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)

	var req ScaleRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}
	ranges := make([]model.KeyRange, len(req.NewRanges))
	for i, kr := range req.NewRanges {
		ranges[i] = model.KeyRange{Start: kr.Start, End: kr.End}
	}

	next, err := h.service.Scale(r.Context(), scope, name, req.SealedSegments, ranges)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, encodeEpoch(next))
}

// GetScaleMetadata handles GET .../scale-metadata?from=&to=
func (h *Handlers) GetScaleMetadata(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	from, err := queryInt(r, "from", 64)
	if err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}
	to, err := queryInt(r, "to", 64)
	if err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}

	scales, err := h.service.GetScaleMetadata(r.Context(), scope, name, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]ScaleMetadataResponse, len(scales))
	for i, s := range scales {
		resp[i] = ScaleMetadataResponse{
			Timestamp: s.Timestamp,
			Segments:  encodeSegments(s.Segments),
			Splits:    s.Splits,
			Merges:    s.Merges,
		}
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// GetActiveSegments handles GET .../segments
func (h *Handlers) GetActiveSegments(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	segments, err := h.service.GetActiveSegments(r.Context(), scope, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, encodeSegments(segments))
}

// GetSegment handles GET .../segments/{segment_id}
func (h *Handlers) GetSegment(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	id, err := strconv.ParseInt(mux.Vars(r)["segment_id"], 10, 64)
	if err != nil {
		h.writeValidationError(w, r, "invalid segment id")
		return
	}
	segment, err := h.service.GetSegment(r.Context(), scope, name, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, encodeSegment(segment))
}

// GetAllSegmentIDs handles GET .../segment-ids
func (h *Handlers) GetAllSegmentIDs(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	ids, err := h.service.GetAllSegmentIDs(r.Context(), scope, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	h.writeJSONResponse(w, http.StatusOK, SegmentIDsResponse{SegmentIDs: ids})
}

// GetEpochTransition handles GET .../epoch-transition
func (h *Handlers) GetEpochTransition(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	transition, err := h.service.GetEpochTransition(r.Context(), scope, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, encodeEpochTransition(transition))
}

// GetEpochs handles GET .../epochs?from=&to=
func (h *Handlers) GetEpochs(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	from, err := queryInt(r, "from", 32)
	if err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}
	to, err := queryInt(r, "to", 32)
	if err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}

	epochs, err := h.service.GetEpochsInRange(r.Context(), scope, name, int32(from), int32(to))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]EpochResponse, len(epochs))
	for i, e := range epochs {
		resp[i] = encodeEpoch(e)
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// GetEpoch handles GET .../epochs/{epoch}
func (h *Handlers) GetEpoch(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	epoch, err := strconv.ParseInt(mux.Vars(r)["epoch"], 10, 32)
	if err != nil {
		h.writeValidationError(w, r, "invalid epoch")
		return
	}
	record, err := h.service.GetEpoch(r.Context(), scope, name, int32(epoch))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, encodeEpoch(record))
}

// GetEpochAtTime handles GET .../epoch-at-time?timestamp=
func (h *Handlers) GetEpochAtTime(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	ts, err := queryInt(r, "timestamp", 64)
	if err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}
	record, err := h.service.GetEpochAtTime(r.Context(), scope, name, ts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, encodeEpoch(record))
}

// GetRetentionSet handles GET .../retention
func (h *Handlers) GetRetentionSet(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	set, err := h.service.GetRetentionSet(r.Context(), scope, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := RetentionSetResponse{StreamCuts: make([]StreamCutRequest, len(set.StreamCuts))}
	for i, c := range set.StreamCuts {
		resp.StreamCuts[i] = StreamCutRequest{RecordingTime: c.RecordingTime, RecordingSize: c.RecordingSize}
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// AddStreamCut handles POST .../retention
func (h *Handlers) AddStreamCut(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	var req StreamCutRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}
	ref := model.StreamCutReference{RecordingTime: req.RecordingTime, RecordingSize: req.RecordingSize}
	if err := h.service.AddStreamCut(r.Context(), scope, name, ref); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, req)
}

// TruncateRetentionSet handles DELETE .../retention?before=
func (h *Handlers) TruncateRetentionSet(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	before, err := queryInt(r, "before", 64)
	if err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}
	if err := h.service.TruncateRetentionSet(r.Context(), scope, name, before); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetProcessor handles GET .../processor
func (h *Handlers) GetProcessor(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	holder, err := h.service.CurrentProcessor(r.Context(), scope, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, ProcessorResponse{Processor: holder})
}

// ClaimProcessor handles PUT .../processor. The response names the holder,
// which differs from the request when another processor got there first.
func (h *Handlers) ClaimProcessor(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	var req ProcessorRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, err.Error())
		return
	}
	if req.Processor == "" {
		h.writeValidationError(w, r, "processor is required")
		return
	}
	holder, err := h.service.ClaimProcessor(r.Context(), scope, name, req.Processor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, ProcessorResponse{Processor: holder})
}

// ReleaseProcessor handles DELETE .../processor?processor=
func (h *Handlers) ReleaseProcessor(w http.ResponseWriter, r *http.Request) {
	scope, name := entityVars(r)
	processor := r.URL.Query().Get("processor")
	if processor == "" {
		h.writeValidationError(w, r, `query parameter "processor" is required`)
		return
	}
	if err := h.service.ReleaseProcessor(r.Context(), scope, name, processor); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
