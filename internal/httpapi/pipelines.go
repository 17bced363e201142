package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/agents"
	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/orchestrator"
)

const (
	maxBodyBytes = 1 << 20
	modeDurable  = "durable"
)

// runRequest is the body of POST /api/v1/pipelines/{name}/runs.
type runRequest struct {
	RunID    string                 `json:"run_id,omitempty"`
	RecordID string                 `json:"record_id,omitempty"`
	Payload  map[string]interface{} `json:"payload"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

type pipelineInfo struct {
	Name   string   `json:"name"`
	Agents []string `json:"agents"`
}

func (s *Server) handleListPipelines(w http.ResponseWriter, _ *http.Request) {
	reg := s.registry.Load()
	names := reg.Names()
	out := make([]pipelineInfo, 0, len(names))
	for _, name := range names {
		p, err := reg.Get(name)
		if err != nil {
			continue
		}
		info := pipelineInfo{Name: name}
		for _, k := range p.Kinds() {
			info.Agents = append(info.Agents, string(k))
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pipelines": out})
}

// handleRun runs a named pipeline and returns the final state. Every step's
// payload is shape-checked before the first agent runs. ?mode=durable hands
// the run to the workflow engine when one is configured.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Load().Get(r.PathValue("name"))
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	var body runRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, apperrors.Validation("invalid JSON body: %v", err), nil)
		return
	}
	for _, kind := range p.Kinds() {
		if _, err := agents.DecodePayload(kind, body.Payload); err != nil {
			s.writeError(w, err, nil)
			return
		}
	}

	req := orchestrator.Request{
		RunID:    body.RunID,
		RecordID: body.RecordID,
		Payload:  body.Payload,
		Context:  body.Context,
	}

	var state *orchestrator.State
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", orchestrator.ModeInline:
		state, err = p.Run(r.Context(), req)
	case modeDurable:
		if s.durable == nil {
			s.writeError(w, apperrors.Validation("durable mode is not enabled"), nil)
			return
		}
		state, err = s.durable.Run(r.Context(), p, req)
	default:
		s.writeError(w, apperrors.Validation("unknown mode %q", mode), nil)
		return
	}
	if err != nil {
		s.logger.Warn("Pipeline run failed",
			zap.String("pipeline", p.Name()),
			zap.String("record_id", req.RecordID),
			zap.Error(err),
		)
		s.writeError(w, err, state)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
