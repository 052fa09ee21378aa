package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/leads"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/routing"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/tenant"
)

// ManualRequest is the body of POST /api/v1/leads.
type ManualRequest struct {
	Lead       map[string]any   `json:"lead,omitempty"`
	Leads      []map[string]any `json:"leads,omitempty"`
	SourceType string           `json:"source_type,omitempty"`
	AutoRoute  bool             `json:"auto_route"`
}

type ManualResult struct {
	Index      int      `json:"index"`
	LeadID     string   `json:"leadId,omitempty"`
	Created    bool     `json:"created"`
	Eligible   bool     `json:"eligible"`
	Matched    bool     `json:"matched"`
	AssignedTo []string `json:"assignedTo"`
	Error      string   `json:"error,omitempty"`
}

type ManualResponse struct {
	Success bool           `json:"success"`
	Total   int            `json:"total"`
	Stored  int            `json:"stored"`
	Failed  int            `json:"failed"`
	Results []ManualResult `json:"results"`
}

// IngestManual stores leads pushed by an authenticated caller into the
// caller's workspace. With AutoRoute the leads are routed before the call
// returns; otherwise they go through the dispatcher.
func (s *IngestService) IngestManual(ctx context.Context, workspaceID string, req ManualRequest) (*ManualResponse, error) {
	records := req.Leads
	if req.Lead != nil {
		records = append([]map[string]any{req.Lead}, records...)
	}

	items := make([]any, len(records))
	for i, r := range records {
		items[i] = r
	}
	if _, err := s.resolver.Resolve(ctx, tenant.Input{
		Payload:         map[string]any{"leads": items},
		CallerWorkspace: workspaceID,
	}); err != nil {
		return nil, err
	}

	resp := &ManualResponse{Success: true, Total: len(records), Results: make([]ManualResult, 0, len(records))}
	for i, rec := range records {
		if req.SourceType != "" {
			if _, ok := rec["source_type"]; !ok {
				rec["source_type"] = req.SourceType
			}
		}

		out := s.writer.Write(ctx, rec, leads.Meta{WorkspaceID: workspaceID, Source: models.SourceManualAPI})
		result := ManualResult{Index: i, AssignedTo: []string{}}
		if !out.Stored() {
			resp.Failed++
			result.Error = out.Err.Error()
			resp.Results = append(resp.Results, result)
			continue
		}

		resp.Stored++
		result.LeadID = out.Lead.ID
		result.Created = out.Created
		result.Eligible = out.Lead.Eligible

		switch {
		case !out.Lead.Eligible:
		case req.AutoRoute && s.router != nil:
			routed, err := s.router.Route(ctx, out.Lead)
			if err != nil && !errors.Is(err, routing.ErrIneligible) {
				s.logger.WarnContext(ctx, "manual routing failed", logging.LeadID(out.Lead.ID), logging.Error(err))
				result.Error = fmt.Sprintf("routing: %v", err)
				break
			}
			if routed != nil {
				result.Matched = routed.Matched
				result.AssignedTo = routed.AssignedTo
			}
		default:
			s.dispatch(ctx, out.Lead)
		}
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}
