package rest

import (
	"encoding/json"
	"fmt"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/pkg/protocol"
)

// paramsFromWire decodes the params form field, overlaying the worker's
// defaults. An empty field means defaults for everything.
func paramsFromWire(raw string) (core.Params, error) {
	params := core.Params{
		Extract: core.DefaultExtractParams(),
		Vision:  core.DefaultVisionParams(),
	}
	if raw == "" {
		return params, nil
	}

	var wire protocol.Params
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return params, fmt.Errorf("%w: params: %v", core.ErrValidation, err)
	}

	if wire.Method != "" {
		params.Extract.Method = wire.Method
	}
	if wire.Backend != "" {
		params.Extract.Backend = wire.Backend
	}
	if wire.Lang != "" {
		params.Extract.Lang = wire.Lang
	}
	if wire.Formula != nil {
		params.Extract.Formula = *wire.Formula
	}
	if wire.Table != nil {
		params.Extract.Table = *wire.Table
	}
	params.Extract.StartPage = wire.StartPage
	params.Extract.EndPage = wire.EndPage
	if wire.SglangURL != "" {
		params.Extract.SglangURL = wire.SglangURL
	}
	if wire.DetailLevel != "" {
		params.Vision.DetailLevel = wire.DetailLevel
	}
	return params, nil
}

func resultToWire(job *core.Job, result *core.Result) protocol.ProcessResponse {
	resp := protocol.ProcessResponse{
		Status:              protocol.StatusSuccess,
		RequestID:           job.ID.String(),
		Kind:                string(job.Kind),
		CoreFiles:           result.CoreFiles,
		PDFURL:              result.PDFURL,
		ConvertedFromOffice: result.ConvertedFromOffice,
		ImageCount:          result.ImageCount,
		DescriptionsURL:     result.DescriptionsURL,
		CombinedJSONURL:     result.CombinedJSONURL,
		CombinedMDURL:       result.CombinedMDURL,
	}
	if len(result.Descriptions) > 0 {
		resp.Descriptions = make([]protocol.ImageDescription, len(result.Descriptions))
		for i, d := range result.Descriptions {
			resp.Descriptions[i] = protocol.ImageDescription{
				Summary: d.Summary,
				Detail:  d.Detail,
				Page:    d.Page,
				Index:   d.Index,
			}
		}
	}
	return resp
}

// failureToWire wraps a processing error in the 200-level error
// envelope. The hub treats this as definitive and fails the job.
func failureToWire(job *core.Job, err error) protocol.ProcessResponse {
	failure := core.FailureFromError(err)
	return protocol.ProcessResponse{
		Status:    protocol.StatusError,
		RequestID: job.ID.String(),
		Kind:      string(job.Kind),
		Code:      string(failure.Code),
		Error:     failure.Message,
	}
}
