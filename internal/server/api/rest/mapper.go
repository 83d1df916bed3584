package rest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
)

// BuildJob assembles a fresh job from a submitted form. The input path
// and size are filled in once the upload is staged.
func BuildJob(kind core.JobKind, filename string, params core.Params) *core.Job {
	return &core.Job{
		ID:     uuid.New(),
		Kind:   kind,
		Params: params,
		Input:  core.InputFile{Name: filename},
	}
}

// paramsFromForm overlays submitted form fields on the defaults. Form
// values are strings; anything unparsable is a validation error.
func paramsFromForm(value func(string) string) (core.Params, error) {
	params := core.Params{
		Extract: core.DefaultExtractParams(),
		Vision:  core.DefaultVisionParams(),
	}

	if v := value("method"); v != "" {
		params.Extract.Method = v
	}
	if v := value("backend"); v != "" {
		params.Extract.Backend = v
	}
	if v := value("lang"); v != "" {
		params.Extract.Lang = v
	}
	if v := value("sglang_url"); v != "" {
		params.Extract.SglangURL = v
	}
	if v := value("detail_level"); v != "" {
		params.Vision.DetailLevel = v
	}

	var err error
	if params.Extract.Formula, err = formBool(value("formula"), params.Extract.Formula); err != nil {
		return params, fmt.Errorf("%w: formula: %v", core.ErrValidation, err)
	}
	if params.Extract.Table, err = formBool(value("table"), params.Extract.Table); err != nil {
		return params, fmt.Errorf("%w: table: %v", core.ErrValidation, err)
	}
	if params.Extract.StartPage, err = formInt(value("start_page")); err != nil {
		return params, fmt.Errorf("%w: start_page: %v", core.ErrValidation, err)
	}
	if params.Extract.EndPage, err = formInt(value("end_page")); err != nil {
		return params, fmt.Errorf("%w: end_page: %v", core.ErrValidation, err)
	}

	return params, nil
}

func formBool(raw string, fallback bool) (bool, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseBool(raw)
}

func formInt(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// toJobResponse maps a job record onto the wire envelope.
func toJobResponse(job *core.Job) JobResponse {
	resp := JobResponse{
		RequestID: job.ID.String(),
		Kind:      string(job.Kind),
		Device:    job.AssignedDevice,
	}

	switch job.Status {
	case core.StatusSucceeded:
		resp.Status = statusSuccess
		fillResult(&resp, job)
	case core.StatusFailed:
		resp.Status = statusError
		if job.Failure != nil {
			resp.Code = string(job.Failure.Code)
			resp.Error = job.Failure.Message
		} else {
			resp.Code = string(core.FailInternal)
			resp.Error = "job failed"
		}
	default:
		resp.Status = statusPending
		resp.Message = "job is still processing"
	}
	return resp
}

func fillResult(resp *JobResponse, job *core.Job) {
	result := job.Result
	if result == nil {
		return
	}

	resp.PDFURL = result.PDFURL
	resp.ConvertedFromOffice = result.ConvertedFromOffice

	switch job.Kind {
	case core.KindTextExtraction:
		resp.CoreFiles = result.CoreFiles
	case core.KindImageDescription:
		count := result.ImageCount
		resp.ImageCount = &count
		resp.Descriptions = toDescriptions(result.Descriptions)
		resp.DescriptionsURL = result.DescriptionsURL
	case core.KindCombined:
		resp.CoreFiles = result.CoreFiles
		count := result.ImageCount
		resp.ImageCount = &count
		resp.Descriptions = toDescriptions(result.Descriptions)
		resp.CombinedJSONURL = result.CombinedJSONURL
		resp.CombinedMDURL = result.CombinedMDURL
	}
}

func toDescriptions(items []core.ImageDescription) []Description {
	if len(items) == 0 {
		return nil
	}
	out := make([]Description, len(items))
	for i, item := range items {
		out[i] = Description{
			Summary: item.Summary,
			Detail:  item.Detail,
			Page:    item.Page,
			Index:   item.Index,
		}
	}
	return out
}

func toDeviceInfo(device *core.Device) DeviceInfo {
	info := DeviceInfo{
		ID:            device.ID,
		Kind:          string(device.Kind),
		Status:        string(device.Status),
		Addr:          device.Addr,
		LastHeartbeat: device.LastHeartbeat.UTC().Format(time.RFC3339),
	}
	for _, kind := range device.Capabilities {
		info.Capabilities = append(info.Capabilities, string(kind))
	}
	if device.Kind == core.DeviceLocalGPU {
		ordinal := device.Ordinal
		info.GPUOrdinal = &ordinal
	}
	if device.JobID != nil {
		info.JobID = device.JobID.String()
	}
	return info
}
