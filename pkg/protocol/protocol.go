// Package protocol defines the HTTP+JSON wire contract between the hub
// and remote worker nodes. Workers expose POST /process and GET /health;
// anything speaking this contract can serve as a remote device.
package protocol

// Multipart form fields accepted by POST /process.
const (
	FieldFile      = "file"
	FieldRequestID = "request_id"
	FieldKind      = "kind"
	FieldParams    = "params"
	FieldDeadline  = "deadline_seconds"
)

// Process outcome statuses. A worker always answers a completed request
// with HTTP 200 and one of these; non-200 responses mean the request
// never ran to completion and may be retried.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Params is the JSON payload of the params form field. Extraction fields
// apply to text_extraction and combined jobs, detail_level to
// image_description and combined jobs. Zero values mean worker defaults.
type Params struct {
	Method      string `json:"method,omitempty"`
	Backend     string `json:"backend,omitempty"`
	Lang        string `json:"lang,omitempty"`
	Formula     *bool  `json:"formula,omitempty"`
	Table       *bool  `json:"table,omitempty"`
	StartPage   *int   `json:"start_page,omitempty"`
	EndPage     *int   `json:"end_page,omitempty"`
	SglangURL   string `json:"sglang_url,omitempty"`
	DetailLevel string `json:"detail_level,omitempty"`
}

// ProcessResponse is the body of a completed POST /process. CoreFiles and
// artifact URLs are presigned and point at the shared object store.
type ProcessResponse struct {
	Status              string             `json:"status"`
	RequestID           string             `json:"request_id"`
	Kind                string             `json:"kind"`
	CoreFiles           map[string]string  `json:"core_files,omitempty"`
	PDFURL              string             `json:"pdf_url,omitempty"`
	ConvertedFromOffice bool               `json:"converted_from_office,omitempty"`
	ImageCount          int                `json:"image_count,omitempty"`
	Descriptions        []ImageDescription `json:"descriptions,omitempty"`
	DescriptionsURL     string             `json:"descriptions_url,omitempty"`
	CombinedJSONURL     string             `json:"combined_result_url,omitempty"`
	CombinedMDURL       string             `json:"combined_md_url,omitempty"`
	Code                string             `json:"code,omitempty"`
	Error               string             `json:"error,omitempty"`
}

// ImageDescription is one described image. Page and Index are 1-based.
type ImageDescription struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail"`
	Page    int    `json:"page"`
	Index   int    `json:"index"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string   `json:"status"`
	Busy         bool     `json:"busy"`
	GPUOrdinal   int      `json:"gpu_ordinal"`
	Capabilities []string `json:"capabilities"`
}

// ErrorResponse is the body of any non-200 worker reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
