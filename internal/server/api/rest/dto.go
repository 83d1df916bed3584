package rest

// Envelope statuses on the public API. Internal Pending and Running both
// surface as "pending": callers only care whether the outcome is there.
const (
	statusPending = "pending"
	statusSuccess = "success"
	statusError   = "error"
)

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
}

// Description is one described image in a poll response.
type Description struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail"`
	Page    int    `json:"page"`
	Index   int    `json:"index"`
}

// JobResponse is the poll envelope. Which result fields are present
// depends on the job kind; failure fields are set only on "error".
type JobResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message,omitempty"`
	Device    string `json:"device,omitempty"`

	CoreFiles           map[string]string `json:"core_files,omitempty"`
	PDFURL              string            `json:"pdf_url,omitempty"`
	ConvertedFromOffice bool              `json:"converted_from_office,omitempty"`
	ImageCount          *int              `json:"image_count,omitempty"`
	Descriptions        []Description     `json:"descriptions,omitempty"`
	DescriptionsURL     string            `json:"descriptions_url,omitempty"`
	CombinedJSONURL     string            `json:"combined_result_url,omitempty"`
	CombinedMDURL       string            `json:"combined_md_url,omitempty"`

	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// DeviceInfo is one registry entry in the devices listing.
type DeviceInfo struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind"`
	Status        string   `json:"status"`
	Capabilities  []string `json:"capabilities,omitempty"`
	Addr          string   `json:"addr,omitempty"`
	GPUOrdinal    *int     `json:"gpu_ordinal,omitempty"`
	LastHeartbeat string   `json:"last_heartbeat"`
	JobID         string   `json:"job_id,omitempty"`
}

type DevicesResponse struct {
	Devices []DeviceInfo `json:"devices"`
}

// HealthResponse reports service liveness and collaborator state.
type HealthResponse struct {
	Status  string            `json:"status"` // ok | degraded
	Checks  map[string]string `json:"checks"`
	Devices map[string]int    `json:"devices"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
