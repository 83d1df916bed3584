package core

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	KindTextExtraction   JobKind = "text_extraction"
	KindImageDescription JobKind = "image_description"
	KindCombined         JobKind = "combined"
)

// Kinds returns every job kind, one queue and dispatcher pool per entry.
func Kinds() []JobKind {
	return []JobKind{KindTextExtraction, KindImageDescription, KindCombined}
}

func (k JobKind) Valid() bool {
	switch k {
	case KindTextExtraction, KindImageDescription, KindCombined:
		return true
	}
	return false
}

// ParseKinds converts configured kind names into job kinds.
func ParseKinds(names []string) ([]JobKind, error) {
	kinds := make([]JobKind, 0, len(names))
	for _, name := range names {
		kind := JobKind(name)
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown job kind %q", ErrValidation, name)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusSucceeded JobStatus = "SUCCEEDED"
	StatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ValidTransition defines the forward-only lifecycle: Pending may start
// running or fail outright (no capable device), Running may finish either
// way. Everything else, including any move out of a terminal status, is
// rejected.
func ValidTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed
	}
	return false
}

type Job struct {
	ID             uuid.UUID
	Kind           JobKind
	Status         JobStatus
	Params         Params
	Input          InputFile
	AssignedDevice string
	Result         *Result
	Failure        *Failure

	SubmittedAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	ExpiresAt   time.Time
}

// InputFile describes an upload staged on local disk for processing.
type InputFile struct {
	Name string
	Path string
	Size int64
}

type Params struct {
	Extract ExtractParams
	Vision  VisionParams
}

// ExtractParams mirror the MinerU CLI options a caller may set.
type ExtractParams struct {
	Method    string // auto, txt, ocr
	Backend   string // pipeline, vlm-transformers, vlm-sglang-engine, vlm-sglang-client
	Lang      string
	Formula   bool
	Table     bool
	StartPage *int
	EndPage   *int
	SglangURL string // only meaningful with the vlm-sglang-client backend
}

func DefaultExtractParams() ExtractParams {
	return ExtractParams{
		Method:  "auto",
		Backend: "pipeline",
		Lang:    "ch",
		Formula: true,
		Table:   true,
	}
}

func (p ExtractParams) Validate() error {
	switch p.Method {
	case "auto", "txt", "ocr":
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrValidation, p.Method)
	}
	switch p.Backend {
	case "pipeline", "vlm-transformers", "vlm-sglang-engine", "vlm-sglang-client":
	default:
		return fmt.Errorf("%w: unsupported backend %q", ErrValidation, p.Backend)
	}
	if p.StartPage != nil && *p.StartPage < 0 {
		return fmt.Errorf("%w: start_page must not be negative", ErrValidation)
	}
	if p.EndPage != nil && *p.EndPage < 0 {
		return fmt.Errorf("%w: end_page must not be negative", ErrValidation)
	}
	if p.StartPage != nil && p.EndPage != nil && *p.StartPage > *p.EndPage {
		return fmt.Errorf("%w: start_page %d exceeds end_page %d", ErrValidation, *p.StartPage, *p.EndPage)
	}
	return nil
}

// VisionParams shape the image description request.
type VisionParams struct {
	DetailLevel string // brief, full
}

func DefaultVisionParams() VisionParams {
	return VisionParams{DetailLevel: "full"}
}

func (p VisionParams) Validate() error {
	switch p.DetailLevel {
	case "brief", "full":
		return nil
	}
	return fmt.Errorf("%w: unsupported detail_level %q", ErrValidation, p.DetailLevel)
}

// Result holds the artifact references produced by a finished job. Core
// file keys are canonical names (result.md, model_output.txt, middle.json,
// content_list.json) mapping to presigned URLs.
type Result struct {
	CoreFiles           map[string]string
	PDFURL              string
	ConvertedFromOffice bool
	Descriptions        []ImageDescription
	ImageCount          int
	DescriptionsURL     string
	CombinedJSONURL     string
	CombinedMDURL       string
}

// ImageDescription is one described image: a one-sentence summary and a
// detail paragraph, positioned by page and in-page index.
type ImageDescription struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail"`
	Page    int    `json:"page"`
	Index   int    `json:"index"`
}

// Failure records why a job ended in StatusFailed.
type Failure struct {
	Code    FailureCode
	Message string
}

// QueueEntry is what sits in a job queue. Attempt counts device-wait
// requeues; RemoteTimeouts counts remote deadline requeues. Both travel
// with the entry so a requeued job keeps its budget. EnqueuedAt is the
// first time the entry entered the queue and survives requeues, so the
// dispatch log shows total queue latency.
type QueueEntry struct {
	JobID          uuid.UUID
	EnqueuedAt     time.Time
	Attempt        int
	RemoteTimeouts int
}

type DeviceKind string

const (
	DeviceLocalGPU DeviceKind = "local_gpu"
	DeviceRemote   DeviceKind = "remote"
)

type DeviceStatus string

const (
	DeviceIdle        DeviceStatus = "IDLE"
	DeviceBusy        DeviceStatus = "BUSY"
	DeviceUnreachable DeviceStatus = "UNREACHABLE"
)

// Device is a unit of compute the dispatcher can assign work to: a local
// GPU ordinal or a remote worker node.
type Device struct {
	ID            string
	Kind          DeviceKind
	Status        DeviceStatus
	Capabilities  []JobKind
	Addr          string
	Ordinal       int
	LastHeartbeat time.Time
	JobID         *uuid.UUID
}

// Capable reports whether the device can run jobs of the given kind. No
// declared capabilities means the device runs every kind.
func (d *Device) Capable(kind JobKind) bool {
	if len(d.Capabilities) == 0 {
		return true
	}
	for _, c := range d.Capabilities {
		if c == kind {
			return true
		}
	}
	return false
}

// InputType classifies an upload by extension.
type InputType string

const (
	InputPDF     InputType = "pdf"
	InputImage   InputType = "image"
	InputOffice  InputType = "office"
	InputUnknown InputType = "unknown"
)

var inputExtensions = map[InputType][]string{
	InputPDF:    {".pdf"},
	InputImage:  {".jpg", ".jpeg", ".png"},
	InputOffice: {".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx"},
}

// ClassifyInput maps a filename to its input type by extension.
func ClassifyInput(name string) InputType {
	ext := strings.ToLower(filepath.Ext(name))
	for typ, exts := range inputExtensions {
		for _, e := range exts {
			if ext == e {
				return typ
			}
		}
	}
	return InputUnknown
}

// SupportedExtensions lists every accepted upload extension.
func SupportedExtensions() []string {
	var exts []string
	for _, typ := range []InputType{InputPDF, InputImage, InputOffice} {
		exts = append(exts, inputExtensions[typ]...)
	}
	return exts
}
