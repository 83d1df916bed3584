package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// mockLogger is a no-op logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any) {}
func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) Fatal(msg string, args ...any) {}
func (m *mockLogger) With(args ...any) logging.Logger {
	return m
}

type fakePipe struct {
	mu       sync.Mutex
	ordinals []int
	run      func(ctx context.Context, job *core.Job, gpuOrdinal int) (*core.Result, error)
}

func (f *fakePipe) Run(ctx context.Context, job *core.Job, gpuOrdinal int) (*core.Result, error) {
	f.mu.Lock()
	f.ordinals = append(f.ordinals, gpuOrdinal)
	f.mu.Unlock()

	if f.run != nil {
		return f.run(ctx, job, gpuOrdinal)
	}
	return &core.Result{CoreFiles: map[string]string{"result.md": "https://store/result.md"}}, nil
}

func newTestJob(kind core.JobKind) *core.Job {
	return &core.Job{
		ID:   uuid.New(),
		Kind: kind,
		Params: core.Params{
			Extract: core.DefaultExtractParams(),
			Vision:  core.DefaultVisionParams(),
		},
		Input: core.InputFile{Name: "report.pdf", Path: "/tmp/report.pdf"},
	}
}

func TestProcessorRunsOnConfiguredGPU(t *testing.T) {
	pipe := &fakePipe{}
	processor := NewProcessor(pipe, 3, []core.JobKind{core.KindTextExtraction}, &mockLogger{})

	result, err := processor.Process(context.Background(), newTestJob(core.KindTextExtraction))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.CoreFiles["result.md"] == "" {
		t.Error("expected result to carry core files")
	}
	if len(pipe.ordinals) != 1 || pipe.ordinals[0] != 3 {
		t.Errorf("expected one run on GPU 3, got %v", pipe.ordinals)
	}
}

func TestProcessorPropagatesPipelineError(t *testing.T) {
	pipelineErr := core.ExtractionError(errors.New("mineru exited with status 1"))
	pipe := &fakePipe{
		run: func(ctx context.Context, job *core.Job, gpuOrdinal int) (*core.Result, error) {
			return nil, pipelineErr
		},
	}
	processor := NewProcessor(pipe, 0, nil, &mockLogger{})

	_, err := processor.Process(context.Background(), newTestJob(core.KindCombined))
	if !errors.Is(err, pipelineErr) {
		t.Fatalf("expected pipeline error, got %v", err)
	}
}

func TestProcessorBusyFlag(t *testing.T) {
	processor := NewProcessor(&fakePipe{}, 0, nil, &mockLogger{})

	if processor.Busy() {
		t.Fatal("fresh processor should not be busy")
	}
	if !processor.TryBegin() {
		t.Fatal("TryBegin on an idle processor should win")
	}
	if !processor.Busy() {
		t.Error("processor should report busy after TryBegin")
	}
	if processor.TryBegin() {
		t.Error("second TryBegin should lose while a job is running")
	}

	processor.End()
	if processor.Busy() {
		t.Error("processor should be idle again after End")
	}
	if !processor.TryBegin() {
		t.Error("TryBegin should win again after End")
	}
}

func TestProcessorTryBeginIsExclusive(t *testing.T) {
	processor := NewProcessor(&fakePipe{}, 0, nil, &mockLogger{})

	const contenders = 16
	var wg sync.WaitGroup
	start := make(chan struct{})

	results := make(chan bool, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- processor.TryBegin()
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	wins := 0
	for won := range results {
		if won {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one TryBegin winner, got %d", wins)
	}
}
