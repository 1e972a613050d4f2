package embed

import "testing"

func TestLocalEmbedderSupportsGPUReflectsActivation(t *testing.T) {
	active := &LocalEmbedder{dim: 8, gpu: true}
	if !active.SupportsGPU() {
		t.Fatal("expected SupportsGPU to report true when CUDA activation succeeded")
	}
	if active.Name() != "local-gpu" {
		t.Fatalf("expected name local-gpu, got %s", active.Name())
	}

	inactive := &LocalEmbedder{dim: 8, gpu: false}
	if inactive.SupportsGPU() {
		t.Fatal("expected SupportsGPU to report false when CUDA activation failed")
	}
	if inactive.Name() != "local-cpu-onnx" {
		t.Fatalf("expected name local-cpu-onnx, got %s", inactive.Name())
	}
}
