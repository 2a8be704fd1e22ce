package safetensors

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
)

// writeFile lays out an 8-byte header length, the JSON header and data.
func writeFile(t *testing.T, header map[string]any, data []byte) string {
	t.Helper()
	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	buf := make([]byte, 8, 8+len(headerBytes)+len(data))
	binary.LittleEndian.PutUint64(buf, uint64(len(headerBytes)))
	buf = append(buf, headerBytes...)
	buf = append(buf, data...)

	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func tensorSpec(dtype string, shape []int, start, end int64) map[string]any {
	return map[string]any{"dtype": dtype, "shape": shape, "data_offsets": []int64{start, end}}
}

func openFile(t *testing.T, path string) *File {
	t.Helper()
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestOpenValidFile(t *testing.T) {
	t.Parallel()
	path := writeFile(t, map[string]any{
		"__metadata__": map[string]string{"format": "pt"},
		"weight":       tensorSpec("F32", []int{2, 3}, 0, 24),
		"bias":         tensorSpec("F32", []int{2}, 24, 32),
	}, make([]byte, 32))

	f := openFile(t, path)
	if len(f.Tensors) != 2 {
		t.Fatalf("expected 2 tensors (metadata excluded), got %d", len(f.Tensors))
	}
	info, ok := f.Tensor("weight")
	if !ok {
		t.Fatal("tensor 'weight' not found")
	}
	if info.DType != "F32" || len(info.Shape) != 2 || info.Shape[0] != 2 || info.Shape[1] != 3 {
		t.Fatalf("unexpected tensor info: %+v", info)
	}
	raw, _, err := f.ReadTensor("bias")
	if err != nil {
		t.Fatalf("ReadTensor: %v", err)
	}
	if len(raw) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(raw))
	}
}

func TestOpenRejectsMalformedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	short := filepath.Join(dir, "short.safetensors")
	if err := os.WriteFile(short, []byte{0, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	badJSON := filepath.Join(dir, "json.safetensors")
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 12)
	buf = append(buf, "not valid js"...)
	if err := os.WriteFile(badJSON, buf, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	hugeHeader := filepath.Join(dir, "huge.safetensors")
	buf = make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, 1<<40)
	if err := os.WriteFile(hugeHeader, buf, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	paths := map[string]string{
		"missing":          filepath.Join(dir, "nope.safetensors"),
		"truncated":        short,
		"invalid json":     badJSON,
		"header too large": hugeHeader,
		"one offset": writeFile(t, map[string]any{
			"bad": map[string]any{"dtype": "F32", "shape": []int{1}, "data_offsets": []int64{0}},
		}, nil),
		"inverted offsets": writeFile(t, map[string]any{"bad": tensorSpec("F32", []int{2}, 8, 0)}, make([]byte, 8)),
		"past payload":     writeFile(t, map[string]any{"bad": tensorSpec("F32", []int{4}, 0, 16)}, make([]byte, 8)),
	}
	for name, path := range paths {
		if f, err := Open(path); err == nil {
			_ = f.Close()
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestReadTensorNotFoundOrClosed(t *testing.T) {
	t.Parallel()
	path := writeFile(t, map[string]any{"a": tensorSpec("F32", []int{1}, 0, 4)}, make([]byte, 4))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := f.ReadTensor("nonexistent"); err == nil {
		t.Fatal("expected error for missing tensor")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := f.ReadTensor("a"); err == nil {
		t.Fatal("expected error after close")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestReadTensorF32Decodes(t *testing.T) {
	t.Parallel()

	f32 := make([]byte, 16)
	for i, v := range []float32{1, 2, 3, 4} {
		binary.LittleEndian.PutUint32(f32[i*4:], math.Float32bits(v))
	}
	bf16 := make([]byte, 4)
	binary.LittleEndian.PutUint16(bf16[0:], 0x3F80)
	binary.LittleEndian.PutUint16(bf16[2:], 0x4000)
	f16 := make([]byte, 2)
	binary.LittleEndian.PutUint16(f16, 0x3C00)

	data := append(append(append([]byte{}, f32...), bf16...), f16...)
	path := writeFile(t, map[string]any{
		"f32":  tensorSpec("F32", []int{2, 2}, 0, 16),
		"bf16": tensorSpec("BF16", []int{2}, 16, 20),
		"f16":  tensorSpec("F16", []int{1}, 20, 22),
	}, data)
	f := openFile(t, path)

	tests := []struct {
		name string
		want []float32
	}{
		{"f32", []float32{1, 2, 3, 4}},
		{"bf16", []float32{1, 2}},
		{"f16", []float32{1}},
	}
	for _, tc := range tests {
		got, _, err := f.ReadTensorF32(tc.name)
		if err != nil {
			t.Fatalf("ReadTensorF32(%s): %v", tc.name, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s: expected %d elements, got %d", tc.name, len(tc.want), len(got))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s[%d]: expected %f, got %f", tc.name, i, tc.want[i], got[i])
			}
		}
	}
}

func TestReadTensorF32Errors(t *testing.T) {
	t.Parallel()
	path := writeFile(t, map[string]any{
		"ints":     tensorSpec("I32", []int{2}, 0, 8),
		"mismatch": tensorSpec("F32", []int{4}, 8, 16),
	}, make([]byte, 16))
	f := openFile(t, path)

	if _, _, err := f.ReadTensorF32("ints"); err == nil {
		t.Fatal("expected error for unsupported dtype")
	}
	if _, _, err := f.ReadTensorF32("mismatch"); err == nil {
		t.Fatal("expected error for size mismatch")
	}
}

func TestNumElements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		shape    []int
		expected int
		wantErr  bool
	}{
		{[]int{2, 3}, 6, false},
		{[]int{1}, 1, false},
		{[]int{4, 5, 6}, 120, false},
		{[]int{}, 0, true},
		{[]int{0}, 0, true},
		{[]int{2, -1}, 0, true},
	}

	for _, tc := range tests {
		n, err := numElements(tc.shape)
		if tc.wantErr {
			if err == nil {
				t.Errorf("numElements(%v): expected error", tc.shape)
			}
			continue
		}
		if err != nil || n != tc.expected {
			t.Errorf("numElements(%v) = %d, %v; want %d", tc.shape, n, err, tc.expected)
		}
	}
}

func TestHalfConversions(t *testing.T) {
	t.Parallel()

	bf := []struct {
		input    uint16
		expected float32
	}{
		{0x3F80, 1.0},
		{0xBF80, -1.0},
		{0x0000, 0.0},
		{0x4040, 3.0},
	}
	for _, tc := range bf {
		if got := bf16ToF32(tc.input); got != tc.expected {
			t.Errorf("bf16ToF32(0x%04X) = %f, want %f", tc.input, got, tc.expected)
		}
	}

	fp := []struct {
		input    uint16
		expected float32
	}{
		{0x3C00, 1.0},
		{0x4000, 2.0},
		{0xBC00, -1.0},
		{0x3800, 0.5},
		{0x0001, float32(math.Ldexp(1, -24))},
	}
	for _, tc := range fp {
		if got := fp16ToFloat32(tc.input); got != tc.expected {
			t.Errorf("fp16ToFloat32(0x%04X) = %g, want %g", tc.input, got, tc.expected)
		}
	}
	if got := fp16ToFloat32(0x7C00); !math.IsInf(float64(got), 1) {
		t.Errorf("fp16ToFloat32(0x7C00) = %f, want +Inf", got)
	}
}
