package codec_test

import (
	"testing"

	"github.com/nxconn/nxconn/codec"
)

type sample struct {
	Name string
	N    int
}

func TestRegistryRoundTrip(t *testing.T) {
	reg := codec.NewRegistry()
	id1 := reg.Register(&sample{})
	id2 := reg.Register(&sample{})
	if id1 != id2 {
		t.Fatalf("expected idempotent registration, got %d vs %d", id1, id2)
	}
	if _, err := reg.New(id1); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := reg.New(id1 + 99); err == nil {
		t.Fatal("expected error for unregistered type-id")
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	reg := codec.NewRegistry()
	id := reg.Register(&sample{})
	c := codec.NewJSONCodec(reg)

	in := &sample{Name: "urgent", N: 7}
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(id, b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := out.(*sample)
	if got.Name != in.Name || got.N != in.N {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, in)
	}
}

func TestGobCodecRoundTrip(t *testing.T) {
	reg := codec.NewRegistry()
	id := reg.Register(&sample{})
	c := codec.NewGobCodec(reg)

	in := &sample{Name: "file.bin", N: 42}
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(id, b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := out.(*sample)
	if got.Name != in.Name || got.N != in.N {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, in)
	}
}

func TestMsgpCodecFallsBackToJSON(t *testing.T) {
	reg := codec.NewRegistry()
	id := reg.Register(&sample{})
	c := codec.NewMsgpCodec(reg)

	in := &sample{Name: "fallback", N: 1}
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(id, b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.(*sample).Name != "fallback" {
		t.Fatalf("unexpected value: %+v", out)
	}
}

func TestForMethodSelectsCodec(t *testing.T) {
	for _, m := range []int{0, 1, 2} {
		c, err := codec.ForMethod(m)
		if err != nil {
			t.Fatalf("ForMethod(%d): %v", m, err)
		}
		if c.Method() != m {
			t.Fatalf("ForMethod(%d) returned codec for method %d", m, c.Method())
		}
	}
	if _, err := codec.ForMethod(99); err == nil {
		t.Fatal("expected error for unknown method")
	}
}
