package codec

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/testing/protocmp"
	"google.golang.org/protobuf/types/known/structpb"
)

type playback struct {
	Playing   bool    `json:"playing" cbor:"playing" msgpack:"playing"`
	TimeScale float64 `json:"timeScale" cbor:"timeScale" msgpack:"timeScale"`
	SceneTime float64 `json:"sceneTime" cbor:"sceneTime" msgpack:"sceneTime"`
}

func TestTypedCodecs(t *testing.T) {
	in := playback{Playing: true, TimeScale: 0.5, SceneTime: 1234.25}
	codecs := map[string]Codec[playback]{
		"json":    JSON[playback]{},
		"cbor":    MustCBOR[playback](true),
		"msgpack": Msgpack[playback]{},
	}
	for name, c := range codecs {
		b, err := c.Encode(in)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		out, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestJSONFieldNames(t *testing.T) {
	b, _ := JSON[playback]{}.Encode(playback{TimeScale: 1})
	want := `{"playing":false,"timeScale":1,"sceneTime":0}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}

func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	a, _ := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	b, _ := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	if string(a) != string(b) {
		t.Fatalf("deterministic encoding differs: %x vs %x", a, b)
	}
}

func TestCBORRejectsDuplicateKeys(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	// {"a": 1, "a": 2}
	dup := []byte{0xa2, 0x61, 'a', 0x01, 0x61, 'a', 0x02}
	if _, err := c.Decode(dup); err == nil {
		t.Fatalf("duplicate map key accepted")
	}
}

func TestProtobufStruct(t *testing.T) {
	c := NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} })
	in, err := structpb.NewStruct(map[string]any{"SaveState_a/b/1": "ShareData=AAAA"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out, protocmp.Transform()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if _, err := c.Decode([]byte("12345")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("got %v want ErrTooLarge", err)
	}
	v, err := c.Decode([]byte("1234"))
	if err != nil || v != "1234" {
		t.Fatalf("got %q %v", v, err)
	}
	if b, _ := c.Encode("123456"); string(b) != "123456" {
		t.Fatalf("encode must not be limited")
	}
}

func TestBytesIdentity(t *testing.T) {
	in := []byte{1, 2, 3}
	out, _ := Bytes{}.Decode(in)
	if &out[0] != &in[0] {
		t.Fatalf("Bytes must not copy")
	}
}
