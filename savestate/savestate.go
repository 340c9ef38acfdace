// Package savestate encodes camera pose and scene-specific state into the
// compact text blobs embedded in share links and save slots.
//
// Three text forms are recognized, checked in this order:
//
//	ZNCA8<body>=      V2 (decode only): f32 sceneTime | camera | scene bytes
//	A<body>           V3: u8 options (must be 0) | camera | scene bytes
//	ShareData=<body>  V3 layout, the form emitted for share links
//
// Bodies are base85. Scene bytes have no length prefix; they run to the end
// of the decoded body.
package savestate

import (
	"strings"

	"github.com/unkn0wn-root/sceneshare/internal/wire"
	"github.com/unkn0wn-root/sceneshare/savestate/base85"
)

// BufferSize bounds the binary body of a save state.
const BufferSize = 512

const (
	prefixV2    = "ZNCA8"
	suffixV2    = "="
	prefixV3    = "A"
	prefixShare = "ShareData="
)

type Version int

const (
	V2 Version = 2
	V3 Version = 3
)

func (v Version) String() string {
	switch v {
	case V2:
		return "v2"
	case V3:
		return "v3"
	default:
		return "unknown"
	}
}

// Form selects the text prefix written by Serialize.
type Form int

const (
	FormShareData Form = iota // ShareData=<body>
	FormV3                    // A<body>
)

// State is the decoded content of a save state.
type State struct {
	Version Version
	Options byte
	Camera  Camera

	// SceneTime is only carried by V2; V3 keeps playback time out of band.
	SceneTime    float32
	HasSceneTime bool

	SceneData []byte
}

// StateSerializer is implemented by scenes that persist their own state
// after the camera block. Offsets are byte offsets into buf; both methods
// return the offset just past what they wrote or consumed.
type StateSerializer interface {
	SerializeSaveState(buf []byte, off int) int
	DeserializeSaveState(buf []byte, off, length int) int
}

// Serialize writes st in the given form. SceneTime is ignored: V3 never
// carries it. Options must be 0.
func Serialize(form Form, st State) (string, error) {
	if st.Options != 0 {
		return "", ErrOptionsBits
	}
	w := wire.NewBuffer(BufferSize)
	if err := w.PutUint8(st.Options); err != nil {
		return "", err
	}
	if err := putCamera(w, st.Camera); err != nil {
		return "", err
	}
	if err := w.PutBytes(st.SceneData); err != nil {
		return "", ErrTooLarge
	}
	return encode(form, w.Bytes()), nil
}

// Capture serializes cam plus whatever scene writes through its
// StateSerializer. scene may be nil.
func Capture(form Form, cam Camera, scene StateSerializer) (string, error) {
	w := wire.NewBuffer(BufferSize)
	if err := w.PutUint8(0); err != nil {
		return "", err
	}
	if err := putCamera(w, cam); err != nil {
		return "", err
	}
	if scene != nil {
		off := scene.SerializeSaveState(w.Raw(), w.Offset())
		if err := w.Seek(off); err != nil {
			return "", ErrTooLarge
		}
	}
	return encode(form, w.Bytes()), nil
}

func encode(form Form, body []byte) string {
	switch form {
	case FormV3:
		return prefixV3 + base85.Encode(body)
	default:
		return prefixShare + base85.Encode(body)
	}
}

// Deserialize parses text. ok=false with a nil error means text is not a
// save state in any known form (including ""); callers fall back to
// defaults. A recognized but malformed state returns a *DecodeError.
func Deserialize(text string) (st State, ok bool, err error) {
	switch {
	case strings.HasPrefix(text, prefixV2) && strings.HasSuffix(text, suffixV2) && len(text) >= len(prefixV2)+len(suffixV2):
		st, err = decodeV2(text[len(prefixV2) : len(text)-len(suffixV2)])
	case strings.HasPrefix(text, prefixV3):
		st, err = decodeV3(text[len(prefixV3):])
	case strings.HasPrefix(text, prefixShare):
		st, err = decodeV3(text[len(prefixShare):])
	default:
		return State{}, false, nil
	}
	if err != nil {
		return State{}, true, err
	}
	return st, true, nil
}

func decodeBody(v Version, body string) (*wire.Buffer, error) {
	b, err := base85.Decode(body)
	if err != nil {
		return nil, &DecodeError{Version: v, Err: err}
	}
	if len(b) > BufferSize {
		return nil, &DecodeError{Version: v, Err: ErrTooLarge}
	}
	return wire.FromBytes(b), nil
}

func decodeV2(body string) (State, error) {
	r, err := decodeBody(V2, body)
	if err != nil {
		return State{}, err
	}
	t, err := r.Float32()
	if err != nil {
		return State{}, &DecodeError{Version: V2, Err: err}
	}
	cam, err := readCamera(r)
	if err != nil {
		return State{}, &DecodeError{Version: V2, Err: err}
	}
	return State{
		Version:      V2,
		Camera:       cam,
		SceneTime:    t,
		HasSceneTime: true,
		SceneData:    r.Rest(),
	}, nil
}

func decodeV3(body string) (State, error) {
	r, err := decodeBody(V3, body)
	if err != nil {
		return State{}, err
	}
	opts, err := r.Uint8()
	if err != nil {
		return State{}, &DecodeError{Version: V3, Err: err}
	}
	if opts != 0 {
		return State{}, &DecodeError{Version: V3, Err: ErrOptionsBits}
	}
	cam, err := readCamera(r)
	if err != nil {
		return State{}, &DecodeError{Version: V3, Err: err}
	}
	return State{
		Version:   V3,
		Options:   opts,
		Camera:    cam,
		SceneData: r.Rest(),
	}, nil
}

// Restore hands st's scene bytes to scene in the same frame Capture used:
// the full body, with off just past the camera block and length the body
// length. It returns the number of scene bytes consumed.
func Restore(st State, scene StateSerializer) int {
	if scene == nil {
		return 0
	}
	w := wire.NewBuffer(BufferSize)
	if st.Version == V2 {
		_ = w.PutFloat32(st.SceneTime)
	} else {
		_ = w.PutUint8(st.Options)
	}
	if err := putCamera(w, st.Camera); err != nil {
		return 0
	}
	off := w.Offset()
	if err := w.PutBytes(st.SceneData); err != nil {
		return 0
	}
	end := scene.DeserializeSaveState(w.Raw(), off, w.Offset())
	if end < off {
		return 0
	}
	return end - off
}
