package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

// Tag identifies the frame kind. The high nibble groups direction:
// 0x0x handshake, 0x1x server to worker, 0x2x worker to server.
type Tag uint8

const (
	TagRegister    Tag = 0x01
	TagRegisterAck Tag = 0x02

	TagJobRequest    Tag = 0x10
	TagArtifactChunk Tag = 0x11
	TagCacheQuery    Tag = 0x12
	TagCancelJob     Tag = 0x13
	TagShutdown      Tag = 0x14

	TagHeartbeat     Tag = 0x20
	TagStatusUpdate  Tag = 0x21
	TagLogChunk      Tag = 0x22
	TagArtifactAck   Tag = 0x23
	TagCacheResponse Tag = 0x24
)

func (t Tag) String() string {
	switch t {
	case TagRegister:
		return "register"
	case TagRegisterAck:
		return "register_ack"
	case TagJobRequest:
		return "job_request"
	case TagArtifactChunk:
		return "artifact_chunk"
	case TagCacheQuery:
		return "cache_query"
	case TagCancelJob:
		return "cancel_job"
	case TagShutdown:
		return "shutdown"
	case TagHeartbeat:
		return "heartbeat"
	case TagStatusUpdate:
		return "status_update"
	case TagLogChunk:
		return "log_chunk"
	case TagArtifactAck:
		return "artifact_ack"
	case TagCacheResponse:
		return "cache_response"
	default:
		return fmt.Sprintf("tag(0x%02x)", uint8(t))
	}
}

// MaxFrameBytes bounds a single frame payload. The largest legitimate
// frame is an artifact chunk (4 MiB payload plus headers).
const MaxFrameBytes = 8 * 1024 * 1024

// Message is one frame body. Frames are a 1-byte tag, a 4-byte
// big-endian payload length and the payload in fixed field order.
type Message interface {
	Tag() Tag
	encode(e *encoder)
	decode(d *decoder) error
}

// WriteMessage frames and writes a single message.
func WriteMessage(w io.Writer, m Message) error {
	var e encoder
	m.encode(&e)
	payload := e.buf.Bytes()
	if len(payload) > MaxFrameBytes {
		return fmt.Errorf("wire: frame too large: %d bytes", len(payload))
	}

	header := [5]byte{byte(m.Tag())}
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadMessage reads and decodes a single framed message.
func ReadMessage(r io.Reader) (Message, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	tag := Tag(header[0])
	size := binary.BigEndian.Uint32(header[1:])
	if size > MaxFrameBytes {
		return nil, fmt.Errorf("wire: frame too large: %d bytes", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	m, err := newMessage(tag)
	if err != nil {
		return nil, err
	}
	d := decoder{buf: payload}
	if err := m.decode(&d); err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", tag, err)
	}
	if d.pos != len(d.buf) {
		return nil, fmt.Errorf("wire: decode %s: %d trailing bytes", tag, len(d.buf)-d.pos)
	}
	return m, nil
}

func newMessage(tag Tag) (Message, error) {
	switch tag {
	case TagRegister:
		return &Register{}, nil
	case TagRegisterAck:
		return &RegisterAck{}, nil
	case TagJobRequest:
		return &JobRequest{}, nil
	case TagArtifactChunk:
		return &ArtifactChunk{}, nil
	case TagCacheQuery:
		return &CacheQuery{}, nil
	case TagCancelJob:
		return &CancelJob{}, nil
	case TagShutdown:
		return &Shutdown{}, nil
	case TagHeartbeat:
		return &Heartbeat{}, nil
	case TagStatusUpdate:
		return &StatusUpdate{}, nil
	case TagLogChunk:
		return &LogChunk{}, nil
	case TagArtifactAck:
		return &ArtifactAck{}, nil
	case TagCacheResponse:
		return &CacheResponse{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown tag 0x%02x", uint8(tag))
	}
}

// encoder appends fixed-layout fields to a buffer. Strings and byte
// payloads are length-prefixed (u32); timestamps are i64 seconds plus
// i32 nanos; enums are single bytes.
type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u8(v uint8)   { e.buf.WriteByte(v) }
func (e *encoder) bool(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) i32(v int32)     { e.u32(uint32(v)) }
func (e *encoder) i64(v int64)     { e.u64(uint64(v)) }
func (e *encoder) f64(v float64)   { e.u64(math.Float64bits(v)) }
func (e *encoder) string(v string) { e.u32(uint32(len(v))); e.buf.WriteString(v) }
func (e *encoder) bytes(v []byte)  { e.u32(uint32(len(v))); e.buf.Write(v) }

func (e *encoder) time(t time.Time) {
	if t.IsZero() {
		e.i64(0)
		e.i32(0)
		return
	}
	e.i64(t.Unix())
	e.i32(int32(t.Nanosecond()))
}

func (e *encoder) stringSlice(v []string) {
	e.u32(uint32(len(v)))
	for _, s := range v {
		e.string(s)
	}
}

func (e *encoder) stringMap(v map[string]string) {
	e.u32(uint32(len(v)))
	for k, val := range v {
		e.string(k)
		e.string(val)
	}
}

type decoder struct {
	buf []byte
	pos int
}

var errShortFrame = fmt.Errorf("short frame")

func (d *decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, errShortFrame
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// checkCount rejects a declared element count that could not fit in the
// remaining payload, so a hostile frame cannot force a huge allocation
// before the short-frame check fires.
func (d *decoder) checkCount(n uint32, minElemSize int) error {
	if uint64(n)*uint64(minElemSize) > uint64(len(d.buf)-d.pos) {
		return errShortFrame
	}
	return nil
}

func (d *decoder) u8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) bool() (bool, error) {
	v, err := d.u8()
	return v != 0, err
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *decoder) i32() (int32, error) {
	v, err := d.u32()
	return int32(v), err
}

func (d *decoder) i64() (int64, error) {
	v, err := d.u64()
	return int64(v), err
}

func (d *decoder) f64() (float64, error) {
	v, err := d.u64()
	return math.Float64frombits(v), err
}

func (d *decoder) string() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) bytesField() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	b, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (d *decoder) time() (time.Time, error) {
	sec, err := d.i64()
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := d.i32()
	if err != nil {
		return time.Time{}, err
	}
	if sec == 0 && nanos == 0 {
		return time.Time{}, nil
	}
	return time.Unix(sec, int64(nanos)), nil
}

func (d *decoder) stringSlice() ([]string, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	// Every string carries at least its 4-byte length prefix.
	if err := d.checkCount(n, 4); err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := d.string()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) stringMap() (map[string]string, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	// Every entry carries two 4-byte length prefixes.
	if err := d.checkCount(n, 8); err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := d.string()
		if err != nil {
			return nil, err
		}
		v, err := d.string()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
