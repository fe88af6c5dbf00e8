package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/world"
)

const FileVersion = 1

// Header is the first line of a snapshot file, readable without decoding the body.
type Header struct {
	Version   int    `json:"version"`
	WorldID   string `json:"world_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Owner     string `json:"owner,omitempty"`
	SavedAtMS int64  `json:"saved_at_ms"`
}

// Shared codecs; EncodeAll/DecodeAll are safe for concurrent use.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
)

// Compress and Decompress wrap raw zstd frames, used for HTTP bodies.
func Compress(b []byte) []byte { return encoder.EncodeAll(b, nil) }

func Decompress(b []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

// EncodeJSON is the storage form: JSON world data in one zstd frame.
func EncodeJSON(d world.Data) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return Compress(raw), nil
}

func DecodeJSON(b []byte) (world.Data, error) {
	var d world.Data
	raw, err := Decompress(b)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("json decode: %w", err)
	}
	return d, nil
}

// EncodeWire is the broadcast form: msgpack world data in one zstd frame.
func EncodeWire(d world.Data) ([]byte, error) {
	raw, err := msgpack.Marshal(&d)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return Compress(raw), nil
}

func DecodeWire(b []byte) (world.Data, error) {
	var d world.Data
	raw, err := Decompress(b)
	if err != nil {
		return d, err
	}
	if err := msgpack.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("msgpack decode: %w", err)
	}
	return d, nil
}

// Encode dispatches on a protocol encoding name.
func Encode(encoding string, d world.Data) ([]byte, error) {
	switch encoding {
	case protocol.EncodingMsgpackZstd:
		return EncodeWire(d)
	case protocol.EncodingJSONZstd:
		return EncodeJSON(d)
	}
	return nil, fmt.Errorf("unknown snapshot encoding %q", encoding)
}

func Decode(encoding string, b []byte) (world.Data, error) {
	switch encoding {
	case protocol.EncodingMsgpackZstd:
		return DecodeWire(b)
	case protocol.EncodingJSONZstd:
		return DecodeJSON(b)
	}
	return world.Data{}, fmt.Errorf("unknown snapshot encoding %q", encoding)
}

// WriteFile stores a world as a zstd stream of one JSON header line followed by a gob body.
func WriteFile(path, worldID string, d world.Data) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeStream(f, worldID, d); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeStream(f *os.File, worldID string, d world.Data) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	h := Header{
		Version:   FileVersion,
		WorldID:   worldID,
		Width:     d.Width,
		Height:    d.Height,
		Owner:     d.Owner,
		SavedAtMS: time.Now().UnixMilli(),
	}
	hb, _ := json.Marshal(h)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&d); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadFile(path string) (Header, world.Data, error) {
	var h Header
	var d world.Data
	f, err := os.Open(path)
	if err != nil {
		return h, d, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, d, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, d, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, d, fmt.Errorf("header: %w", err)
	}
	if h.Version != FileVersion {
		return h, d, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&d); err != nil {
		return h, d, fmt.Errorf("gob decode: %w", err)
	}
	return h, d, nil
}
