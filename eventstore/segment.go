package eventstore

import (
	"compress/gzip"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lighthouse/bridge/core"
)

// Record framing: [length: 4-byte big-endian][hmac: 32 bytes][payload].
// The payload is the JSON-serialized Event; HMAC-SHA256 over the payload,
// keyed by the store secret, authenticates the record's origin — not
// merely its integrity (spec §4.1).
const (
	lengthFieldBytes = 4
	hmacFieldBytes   = 32
)

func segmentFileName(startSeq int64) string {
	return fmt.Sprintf("events_%06d.log", startSeq)
}

// encodeRecord serializes an event into its on-disk framed form.
func encodeRecord(e *Event, secret []byte) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	sum := mac.Sum(nil)

	buf := make([]byte, lengthFieldBytes+hmacFieldBytes+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:4+hmacFieldBytes], sum)
	copy(buf[4+hmacFieldBytes:], payload)
	return buf, nil
}

// decodeRecord reads one framed record from r. It returns io.EOF when r is
// exhausted cleanly at a record boundary. A truncated header or payload
// and an over-long length field return errTruncatedRecord; an HMAC
// mismatch or undecodable payload return errHMACMismatch or
// errCorruptPayload. None of these is fatal to the caller (replay).
func decodeRecord(r io.Reader, secret []byte) (*Event, error) {
	header := make([]byte, lengthFieldBytes+hmacFieldBytes)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errTruncatedRecord
		}
		return nil, err // typically io.EOF
	}

	length := binary.BigEndian.Uint32(header[0:4])
	if int(length) > core.MaxEventSizeBytes {
		return nil, errTruncatedRecord
	}
	storedHMAC := header[4 : 4+hmacFieldBytes]

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errTruncatedRecord
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, storedHMAC) {
		return nil, errHMACMismatch
	}

	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, errCorruptPayload
	}
	return &e, nil
}

var (
	errTruncatedRecord = fmt.Errorf("truncated record")
	errHMACMismatch    = fmt.Errorf("hmac mismatch")
	errCorruptPayload  = fmt.Errorf("corrupt payload")
)

// rollSegment gzip-compresses a closed segment file in place, matching
// the external `.log.gz` naming contract (spec §6).
func rollSegment(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open segment for roll: %w", err)
	}
	defer src.Close()

	dstPath := path + ".gz"
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create rolled segment: %w", err)
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		return fmt.Errorf("compress segment: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}

	return os.Remove(path)
}

// openSegmentReader opens a segment for sequential reads, transparently
// decompressing it if it was already rolled to .log.gz.
func openSegmentReader(path string) (io.ReadCloser, error) {
	if filepath.Ext(path) == ".gz" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &gzipReadCloser{gz: gz, f: f}, nil
	}
	return os.Open(path)
}

type gzipReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g *gzipReadCloser) Close() error {
	g.gz.Close()
	return g.f.Close()
}

// readAllRecords decodes the well-formed records in a segment file,
// counting every record that fails to decode as a recovery anomaly. A
// record with an HMAC mismatch or corrupt payload is skipped and reading
// continues; a truncated or over-long record ends the scan of this
// segment, since the position of the next record is then unknown.
func readAllRecords(path string, secret []byte) ([]*Event, int, error) {
	r, err := openSegmentReader(path)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	var events []*Event
	anomalies := 0
	for {
		e, err := decodeRecord(r, secret)
		if err == io.EOF {
			break
		}
		if err != nil {
			anomalies++
			// A framing error leaves the reader's position unknown, so
			// the scan stops there; after an HMAC or payload error the
			// next record starts at a known offset and may still be read.
			if err == errTruncatedRecord {
				break
			}
			continue
		}
		events = append(events, e)
	}
	return events, anomalies, nil
}
