// Package stream implements C7: response body teeing for usage
// extraction and timing, plus a leniently-truncated gzip reader for
// upstreams that close the connection mid-frame.
package stream

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"time"

	"github.com/thushan/olla-gateway/internal/core/domain"
)

// GunzipStream wraps an upstream gzip-encoded body, tolerating a missing
// or truncated gzip footer (CRC32 + ISIZE) rather than erroring the whole
// response, since a provider that times out mid-stream still produced
// useful bytes for the client.
type GunzipStream struct {
	src io.ReadCloser
	gz  *gzip.Reader
	err error
}

func NewGunzipStream(src io.ReadCloser) (*GunzipStream, error) {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return nil, err
	}
	return &GunzipStream{src: src, gz: gz}, nil
}

func (s *GunzipStream) Read(p []byte) (int, error) {
	n, err := s.gz.Read(p)
	if err != nil && err != io.EOF && isTruncatedFooter(err) {
		return n, io.EOF
	}
	return n, err
}

func (s *GunzipStream) Close() error {
	_ = s.gz.Close()
	return s.src.Close()
}

func isTruncatedFooter(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unexpected EOF") || strings.Contains(msg, "gzip: invalid checksum")
}

// SSEEvent is one decoded Server-Sent-Events frame (event: + data: lines
// joined to the next blank line).
type SSEEvent struct {
	Name string
	Data []byte
}

// UsageSSETee relays an upstream SSE body to dst byte-for-byte while
// decoding each event to feed it to a domain.UsageParser, accumulating
// the merged usage across the whole stream. Grounded on the original
// implementation's incremental SSE usage extraction during relay (it
// never buffers the full body for streaming responses).
type UsageSSETee struct {
	parser  domain.UsageParser
	usage   domain.UsageMetrics
	hasUsage bool

	pending   []byte
	eventName string
	dataBuf   bytes.Buffer
}

func NewUsageSSETee(parser domain.UsageParser) *UsageSSETee {
	return &UsageSSETee{parser: parser}
}

// Feed processes one incremental chunk of an SSE body already written to
// the client elsewhere, buffering any partial trailing line across
// calls. Used by the failover loop's live SSE relay, which writes bytes
// straight to the client and feeds this tee purely for usage extraction
// — unlike Relay, Feed never owns the destination writer.
func (t *UsageSSETee) Feed(chunk []byte) {
	t.pending = append(t.pending, chunk...)
	for {
		idx := bytes.IndexByte(t.pending, '\n')
		if idx == -1 {
			break
		}
		line := string(t.pending[:idx+1])
		t.consumeLine(line, &t.eventName, &t.dataBuf)
		t.pending = t.pending[idx+1:]
	}
}

// Relay copies src to dst, scanning SSE frames as they pass through.
// Each write to dst happens before the corresponding frame is parsed for
// usage, so a parse panic or slow parser never delays bytes reaching the
// client.
func (t *UsageSSETee) Relay(dst io.Writer, src io.Reader, flush func()) error {
	reader := bufio.NewReader(src)
	var eventName string
	var dataBuf bytes.Buffer

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if _, werr := dst.Write([]byte(line)); werr != nil {
				return werr
			}
			if flush != nil {
				flush()
			}
			t.consumeLine(line, &eventName, &dataBuf)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (t *UsageSSETee) consumeLine(line string, eventName *string, dataBuf *bytes.Buffer) {
	trimmed := strings.TrimRight(line, "\r\n")
	switch {
	case trimmed == "":
		if dataBuf.Len() > 0 {
			if u, ok := t.parser.ParseSSEEvent(*eventName, dataBuf.Bytes()); ok {
				if t.hasUsage {
					t.usage = t.usage.Merge(u)
				} else {
					t.usage, t.hasUsage = u, true
				}
			}
		}
		*eventName = ""
		dataBuf.Reset()
	case strings.HasPrefix(trimmed, "event:"):
		*eventName = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
	case strings.HasPrefix(trimmed, "data:"):
		dataBuf.WriteString(strings.TrimPrefix(trimmed, "data:"))
	}
}

func (t *UsageSSETee) Usage() (domain.UsageMetrics, bool) {
	return t.usage, t.hasUsage
}

// WholeBodyTee buffers a non-streaming response body while relaying it,
// so usage can be parsed once the whole body is known.
type WholeBodyTee struct {
	buf bytes.Buffer
}

func (t *WholeBodyTee) Write(p []byte) (int, error) {
	return t.buf.Write(p)
}

func (t *WholeBodyTee) Bytes() []byte { return t.buf.Bytes() }

// TimingOnlyTee records only first-byte and total-duration timing,
// relaying bytes unmodified; used for CLI families with no usage parser
// wired (the failover loop still needs attempt timing regardless).
type TimingOnlyTee struct {
	Start       time.Time
	FirstByteAt *time.Time
}

func (t *TimingOnlyTee) Write(dst io.Writer, p []byte) (int, error) {
	if t.FirstByteAt == nil {
		now := time.Now()
		t.FirstByteAt = &now
	}
	return dst.Write(p)
}
