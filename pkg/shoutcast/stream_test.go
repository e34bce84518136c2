package shoutcast

import (
	"bytes"
	"io"
	"net/http"
	"testing"
)

func metaBlock(s string) []byte {
	size := (len(s) + 15) / 16
	block := make([]byte, 1+size*16)
	block[0] = byte(size)
	copy(block[1:], s)
	return block
}

func TestStreamStripsMetadata(t *testing.T) {
	var body bytes.Buffer
	body.WriteString("abcd")
	body.Write(metaBlock("StreamTitle='Artist - Song';StreamUrl='';"))
	body.WriteString("efgh")
	body.WriteByte(0)
	body.WriteString("ij")

	h := http.Header{}
	h.Set("icy-metaint", "4")
	h.Set("icy-name", "Groove")
	h.Set("icy-br", "128")

	s, err := newStream(h, io.NopCloser(&body))
	if err != nil {
		t.Fatalf("newStream returned error: %v", err)
	}
	var titles []string
	s.MetadataCallbackFunc = func(m *Metadata) { titles = append(titles, m.StreamTitle) }

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if string(got) != "abcdefghij" {
		t.Fatalf("expected metadata to be stripped, got %q", got)
	}
	if len(titles) != 1 || titles[0] != "Artist - Song" {
		t.Fatalf("unexpected titles %v", titles)
	}
	if s.Name != "Groove" || s.Bitrate != 128 {
		t.Fatalf("unexpected headers parsed: %+v", s)
	}
}

func TestStreamWithoutMetaint(t *testing.T) {
	s, err := newStream(http.Header{}, io.NopCloser(bytes.NewBufferString("plain audio")))
	if err != nil {
		t.Fatalf("newStream returned error: %v", err)
	}
	got, _ := io.ReadAll(s)
	if string(got) != "plain audio" {
		t.Fatalf("unexpected passthrough %q", got)
	}
}

func TestStreamTruncatedMetadata(t *testing.T) {
	var body bytes.Buffer
	body.WriteString("ab")
	body.WriteByte(2)
	body.WriteString("short")

	h := http.Header{}
	h.Set("icy-metaint", "2")
	s, err := newStream(h, io.NopCloser(&body))
	if err != nil {
		t.Fatalf("newStream returned error: %v", err)
	}
	if _, err := io.ReadAll(s); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestNewStreamRejectsBadHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("icy-metaint", "lots")
	if _, err := newStream(h, io.NopCloser(&bytes.Buffer{})); err == nil {
		t.Fatal("expected error for bad metaint")
	}
}

func TestMetadataEquals(t *testing.T) {
	a := NewMetadata([]byte("StreamTitle='A';\x00\x00"))
	b := NewMetadata([]byte("StreamTitle='A';"))
	if !a.Equals(b) {
		t.Fatal("expected equal blocks")
	}
	if a.Equals(nil) {
		t.Fatal("nil block should never be equal")
	}
}
