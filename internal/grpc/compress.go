package grpc

import (
	"io"

	"github.com/golang/snappy"
	"google.golang.org/grpc/encoding"
)

// SnappyName is the grpc-encoding identifier for snappy framed payloads.
const SnappyName = "snappy"

func init() {
	encoding.RegisterCompressor(snappyCompressor{})
}

// snappyCompressor adapts the snappy framing format to grpc's compressor registry so
// clients can opt in with grpc.UseCompressor(SnappyName).
type snappyCompressor struct{}

// Name reports the identifier used for snappy encoded payloads.
func (snappyCompressor) Name() string { return SnappyName }

// Compress wraps w in a buffered snappy stream writer.
func (snappyCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

// Decompress wraps r in a snappy stream reader.
func (snappyCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return snappy.NewReader(r), nil
}
