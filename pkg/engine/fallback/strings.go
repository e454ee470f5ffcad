package fallback

import (
	"encoding/binary"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

// Strings are stored as a varint length followed by the raw bytes.

func stringEncodedSize(n int) int {
	return protowire.SizeVarint(uint64(n)) + n
}

func stringEncode(src string, dst []byte) (int, error) {
	need := stringEncodedSize(len(src))
	if len(dst) < need {
		return 0, status.Errorf(codes.InvalidArgument, "dst_len (%d) too small to encode a %d-byte string", len(dst), len(src))
	}
	b := protowire.AppendVarint(dst[:0], uint64(len(src)))
	b = append(b, src...)
	return len(b), nil
}

func stringDecode(src []byte) (string, int, error) {
	n, prefix := protowire.ConsumeVarint(src)
	if prefix < 0 {
		return "", 0, status.Errorf(codes.InvalidArgument, "invalid string encoding or truncated src buffer")
	}
	if uint64(len(src)-prefix) < n {
		return "", 0, status.Errorf(codes.InvalidArgument, "string length %d exceeds the %d remaining bytes", n, len(src)-prefix)
	}
	end := prefix + int(n)
	return string(src[prefix:end]), end, nil
}

// decodeStrings reads every element of a STRING tensor in flat order.
func decodeStrings(t *tensor) ([]string, error) {
	count := int(t.numElements())
	table := 8 * count
	if len(t.data) < table {
		return nil, status.Errorf(codes.InvalidArgument, "string tensor of %d elements has only %d bytes", count, len(t.data))
	}
	region := t.data[table:]
	out := make([]string, count)
	for i := range out {
		offset := binary.NativeEndian.Uint64(t.data[8*i:])
		if offset > uint64(len(region)) {
			return nil, status.Errorf(codes.InvalidArgument, "string offset %d out of range", offset)
		}
		s, _, err := stringDecode(region[offset:])
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// encodeStrings builds a STRING tensor holding values in flat order.
func encodeStrings(dims []int64, values []string) (*tensor, error) {
	size := 8 * len(values)
	for _, s := range values {
		size += stringEncodedSize(len(s))
	}
	t, err := newTensor(engine.String, dims, size)
	if err != nil {
		return nil, err
	}
	region := t.data[8*len(values):]
	offset := 0
	for i, s := range values {
		binary.NativeEndian.PutUint64(t.data[8*i:], uint64(offset))
		n, err := stringEncode(s, region[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
	}
	return t, nil
}
