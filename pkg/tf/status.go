package tf

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Errors raised by this package before any engine call is made. Each
// carries a status code, so Code works on them the same way it does on
// engine errors, and errors.Is sees through wrapping.
var (
	ErrShapeMismatch    = status.Error(codes.InvalidArgument, "value does not match shape")
	ErrTypeMismatch     = status.Error(codes.InvalidArgument, "value does not match data type")
	ErrUnserializable   = status.Error(codes.FailedPrecondition, "data type has no byte representation")
	ErrByteSizeMismatch = status.Error(codes.InvalidArgument, "byte size does not match tensor")
	ErrUnknownAttr      = status.Error(codes.InvalidArgument, "unsupported attribute value")
	ErrNotImplemented   = status.Error(codes.Unimplemented, "not implemented")
	ErrReleased         = status.Error(codes.FailedPrecondition, "tensor has been released")
	ErrSessionClosed    = status.Error(codes.FailedPrecondition, "session is closed")
	ErrFeedNotFound     = status.Error(codes.NotFound, "feed does not name an operation in the graph")
)

// Code returns the status code carried by err, OK for nil and Unknown for
// errors that carry none.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Unknown
}

// Message returns the text of err, including any wrapping context.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
