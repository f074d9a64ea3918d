package wire

import "errors"

// ErrMalformed is the generic decode failure: the buffer did not contain a
// well-formed DNS message. Use MalformedError when the caller needs to
// know whether the header parsed far enough to echo the transaction id.
var ErrMalformed = errors.New("wire: malformed dns packet")

// ErrTruncatedBuffer means a read would run past the end of the buffer:
// the decoder must never read past the reported buffer length; this is
// always wrapped into a MalformedError up the stack.
var ErrTruncatedBuffer = errors.New("wire: read past end of buffer")

// ErrCompressionLoop means a name's pointer chain exceeded the hop cap or
// pointed forward/at-self, either of which would otherwise cycle forever.
var ErrCompressionLoop = errors.New("wire: compression pointer cycle or forward pointer")

// ErrTooManyQuestions / ErrNameTooLong are request-shape failures. The
// decoder returns ErrNameTooLong when a name's labels exceed maxNameOctets;
// it never returns ErrTooManyQuestions (question-count limits are enforced
// by pkg/reqlimits after decoding).
var (
	ErrTooManyQuestions = errors.New("wire: more than one question")
	ErrNameTooLong      = errors.New("wire: owner name exceeds 253 octets")
)

// MalformedError reports a decode failure. Recoverable is true when the
// 12-byte header parsed successfully, meaning ID is populated and the
// caller can synthesize a FORMERR response that echoes it.
type MalformedError struct {
	Err         error
	Recoverable bool
	ID          uint16
}

func (e *MalformedError) Error() string {
	return e.Err.Error()
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

func malformed(err error, recoverable bool, id uint16) *MalformedError {
	return &MalformedError{Err: err, Recoverable: recoverable, ID: id}
}
