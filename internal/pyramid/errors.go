package pyramid

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is(err, ErrDecode) etc. to classify a failure.
var (
	// ErrDecode marks an unreadable or unsupported source raster. Fatal for the run.
	ErrDecode = errors.New("decode error")
	// ErrResize marks invalid target dimensions. Fatal for one level.
	ErrResize = errors.New("resize error")
	// ErrEncode marks a tile that could not be encoded. Tile local.
	ErrEncode = errors.New("encode error")
	// ErrIO marks a filesystem failure. Tile local unless it hits a level directory.
	ErrIO = errors.New("io error")
	// ErrTimeout marks an operation that exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrConfig marks invalid run parameters. Fatal before any work starts.
	ErrConfig = errors.New("config error")
)

// Error carries the kind of a failure plus where it happened
type Error struct {
	Kind error  // one of the Err* sentinels
	Op   string // probe, plan, rasterize, extract, encode, write, ...
	Path string // file involved, if any
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func configErrorf(format string, args ...any) *Error {
	return newError(ErrConfig, "config", "", fmt.Errorf(format, args...))
}

// KindOf returns the sentinel kind of err, or nil when err is not classified
func KindOf(err error) error {
	for _, k := range []error{ErrTimeout, ErrConfig, ErrDecode, ErrResize, ErrEncode, ErrIO} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// kindName is the short label used in logs, metrics and reports
func kindName(err error) string {
	switch KindOf(err) {
	case ErrTimeout:
		return "timeout"
	case ErrConfig:
		return "config"
	case ErrDecode:
		return "decode"
	case ErrResize:
		return "resize"
	case ErrEncode:
		return "encode"
	case ErrIO:
		return "io"
	}
	return "unknown"
}
