package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching against the typed errors below.
var (
	ErrUnsupportedType = errors.New("unsupported type")
	ErrInvalidEncoding = errors.New("invalid encoding")
	ErrNotFinite       = errors.New("number is not finite")

	ErrNegativeIndex   = errors.New("negative index")
	ErrIndexOutOfRange = errors.New("index out of range")

	ErrHandleCreationFailed = errors.New("wake handle creation failed")
	ErrLockPoisoned         = errors.New("lock poisoned")
	ErrDataNotSet           = errors.New("data not set")
	ErrDataAlreadySet       = errors.New("data already set")
	ErrWorkerPanicked       = errors.New("worker panicked")
	ErrExecutorClosed       = errors.New("executor closed")

	// ErrHostClosed is returned when a result arrives after its host
	// context was torn down. The result is discarded.
	ErrHostClosed = errors.New("host closed")
	// ErrAlreadySignaled is returned by a second Signal on the same handle.
	ErrAlreadySignaled = errors.New("wake handle already signaled")
)

// ConversionKind classifies value conversion failures.
type ConversionKind int

const (
	UnsupportedType ConversionKind = iota + 1
	InvalidEncoding
	NotFinite
)

func (k ConversionKind) String() string {
	switch k {
	case UnsupportedType:
		return "UnsupportedType"
	case InvalidEncoding:
		return "InvalidEncoding"
	case NotFinite:
		return "NotFinite"
	}
	return fmt.Sprintf("ConversionKind(%d)", int(k))
}

func (k ConversionKind) sentinel() error {
	switch k {
	case UnsupportedType:
		return ErrUnsupportedType
	case InvalidEncoding:
		return ErrInvalidEncoding
	case NotFinite:
		return ErrNotFinite
	}
	return nil
}

// ConversionError reports a value that cannot cross between the host and
// the database client. Index is the position in an argument list, or -1
// for a single value.
type ConversionError struct {
	Kind     ConversionKind
	TypeName string
	Index    int
}

// NewConversionError returns a ConversionError for a single value.
func NewConversionError(kind ConversionKind, typeName string) *ConversionError {
	return &ConversionError{Kind: kind, TypeName: typeName, Index: -1}
}

func (e *ConversionError) Error() string {
	var msg string
	switch e.Kind {
	case UnsupportedType:
		msg = fmt.Sprintf("unsupported type: %s", e.TypeName)
	case InvalidEncoding:
		msg = "invalid encoding: string is not valid UTF-8"
	case NotFinite:
		msg = "number is not finite"
	default:
		msg = "conversion failed"
	}
	if e.Index >= 0 {
		return fmt.Sprintf("argument %d: %s", e.Index, msg)
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Kind.sentinel() }

// AtIndex returns a copy of e positioned at index i.
func (e *ConversionError) AtIndex(i int) *ConversionError {
	c := *e
	c.Index = i
	return &c
}

// BoundsKind classifies column index failures.
type BoundsKind int

const (
	NegativeIndex BoundsKind = iota + 1
	IndexOutOfRange
)

func (k BoundsKind) String() string {
	switch k {
	case NegativeIndex:
		return "NegativeIndex"
	case IndexOutOfRange:
		return "IndexOutOfRange"
	}
	return fmt.Sprintf("BoundsKind(%d)", int(k))
}

// BoundsError reports a column index outside [0, Count).
type BoundsError struct {
	Kind  BoundsKind
	Index int64
	Count int32
}

func (e *BoundsError) Error() string {
	if e.Kind == NegativeIndex {
		return fmt.Sprintf("negative column index %d", e.Index)
	}
	return fmt.Sprintf("column index %d out of range [0, %d)", e.Index, e.Count)
}

func (e *BoundsError) Unwrap() error {
	if e.Kind == NegativeIndex {
		return ErrNegativeIndex
	}
	return ErrIndexOutOfRange
}

// CheckIndex validates i against a column count.
func CheckIndex(i int64, count int32) error {
	if i < 0 {
		return &BoundsError{Kind: NegativeIndex, Index: i, Count: count}
	}
	if i >= int64(count) {
		return &BoundsError{Kind: IndexOutOfRange, Index: i, Count: count}
	}
	return nil
}

// BridgeKind classifies async bridge failures.
type BridgeKind int

const (
	HandleCreationFailed BridgeKind = iota + 1
	LockPoisoned
	DataNotSet
	DataAlreadySet
	WorkerPanicked
	ExecutorClosed
)

func (k BridgeKind) String() string {
	switch k {
	case HandleCreationFailed:
		return "HandleCreationFailed"
	case LockPoisoned:
		return "LockPoisoned"
	case DataNotSet:
		return "DataNotSet"
	case DataAlreadySet:
		return "DataAlreadySet"
	case WorkerPanicked:
		return "WorkerPanicked"
	case ExecutorClosed:
		return "ExecutorClosed"
	}
	return fmt.Sprintf("BridgeKind(%d)", int(k))
}

func (k BridgeKind) sentinel() error {
	switch k {
	case HandleCreationFailed:
		return ErrHandleCreationFailed
	case LockPoisoned:
		return ErrLockPoisoned
	case DataNotSet:
		return ErrDataNotSet
	case DataAlreadySet:
		return ErrDataAlreadySet
	case WorkerPanicked:
		return ErrWorkerPanicked
	case ExecutorClosed:
		return ErrExecutorClosed
	}
	return nil
}

// BridgeError reports a failure of the async call machinery itself rather
// than of the database operation.
type BridgeError struct {
	Kind   BridgeKind
	Detail string
	Err    error
}

// NewBridgeError returns a BridgeError of the given kind.
func NewBridgeError(kind BridgeKind, detail string) *BridgeError {
	return &BridgeError{Kind: kind, Detail: detail}
}

func (e *BridgeError) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BridgeError) Is(target error) bool { return target == e.Kind.sentinel() }

func (e *BridgeError) Unwrap() error { return e.Err }

// StorageError wraps a failure reported by the database client.
type StorageError struct {
	Message string
	Err     error
}

// NewStorageError wraps err unless it already belongs to the error taxonomy.
func NewStorageError(err error) error {
	if err == nil || IsClassified(err) {
		return err
	}
	return &StorageError{Message: err.Error(), Err: err}
}

func (e *StorageError) Error() string { return "storage: " + e.Message }

func (e *StorageError) Unwrap() error { return e.Err }

// IsClassified reports whether err is one of the typed errors above.
func IsClassified(err error) bool {
	var ce *ConversionError
	var be *BoundsError
	var bre *BridgeError
	var se *StorageError
	return errors.As(err, &ce) || errors.As(err, &be) || errors.As(err, &bre) || errors.As(err, &se)
}

// ErrorInfo is the structured form of an error handed to scripts.
type ErrorInfo struct {
	// Name is the error family, e.g. "ConversionError".
	Name string `json:"name"`
	// Kind is the variant within the family, e.g. "NotFinite".
	Kind string `json:"kind"`
	// Code is a numeric category: 400 for caller mistakes, 500 for bridge
	// failures, 502 for storage failures.
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToJSON serializes the ErrorInfo.
func (e ErrorInfo) ToJSON() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// Describe classifies err into an ErrorInfo.
func Describe(err error) ErrorInfo {
	var ce *ConversionError
	var be *BoundsError
	var bre *BridgeError
	var se *StorageError
	switch {
	case err == nil:
		return ErrorInfo{}
	case errors.As(err, &ce):
		return ErrorInfo{Name: "ConversionError", Kind: ce.Kind.String(), Code: 400, Message: err.Error()}
	case errors.As(err, &be):
		return ErrorInfo{Name: "BoundsError", Kind: be.Kind.String(), Code: 400, Message: err.Error()}
	case errors.As(err, &bre):
		return ErrorInfo{Name: "BridgeError", Kind: bre.Kind.String(), Code: 500, Message: err.Error()}
	case errors.As(err, &se):
		return ErrorInfo{Name: "StorageError", Kind: "Storage", Code: 502, Message: se.Message}
	case errors.Is(err, ErrHostClosed):
		return ErrorInfo{Name: "BridgeError", Kind: "HostClosed", Code: 500, Message: err.Error()}
	}
	return ErrorInfo{Name: "Error", Kind: "Internal", Code: 500, Message: err.Error()}
}
