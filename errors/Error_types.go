package errors

// ERR is the numeric error code carried by every *Error. Codes are grouped in ranges:
// 0-9 general, 10-19 block, 50-59 service, 60-69 storage, 110-119 peer/network.
type ERR int32

const (
	ERR_UNKNOWN          ERR = 0
	ERR_INVALID_ARGUMENT ERR = 1
	ERR_NOT_FOUND        ERR = 3
	ERR_PROCESSING       ERR = 4
	ERR_CONFIGURATION    ERR = 5
	ERR_CONTEXT_CANCELED ERR = 7
	ERR_ERROR            ERR = 9

	ERR_BLOCK_NOT_FOUND ERR = 10
	ERR_BLOCK_INVALID   ERR = 11
	ERR_BLOCK_EXISTS    ERR = 12
	ERR_BLOCK_ORPHAN    ERR = 13

	ERR_SERVICE_UNAVAILABLE ERR = 50
	ERR_SERVICE_ERROR       ERR = 52

	ERR_STORAGE_UNAVAILABLE ERR = 60
	ERR_STORAGE_ERROR       ERR = 62

	ERR_NETWORK_ERROR           ERR = 110
	ERR_REQUEST_TIMEOUT         ERR = 111
	ERR_PEER_PROTOCOL_VIOLATION ERR = 112
	ERR_PEER_UNEXPECTED_MESSAGE ERR = 113
	ERR_PEER_PUNISHED           ERR = 114
)

var ERR_name = map[int32]string{
	0:   "UNKNOWN",
	1:   "INVALID_ARGUMENT",
	3:   "NOT_FOUND",
	4:   "PROCESSING",
	5:   "CONFIGURATION",
	7:   "CONTEXT_CANCELED",
	9:   "ERROR",
	10:  "BLOCK_NOT_FOUND",
	11:  "BLOCK_INVALID",
	12:  "BLOCK_EXISTS",
	13:  "BLOCK_ORPHAN",
	50:  "SERVICE_UNAVAILABLE",
	52:  "SERVICE_ERROR",
	60:  "STORAGE_UNAVAILABLE",
	62:  "STORAGE_ERROR",
	110: "NETWORK_ERROR",
	111: "REQUEST_TIMEOUT",
	112: "PEER_PROTOCOL_VIOLATION",
	113: "PEER_UNEXPECTED_MESSAGE",
	114: "PEER_PUNISHED",
}

func (x ERR) Enum() string {
	if name, ok := ERR_name[int32(x)]; ok {
		return name
	}

	return "UNKNOWN"
}

func (x ERR) String() string {
	return x.Enum()
}

var (
	ErrUnknown               = New(ERR_UNKNOWN, "unknown error")
	ErrInvalidArgument       = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrNotFound              = New(ERR_NOT_FOUND, "not found")
	ErrProcessing            = New(ERR_PROCESSING, "error processing")
	ErrConfiguration         = New(ERR_CONFIGURATION, "configuration error")
	ErrContextCanceled       = New(ERR_CONTEXT_CANCELED, "context canceled")
	ErrError                 = New(ERR_ERROR, "generic error")
	ErrBlockNotFound         = New(ERR_BLOCK_NOT_FOUND, "block not found")
	ErrBlockInvalid          = New(ERR_BLOCK_INVALID, "block invalid")
	ErrBlockExists           = New(ERR_BLOCK_EXISTS, "block exists")
	ErrBlockOrphan           = New(ERR_BLOCK_ORPHAN, "block orphan")
	ErrServiceUnavailable    = New(ERR_SERVICE_UNAVAILABLE, "service unavailable")
	ErrServiceError          = New(ERR_SERVICE_ERROR, "service error")
	ErrStorageUnavailable    = New(ERR_STORAGE_UNAVAILABLE, "storage unavailable")
	ErrStorageError          = New(ERR_STORAGE_ERROR, "storage error")
	ErrNetwork               = New(ERR_NETWORK_ERROR, "network error")
	ErrRequestTimeout        = New(ERR_REQUEST_TIMEOUT, "request timeout")
	ErrPeerProtocolViolation = New(ERR_PEER_PROTOCOL_VIOLATION, "peer protocol violation")
	ErrPeerUnexpectedMessage = New(ERR_PEER_UNEXPECTED_MESSAGE, "unexpected peer message")
	ErrPeerPunished          = New(ERR_PEER_PUNISHED, "peer punished")
)

// errors initialization functions

func NewUnknownError(message string, params ...interface{}) error {
	return New(ERR_UNKNOWN, message, params...)
}
func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}
func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}
func NewProcessingError(message string, params ...interface{}) error {
	return New(ERR_PROCESSING, message, params...)
}
func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}
func NewContextCanceledError(message string, params ...interface{}) error {
	return New(ERR_CONTEXT_CANCELED, message, params...)
}
func NewError(message string, params ...interface{}) error {
	return New(ERR_ERROR, message, params...)
}
func NewBlockNotFoundError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_NOT_FOUND, message, params...)
}
func NewBlockInvalidError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_INVALID, message, params...)
}
func NewBlockExistsError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_EXISTS, message, params...)
}
func NewBlockOrphanError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_ORPHAN, message, params...)
}
func NewServiceUnavailableError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_UNAVAILABLE, message, params...)
}
func NewServiceError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_ERROR, message, params...)
}
func NewStorageUnavailableError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_UNAVAILABLE, message, params...)
}
func NewStorageError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_ERROR, message, params...)
}
func NewNetworkError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_ERROR, message, params...)
}
func NewRequestTimeoutError(message string, params ...interface{}) error {
	return New(ERR_REQUEST_TIMEOUT, message, params...)
}
func NewPeerProtocolViolationError(message string, params ...interface{}) error {
	return New(ERR_PEER_PROTOCOL_VIOLATION, message, params...)
}
func NewPeerUnexpectedMessageError(message string, params ...interface{}) error {
	return New(ERR_PEER_UNEXPECTED_MESSAGE, message, params...)
}
func NewPeerPunishedError(message string, params ...interface{}) error {
	return New(ERR_PEER_PUNISHED, message, params...)
}
