package services

import "fmt"

// ErrorKind - вид бизнес-ошибки, по нему контроллеры выбирают HTTP статус
type ErrorKind string

const (
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindAccessDenied        ErrorKind = "ACCESS_DENIED"
	KindInvalidAmount       ErrorKind = "INVALID_AMOUNT"
	KindSameCard            ErrorKind = "SAME_CARD"
	KindCardNotAvailable    ErrorKind = "CARD_NOT_AVAILABLE"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindDuplicateCard       ErrorKind = "DUPLICATE_CARD"
	KindInvalidCardNumber   ErrorKind = "INVALID_CARD_NUMBER"
	KindInvalidStatus       ErrorKind = "INVALID_STATUS"
	KindTransferFailed      ErrorKind = "TRANSFER_FAILED"
	KindDuplicateUser       ErrorKind = "DUPLICATE_USER"
	KindInvalidCredentials  ErrorKind = "INVALID_CREDENTIALS"
	KindAccountDisabled     ErrorKind = "ACCOUNT_DISABLED"
	KindValidation          ErrorKind = "VALIDATION"
)

// Side уточняет, какая карта перевода не прошла проверку
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// Error - типизированная ошибка сервисов
type Error struct {
	Kind    ErrorKind
	Message string
	Side    Side
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по виду, чтобы работал errors.Is(err, ErrNotFound)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "Not found"}
	ErrAccessDenied        = &Error{Kind: KindAccessDenied, Message: "Access denied"}
	ErrInvalidAmount       = &Error{Kind: KindInvalidAmount, Message: "Transfer amount must be greater than 0"}
	ErrSameCard            = &Error{Kind: KindSameCard, Message: "Cannot transfer money to the same card"}
	ErrCardNotAvailable    = &Error{Kind: KindCardNotAvailable, Message: "Card is not available"}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance, Message: "Insufficient balance"}
	ErrDuplicateCard       = &Error{Kind: KindDuplicateCard, Message: "Card with this number already exists"}
	ErrInvalidCardNumber   = &Error{Kind: KindInvalidCardNumber, Message: "Card number must be 16 digits and pass the Luhn check"}
	ErrInvalidStatus       = &Error{Kind: KindInvalidStatus, Message: "Unknown card status"}
	ErrTransferFailed      = &Error{Kind: KindTransferFailed, Message: "Transfer failed"}
	ErrDuplicateUser       = &Error{Kind: KindDuplicateUser, Message: "Username or email already exists"}
	ErrInvalidCredentials  = &Error{Kind: KindInvalidCredentials, Message: "Invalid username or password"}
	ErrAccountDisabled     = &Error{Kind: KindAccountDisabled, Message: "Account is disabled"}
)

// ValidationError - некорректные входные данные
func ValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func notFound(what string) *Error {
	return newError(KindNotFound, what+" not found")
}

func cardNotAvailable(side Side) *Error {
	msg := "Source card is not available for transfers"
	if side == SideDestination {
		msg = "Destination card is not active"
	}
	return &Error{Kind: KindCardNotAvailable, Message: msg, Side: side}
}

func transferFailed(cause error) *Error {
	return &Error{Kind: KindTransferFailed, Message: "Transfer failed", Err: cause}
}
