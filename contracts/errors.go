package contracts

import (
	"errors"
	"fmt"
)

var (
	ErrNilMessage           = errors.New("contracts: message cannot be nil")
	ErrNilHandler           = errors.New("contracts: handler cannot be nil")
	ErrHandlerNotComparable = errors.New("contracts: handler is not comparable; wrap funcs with messaging.Func")
)

// ErrorReply is a generic failed response for requests whose own reply type
// has no room for an error
type ErrorReply struct {
	BaseReply
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// NewErrorReply creates a failed reply to the request carrying correlationID
func NewErrorReply(messageType string, correlationID Token, errorCode string, errorMessage string) *ErrorReply {
	return &ErrorReply{
		BaseReply: BaseReply{
			BaseMessage: NewCorrelatedMessage(messageType, correlationID),
			Success:     false,
		},
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	}
}

// IsSuccess returns false for error replies
func (e ErrorReply) IsSuccess() bool {
	return false
}

// GetError returns the code and message as an error
func (e ErrorReply) GetError() error {
	return fmt.Errorf("%s: %s", e.ErrorCode, e.ErrorMessage)
}
