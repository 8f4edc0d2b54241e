// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// ErrorCondition is a symbolic AMQP error condition.
type ErrorCondition string

const (
	ErrorInternalError         ErrorCondition = "amqp:internal-error"
	ErrorNotFound              ErrorCondition = "amqp:not-found"
	ErrorUnauthorizedAccess    ErrorCondition = "amqp:unauthorized-access"
	ErrorDecodeError           ErrorCondition = "amqp:decode-error"
	ErrorResourceLimitExceeded ErrorCondition = "amqp:resource-limit-exceeded"
	ErrorNotAllowed            ErrorCondition = "amqp:not-allowed"
	ErrorInvalidField          ErrorCondition = "amqp:invalid-field"
	ErrorNotImplemented        ErrorCondition = "amqp:not-implemented"
	ErrorIllegalState          ErrorCondition = "amqp:illegal-state"

	ErrorConnectionForced ErrorCondition = "amqp:connection:forced"
	ErrorFramingError     ErrorCondition = "amqp:connection:framing-error"

	ErrorWindowViolation  ErrorCondition = "amqp:session:window-violation"
	ErrorErrantLink       ErrorCondition = "amqp:session:errant-link"
	ErrorHandleInUse      ErrorCondition = "amqp:session:handle-in-use"
	ErrorUnattachedHandle ErrorCondition = "amqp:session:unattached-handle"

	ErrorDetachForced          ErrorCondition = "amqp:link:detach-forced"
	ErrorTransferLimitExceeded ErrorCondition = "amqp:link:transfer-limit-exceeded"
	ErrorMessageSizeExceeded   ErrorCondition = "amqp:link:message-size-exceeded"
	ErrorStolen                ErrorCondition = "amqp:link:stolen"
)

// Error is an AMQP error, carried by Detach, End, Close and the Rejected outcome.
// It also implements Go's error interface.
type Error struct {
	Condition   ErrorCondition
	Description string
}

// NewError creates an Error with a formatted description.
func NewError(condition ErrorCondition, format string, a ...interface{}) *Error {
	return &Error{
		Condition:   condition,
		Description: fmt.Sprintf(format, a...),
	}
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Condition)
	}
	return fmt.Sprintf("%s: %s", e.Condition, e.Description)
}

// MarshalCbor writes this Error's CBOR representation.
func (e *Error) MarshalCbor(w io.Writer) error {
	if err := writeFields(w, 2); err != nil {
		return err
	}
	if err := cboring.WriteTextString(string(e.Condition), w); err != nil {
		return err
	}
	return cboring.WriteTextString(e.Description, w)
}

// UnmarshalCbor reads an Error from its CBOR representation.
func (e *Error) UnmarshalCbor(r io.Reader) error {
	if err := readFields(r, "error", 2); err != nil {
		return err
	}

	if cond, err := cboring.ReadTextString(r); err != nil {
		return err
	} else if cond == "" {
		return fmt.Errorf("error condition is mandatory")
	} else {
		e.Condition = ErrorCondition(cond)
	}

	desc, err := cboring.ReadTextString(r)
	e.Description = desc
	return err
}
