package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeLLM represents LLM call errors
	ErrorTypeLLM ErrorType = "llm"
	// ErrorTypeParse represents JSON extraction errors
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypeFilter represents content policy violations
	ErrorTypeFilter ErrorType = "filter"
	// ErrorTypeStore represents persistence errors
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeValidation represents request validation errors
	ErrorTypeValidation ErrorType = "validation"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// ErrorType exposes the category; promoted to every wrapping error type
func (e *BaseError) ErrorType() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Config errors

// ErrUnsupportedModel is returned when a model name has no known provider mapping
type ErrUnsupportedModel struct {
	*BaseError
	Model string
}

func NewUnsupportedModel(model string) *ErrUnsupportedModel {
	return &ErrUnsupportedModel{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("unsupported model: %s", model), nil),
		Model:     model,
	}
}

// LLM errors

// ErrLLMCallFailed is returned when a chat completion fails after all retries
type ErrLLMCallFailed struct {
	*BaseError
	CallContext string
	Attempts    int
}

func NewLLMCallFailed(callContext string, attempts int, err error) *ErrLLMCallFailed {
	return &ErrLLMCallFailed{
		BaseError:   NewBaseError(ErrorTypeLLM, fmt.Sprintf("%s failed after %d attempts", callContext, attempts), err),
		CallContext: callContext,
		Attempts:    attempts,
	}
}

// Parse errors

// ErrParseFailed is returned when JSON extraction fails even after the repair
// pass. The diagnostic fields are part of the error contract: they carry the
// original text, the cleaned text, the extracted pairs and the reassembly
// attempt so a failure can be debugged from the error alone.
type ErrParseFailed struct {
	*BaseError
	ParseContext string
	RawText      string
	CleanedText  string
	Pairs        [][2]string
	Reassembled  string
}

func (e *ErrParseFailed) Error() string {
	return fmt.Sprintf(
		"[%s] %s: still unparseable after repair:\noriginal text: %s\ncleaned text: %s\nextracted pairs: %v\nreassembled text: %s\ncause: %v",
		e.Type, e.ParseContext, e.RawText, e.CleanedText, e.Pairs, e.Reassembled, e.Err,
	)
}

func NewParseFailed(parseContext, rawText, cleanedText string, pairs [][2]string, reassembled string, err error) *ErrParseFailed {
	return &ErrParseFailed{
		BaseError:    NewBaseError(ErrorTypeParse, parseContext, err),
		ParseContext: parseContext,
		RawText:      rawText,
		CleanedText:  cleanedText,
		Pairs:        pairs,
		Reassembled:  reassembled,
	}
}

// Filter errors

// FilteredMessage is the fixed user-facing refusal shown for filtered content
const FilteredMessage = "Sorry, that is not a topic I can help with. Ask me something else!"

// ErrContentFiltered is returned when a topic or generated output matches the denylist
type ErrContentFiltered struct {
	*BaseError
}

func (e *ErrContentFiltered) Error() string {
	return FilteredMessage
}

func NewContentFiltered() *ErrContentFiltered {
	return &ErrContentFiltered{
		BaseError: NewBaseError(ErrorTypeFilter, FilteredMessage, nil),
	}
}

// Store errors

// ErrGraphNotFound is returned when a graph id does not exist
type ErrGraphNotFound struct {
	*BaseError
	GraphID int64
}

func NewGraphNotFound(graphID int64) *ErrGraphNotFound {
	return &ErrGraphNotFound{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("graph not found: %d", graphID), nil),
		GraphID:   graphID,
	}
}

// Validation errors

// ErrInvalidConceptCount is returned when a requested count is outside 5..20
type ErrInvalidConceptCount struct {
	*BaseError
	Count int
}

func NewInvalidConceptCount(count int) *ErrInvalidConceptCount {
	return &ErrInvalidConceptCount{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("concept count must be between 5 and 20, got %d", count), nil),
		Count:     count,
	}
}

// ErrInvalidRelation is returned when a generated relation has the wrong shape
type ErrInvalidRelation struct {
	*BaseError
	Index int
	Value any
}

func NewInvalidRelation(index int, value any) *ErrInvalidRelation {
	return &ErrInvalidRelation{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("relation %d has invalid shape: %v", index, value), nil),
		Index:     index,
		Value:     value,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if typed, ok := err.(interface{ ErrorType() ErrorType }); ok {
			return typed.ErrorType() == errType
		}
		wrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = wrapper.Unwrap()
	}
	return false
}

// IsFiltered reports whether an error is a content policy violation
func IsFiltered(err error) bool {
	for err != nil {
		if _, ok := err.(*ErrContentFiltered); ok {
			return true
		}
		wrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = wrapper.Unwrap()
	}
	return false
}

// IsNotFound reports whether an error is a missing-graph condition
func IsNotFound(err error) bool {
	for err != nil {
		if _, ok := err.(*ErrGraphNotFound); ok {
			return true
		}
		wrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = wrapper.Unwrap()
	}
	return false
}
