package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// Format errors (caller-visible, nothing persisted)
var (
	ErrorUnsupportedFormat = errors.New("unsupported import format")
	ErrorEmptyImport       = errors.New("import file contains no data rows")
)

// Schema errors
var (
	ErrorProgramNotFound       = errors.New("benefit program not found")
	ErrorSchemaMissing         = errors.New("benefit program has no attribute schema")
	ErrorSchemaInvalid         = errors.New("benefit program attribute schema is not valid")
	ErrorMissingValidationRule = errors.New("schema references an unregistered validation calculation")
	ErrorInvalidHeaders        = errors.New("import file headers do not match program schema")
)

// Gate errors
var (
	ErrorUnassignedTask = errors.New("task is not assigned to a task group")
	ErrorUnknownPolicy  = errors.New("unknown task completion policy")
)

// Filter errors
var (
	ErrorUnsupportedFieldType    = errors.New("unsupported filter field type")
	ErrorUnsupportedValue        = errors.New("value cannot be cast to the declared field type")
	ErrorFilterDateUnsupported   = errors.New("date filter casting is not implemented")
	ErrorInvalidFilterExpression = errors.New("malformed filter expression")
)

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
