package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by the layer that raised them.
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryStorage        ErrorCategory = "storage"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category.
type ErrorCode string

const (
	// File errors
	CodeFileNotFound    ErrorCode = "file_not_found"
	CodeFilePermission  ErrorCode = "file_permission"
	CodeFileUnreadable  ErrorCode = "file_unreadable"
	CodeAlreadyImported ErrorCode = "file_already_imported"

	// Decode errors
	CodeMalformedRecord  ErrorCode = "malformed_record"
	CodeOrphanSegment    ErrorCode = "orphan_segment"
	CodeSequenceMismatch ErrorCode = "sequence_mismatch"

	// Validation errors
	CodeInvalidDate  ErrorCode = "invalid_date"
	CodeMissingField ErrorCode = "missing_field"
	CodeInvalidValue ErrorCode = "invalid_value"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Reconciliation errors
	CodeFilterFailure ErrorCode = "filter_failure"
	CodeConcurrentRun ErrorCode = "concurrent_run"

	// Storage errors
	CodeInvalidTable   ErrorCode = "invalid_table"
	CodeStorageFailure ErrorCode = "storage_failure"

	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the error type returned by every layer of the module.
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries structured details about an error.
type Context map[string]interface{}

func (e *ReconcilerError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// Is matches another ReconcilerError with the same category and code.
func (e *ReconcilerError) Is(target error) bool {
	t, ok := target.(*ReconcilerError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// GetExitCode maps the category to a process exit code.
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryStorage:
		return 6
	default:
		return 1
	}
}

func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a ReconcilerError with a stack trace captured at the call site.
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap attaches category and code to err. Wrap(nil, ...) returns nil.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// FileError reports a problem opening or reading an input file.
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeAlreadyImported:
		message = fmt.Sprintf("file already imported: %s", path)
		suggestion = "use --force to replace the previously imported records"
	default:
		message = fmt.Sprintf("cannot read file: %s", path)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError reports a structural problem in a return file. line is 1-based.
func ParseError(code ErrorCode, file string, line int, field string, value string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMalformedRecord:
		message = fmt.Sprintf("malformed record in %s at line %d, field '%s': '%s'", file, line, field, value)
		suggestion = "currency slots must hold digits only; check the file was not truncated or re-encoded"
	case CodeOrphanSegment:
		message = fmt.Sprintf("orphan segment in %s at line %d", file, line)
		suggestion = "every T segment must be followed by its U segment"
	case CodeSequenceMismatch:
		message = fmt.Sprintf("segment sequence mismatch in %s at line %d: '%s'", file, line, value)
		suggestion = "the U segment sequence number must follow its T segment; set parser.sequence_policy=ignore to merge anyway"
	default:
		message = fmt.Sprintf("parse error in %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	return build(CategoryParse, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("field", field).
		WithContext("value", value)
}

// ValidationError reports an invalid field value.
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use DD/MM/YYYY for range bounds; record dates are DDMMYYYY"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	default:
		message = fmt.Sprintf("invalid value in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError reports an invalid or missing setting.
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting as a flag, in the config file or as a RECONCILER_ environment variable"
	default:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the command help for valid values"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ReconciliationError reports a failure inside a comparison pass.
func ReconciliationError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFilterFailure:
		message = fmt.Sprintf("date filter failed during %s", operation)
		suggestion = "fix the date range or disable strict filters to skip the filter instead"
	case CodeConcurrentRun:
		message = fmt.Sprintf("a reconciliation pass is already running: %s", operation)
		suggestion = "wait for the running pass to finish"
	default:
		message = fmt.Sprintf("reconciliation error during %s", operation)
		suggestion = "review the data and configuration"
	}

	return build(CategoryReconciliation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// StorageError reports a failure of a storage adapter on a table.
func StorageError(code ErrorCode, table string, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidTable:
		message = fmt.Sprintf("invalid table name '%s'", table)
		suggestion = "table names may only contain lowercase letters, digits and underscores"
	default:
		message = fmt.Sprintf("storage %s failed on table '%s'", operation, table)
		suggestion = "check the storage driver settings and that the backend is reachable"
	}

	return build(CategoryStorage, code, message, err).
		WithSuggestion(suggestion).
		WithContext("table", table).
		WithContext("operation", operation)
}

// InternalError reports a bug or an unexpected state.
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	return build(CategoryInternal, code, fmt.Sprintf("unexpected error during %s", operation), err).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary aggregates the errors of a multi-file operation.
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ReconcilerError    `json:"errors"`
}

// NewErrorSummary counts errs by category and code.
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

func (es *ErrorSummary) Error() string {
	switch es.Total {
	case 0:
		return "no errors"
	case 1:
		return es.Errors[0].Error()
	}

	categories := make([]string, 0, len(es.ByCategory))
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)
	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest exit code among the errors.
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}
	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}
	return maxCode
}

// AsReconcilerError extracts a ReconcilerError from an error chain.
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Code == code
}

// WrapIfNeeded leaves ReconcilerErrors untouched and wraps anything else.
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return Wrap(err, category, code, message)
}
