package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"

	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

func newTestHandler(verbose bool) (*CLIErrorHandler, *bytes.Buffer) {
	var buf bytes.Buffer
	return &CLIErrorHandler{logger: logger.Discard(), out: &buf, verbose: verbose}, &buf
}

func TestCLIErrorHandler_HandleError(t *testing.T) {
	parseErr := errors.ParseError(errors.CodeMalformedRecord, "api.ret", 12, "amount_paid", "00000000001X000", fmt.Errorf("invalid digits"))

	tests := []struct {
		name         string
		err          error
		expectCode   int
		expectOutput []string
	}{
		{"nil", nil, 0, nil},
		{
			"already imported",
			errors.FileError(errors.CodeAlreadyImported, "api.ret", nil),
			2,
			[]string{"Error: file already imported: api.ret", "Suggestion: use --force", "File error help:"},
		},
		{
			"malformed record",
			parseErr,
			3,
			[]string{"Context:", "line: 12", "Parse error help:"},
		},
		{
			"filter failure",
			errors.ReconciliationError(errors.CodeFilterFailure, "date_filter", fmt.Errorf("single bound")),
			5,
			[]string{"Reconciliation error help:"},
		},
		{
			"storage failure",
			errors.StorageError(errors.CodeStorageFailure, "api_transactions", "save", fmt.Errorf("disk I/O error")),
			6,
			[]string{"Storage error help:"},
		},
		{
			"wrapped reconciler error",
			fmt.Errorf("import: %w", errors.ConfigurationError(errors.CodeInvalidConfig, "storage.driver", "mongodb", nil)),
			4,
			[]string{"Configuration error help:"},
		},
		{"missing file", os.ErrNotExist, 2, []string{"Error: File not found"}},
		{"generic", fmt.Errorf("boom"), 1, []string{"Error: boom"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, out := newTestHandler(false)
			if code := h.HandleError(tt.err); code != tt.expectCode {
				t.Errorf("exit code = %d, want %d", code, tt.expectCode)
			}
			for _, want := range tt.expectOutput {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestCLIErrorHandler_ErrorSummary(t *testing.T) {
	summary := errors.NewErrorSummary([]*errors.ReconcilerError{
		errors.FileError(errors.CodeAlreadyImported, "a.ret", nil),
		errors.ParseError(errors.CodeOrphanSegment, "b.ret", 3, "", "", nil),
	})

	h, out := newTestHandler(false)
	if code := h.HandleError(summary); code != 3 {
		t.Errorf("exit code = %d, want the highest code 3", code)
	}
	for _, want := range []string{"2 errors occurred", "1. file already imported: a.ret", "2. ", "File error help:", "Parse error help:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	single := errors.NewErrorSummary([]*errors.ReconcilerError{errors.FileError(errors.CodeFileNotFound, "c.ret", nil)})
	h, out = newTestHandler(false)
	if code := h.HandleError(single); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(out.String(), "Error: file not found: c.ret") {
		t.Errorf("single error summary should print the error itself:\n%s", out.String())
	}
}

func TestCLIErrorHandler_VerboseCause(t *testing.T) {
	err := errors.StorageError(errors.CodeStorageFailure, "geral_transactions", "load", fmt.Errorf("connection refused"))

	h, out := newTestHandler(true)
	h.HandleError(err)
	if !strings.Contains(out.String(), "Underlying error: connection refused") {
		t.Errorf("verbose output should include the cause:\n%s", out.String())
	}

	h, out = newTestHandler(false)
	h.HandleError(err)
	if strings.Contains(out.String(), "Underlying error") {
		t.Errorf("cause should only be printed in verbose mode:\n%s", out.String())
	}
}
