package cmd

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cnab-reconciliation-service/internal/reporter"
	"cnab-reconciliation-service/pkg/errors"
)

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := filepath.Join(tmpDir, "valid.ret")
	if err := os.WriteFile(validFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name       string
		filePath   string
		expectCode errors.ErrorCode
	}{
		{"valid file", validFile, ""},
		{"non-existent file", filepath.Join(tmpDir, "missing.ret"), errors.CodeFileNotFound},
		{"directory instead of file", tmpDir, errors.CodeFileUnreadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath)
			if tt.expectCode == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.HasCode(err, tt.expectCode) {
				t.Errorf("expected %s, got %v", tt.expectCode, err)
			}
		})
	}
}

func TestValidateOutput(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name        string
		format      reporter.OutputFormat
		output      string
		expectError bool
	}{
		{"console to stdout", reporter.FormatConsole, "", false},
		{"xlsx to stdout", reporter.FormatXLSX, "", true},
		{"xlsx to file", reporter.FormatXLSX, filepath.Join(tmpDir, "report.xlsx"), false},
		{"relative file", reporter.FormatCSV, "report.csv", false},
		{"missing directory", reporter.FormatJSON, filepath.Join(tmpDir, "nope", "report.json"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOutput(tt.format, tt.output)
			if (err != nil) != tt.expectError {
				t.Errorf("validateOutput() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

// runCLI executes the root command with args, capturing standard output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// paidTitles counts generated titles with a paid amount among the first n
// titles of seed, skipping the first skip.
func paidTitles(seed int64, skip, n int) int {
	start, _ := time.Parse("02/01/2006", "01/01/2024")
	gen := &titleGenerator{rng: rand.New(rand.NewSource(seed)), start: start, days: 30}
	paid := 0
	for i, tx := range gen.generate(n) {
		if i >= skip && tx.AmountPaid.IsPositive() {
			paid++
		}
	}
	return paid
}

func TestCLI_ImportAndReconcile(t *testing.T) {
	tmpDir := t.TempDir()
	storeDir := filepath.Join(tmpDir, "store")
	apiFile := filepath.Join(tmpDir, "api.ret")
	geralFile := filepath.Join(tmpDir, "geral.ret")
	store := []string{"--log-level", "error", "--storage-driver", "jsonfile", "--storage-dsn", storeDir}

	// Both files share the seed, so the 20 api titles are the first 20 geral titles.
	if _, err := runCLI(t, "generate", "--count", "20", "--seed", "3", "--output", apiFile); err != nil {
		t.Fatalf("generate api: %v", err)
	}
	if _, err := runCLI(t, "generate", "--count", "25", "--seed", "3", "--output", geralFile); err != nil {
		t.Fatalf("generate geral: %v", err)
	}

	if _, err := runCLI(t, append([]string{"import", "--side", "api", apiFile}, store...)...); err != nil {
		t.Fatalf("import api: %v", err)
	}
	out, err := runCLI(t, append([]string{"import", "--side", "geral", geralFile}, store...)...)
	if err != nil {
		t.Fatalf("import geral: %v", err)
	}
	if !bytes.Contains([]byte(out), []byte("geral.ret: 25 transactions imported into geral")) {
		t.Errorf("unexpected import output: %s", out)
	}

	_, err = runCLI(t, append([]string{"import", "--side", "api", apiFile}, store...)...)
	var summary *errors.ErrorSummary
	if !stderrors.As(err, &summary) || !summary.HasCode(errors.CodeAlreadyImported) {
		t.Errorf("expected already imported error, got %v", err)
	}

	out, err = runCLI(t, append([]string{"reconcile", "--format", "json"}, store...)...)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var report struct {
		Summary struct {
			Matched       int `json:"matched"`
			Discrepancies int `json:"discrepancies"`
			MissingInA    int `json:"missing_in_a"`
			MissingInB    int `json:"missing_in_b"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, out)
	}

	if want := paidTitles(3, 0, 20); report.Summary.Matched != want {
		t.Errorf("matched = %d, want %d", report.Summary.Matched, want)
	}
	if want := paidTitles(3, 20, 25); report.Summary.MissingInA != want {
		t.Errorf("missing in api = %d, want %d", report.Summary.MissingInA, want)
	}
	if report.Summary.MissingInB != 0 || report.Summary.Discrepancies != 0 {
		t.Errorf("unexpected summary: %+v", report.Summary)
	}

	out, err = runCLI(t, append([]string{"sources", "--side", "geral"}, store...)...)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if !bytes.Contains([]byte(out), []byte("geral.ret")) {
		t.Errorf("expected geral.ret in sources output: %s", out)
	}

	if _, err := runCLI(t, append([]string{"clear", "--side", "geral"}, store...)...); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(filepath.Join(storeDir, "geral_transactions.json")); !os.IsNotExist(err) {
		t.Errorf("expected the geral table to be removed, stat error = %v", err)
	}
}
