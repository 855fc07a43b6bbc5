package cmd

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/internal/parsers"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

const (
	maxGeneratedTitles = 49999
	maxRefPrefix       = 8
	lineTerminator     = "\r\n"
)

var (
	generateCount  int
	generateOutput string
	generateSeed   int64
	generateStart  string
	generateDays   int
	generatePrefix string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a synthetic CNAB240 return file",
	Long: `Generate writes a return file with the given number of settled titles, each
as a T/U segment pair between a file header and a file trailer. The same
seed always produces the same file, so two runs with one seed give a fully
matching api/geral pair.

About one title in ten is an entry confirmation without a paid amount.

Examples:
  reconciler generate --count 100 --output api.ret
  reconciler generate --count 100 --seed 7 --start 01/05/2024 --days 31 --output geral.ret`,
	Args:    cobra.NoArgs,
	PreRunE: validateGenerateFlags,
	RunE:    runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().IntVarP(&generateCount, "count", "n", 100, "number of titles")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "output file path (required)")
	generateCmd.Flags().Int64Var(&generateSeed, "seed", 1, "random seed")
	generateCmd.Flags().StringVar(&generateStart, "start", "01/01/2024", "first occurrence date (DD/MM/YYYY)")
	generateCmd.Flags().IntVar(&generateDays, "days", 30, "number of days occurrence dates spread over")
	generateCmd.Flags().StringVar(&generatePrefix, "ref-prefix", "", "reference number prefix (up to 8 characters)")

	generateCmd.MarkFlagRequired("output")
}

func validateGenerateFlags(cmd *cobra.Command, args []string) error {
	if generateCount < 1 || generateCount > maxGeneratedTitles {
		return errors.ValidationError(errors.CodeInvalidValue, "count", generateCount,
			fmt.Errorf("count must be between 1 and %d", maxGeneratedTitles))
	}
	if generateDays < 1 {
		return errors.ValidationError(errors.CodeInvalidValue, "days", generateDays,
			fmt.Errorf("days must be positive"))
	}
	if len(generatePrefix) > maxRefPrefix {
		return errors.ValidationError(errors.CodeInvalidValue, "ref-prefix", generatePrefix,
			fmt.Errorf("prefix longer than %d characters", maxRefPrefix))
	}
	if _, err := models.ParseBoundDate(generateStart); err != nil {
		return errors.ValidationError(errors.CodeInvalidDate, "start", generateStart, err)
	}
	return validateOutput("", generateOutput)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	start, _ := models.ParseBoundDate(generateStart)
	gen := &titleGenerator{
		rng:    rand.New(rand.NewSource(generateSeed)),
		start:  start,
		days:   generateDays,
		prefix: generatePrefix,
	}
	txs := gen.generate(generateCount)

	file, err := os.Create(generateOutput)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, generateOutput, err)
	}
	if err := writeReturnFile(file, txs); err != nil {
		file.Close()
		return errors.InternalError(errors.CodeUnexpectedError, "generate", err)
	}
	if err := file.Close(); err != nil {
		return errors.FileError(errors.CodeFileUnreadable, generateOutput, err)
	}

	logger.WithComponent("cli").WithFields(logger.Fields{
		"file_path": generateOutput,
		"titles":    len(txs),
		"seed":      generateSeed,
	}).Info("Return file generated")
	fmt.Fprintf(cmd.OutOrStdout(), "%d titles written to %s\n", len(txs), generateOutput)
	return nil
}

var payerNames = []string{
	"MARIA DA SILVA", "JOAO PEREIRA", "ANA SOUZA", "CARLOS OLIVEIRA",
	"COMERCIAL BOA VISTA LTDA", "PADARIA SAO JORGE", "JOSE SANTOS", "FERNANDA LIMA",
}

// titleGenerator builds deterministic synthetic titles.
type titleGenerator struct {
	rng    *rand.Rand
	start  time.Time
	days   int
	prefix string
}

func (g *titleGenerator) generate(n int) []*models.Transaction {
	txs := make([]*models.Transaction, n)
	for i := range txs {
		txs[i] = g.title(i + 1)
	}
	return txs
}

func (g *titleGenerator) title(n int) *models.Transaction {
	occurrence := g.start.AddDate(0, 0, g.rng.Intn(g.days))
	credit := occurrence.AddDate(0, 0, 1+g.rng.Intn(2))
	due := occurrence.AddDate(0, 0, -g.rng.Intn(10))

	face := decimal.New(int64(1000+g.rng.Intn(500000)), -2)
	fee := decimal.New(int64(150+g.rng.Intn(200)), -2)

	tx := &models.Transaction{
		BankCode:         "341",
		BatchCode:        "0001",
		RecordType:       "3",
		MovementCode:     "06",
		Branch:           "01234",
		Account:          "000000056789",
		ReferenceNumber:  fmt.Sprintf("%s%012d", g.prefix, n),
		WalletCode:       "1",
		DocumentNumber:   fmt.Sprintf("DOC%08d", n),
		DueDate:          due.Format(models.RecordDateLayout),
		FaceValue:        face,
		CollectingBank:   "341",
		CollectingBranch: "01234",
		CompanyTitleID:   fmt.Sprintf("TIT%010d", n),
		PayerTaxIDType:   "1",
		PayerTaxID:       fmt.Sprintf("%015d", 10000000000+g.rng.Int63n(89999999999)),
		PayerName:        payerNames[g.rng.Intn(len(payerNames))],
		ContractNumber:   "0000000000",
		FeeValue:         fee,
		OccurrenceReason: "",
		AmountPaid:       face,
		NetAmount:        face.Sub(fee),
		OccurrenceDate:   occurrence.Format(models.RecordDateLayout),
		CreditDate:       credit.Format(models.RecordDateLayout),
	}

	if g.rng.Intn(10) == 0 {
		tx.MovementCode = "02"
		tx.AmountPaid = decimal.Zero
		tx.NetAmount = decimal.Zero
		tx.FeeValue = decimal.Zero
		tx.CreditDate = strings.Repeat("0", len(models.RecordDateLayout))
	}
	return tx
}

// writeReturnFile writes a file header, one T/U pair per transaction and a
// file trailer, CRLF terminated.
func writeReturnFile(w io.Writer, txs []*models.Transaction) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "%-*s%s", parsers.LineLength, "34100000", lineTerminator)
	for i, tx := range txs {
		header, continuation, err := parsers.EncodeTransaction(tx, 2*i+1)
		if err != nil {
			return fmt.Errorf("title %d: %w", i+1, err)
		}
		fmt.Fprintf(bw, "%s%s%s%s", header, lineTerminator, continuation, lineTerminator)
	}
	fmt.Fprintf(bw, "%-*s%s", parsers.LineLength, fmt.Sprintf("34199999%9s%06d", "", 2*len(txs)+2), lineTerminator)

	return bw.Flush()
}
