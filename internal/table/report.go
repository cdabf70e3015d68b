package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/lox/permitcast/internal/models"
)

var EvaluationHeader = []string{"source", "n", "MAE", "MAPE", "SMAPE"}

func WriteEvaluationCSV(w io.Writer, rows []models.EvaluationRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EvaluationHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(evaluationRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEvaluationText renders an aligned table for terminals.
func WriteEvaluationText(w io.Writer, rows []models.EvaluationRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "source\tn\tMAE\tMAPE %\tSMAPE %\t")
	for _, r := range rows {
		v := evaluationRow(r)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", v[0], v[1], v[2], v[3], v[4])
	}
	return tw.Flush()
}

func evaluationRow(r models.EvaluationRow) []string {
	return []string{
		r.Source,
		strconv.Itoa(r.N),
		strconv.FormatFloat(r.MAE, 'f', 2, 64),
		strconv.FormatFloat(r.MAPE, 'f', 2, 64),
		strconv.FormatFloat(r.SMAPE, 'f', 2, 64),
	}
}
