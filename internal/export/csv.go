// Package export renders visitor lists as downloadable CSV files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/sementesanta/checkin/backend/internal/errors"
	"github.com/sementesanta/checkin/backend/internal/models"
)

var csvHeader = []string{"Nome", "Telefone", "Data", "Primeira Vez"}

// WriteCSV streams visitors as CSV, one row per visitor, header first.
func WriteCSV(w io.Writer, visitors []models.Visitor) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return errors.Wrap(errors.ErrExportFailed, "failed to write CSV header", err)
	}

	for _, v := range visitors {
		firstTime := "Não"
		if v.IsFirstTime {
			firstTime = "Sim"
		}
		row := []string{v.Name, v.Phone, v.Date, firstTime}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(errors.ErrExportFailed,
				fmt.Sprintf("failed to write CSV row for visitor %d", v.ID), err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(errors.ErrExportFailed, "failed to flush CSV output", err)
	}
	return nil
}

// FileName builds the download name for an export, embedding the date
// filter when one is set. Slashes in the display date are replaced so
// the name is filesystem-safe.
func FileName(dateFilter string) string {
	if d := models.NormalizeDate(dateFilter); d != "" {
		return "visitantes-" + strings.ReplaceAll(d, "/", "-") + ".csv"
	}
	return "visitantes.csv"
}
