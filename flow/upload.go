package flow

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"gorm.io/gorm"

	"github.com/exef-io/exef/adapters"
	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
)

// UploadResult is the response body of a CSV upload.
type UploadResult struct {
	OK       bool     `json:"ok"`
	Imported int      `json:"imported"`
	Errors   []string `json:"errors,omitempty"`
	Filename string   `json:"filename"`
}

// decodeUpload normalises an uploaded file to UTF-8. Valid UTF-8 passes
// through (the CSV parser strips a leading BOM); anything else is read as
// Windows-1250, the encoding Polish spreadsheet exports still use.
func decodeUpload(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	decoded, err := charmap.Windows1250.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}

// UploadCSV parses an uploaded file and creates documents in the task. Unlike
// an import run it opens no DataSource and records no ImportRun; the file is
// the complete audit trail.
func (e *Engine) UploadCSV(taskID, filename string, data []byte, triggeredBy string) (*UploadResult, error) {
	db, err := e.router.ForResource(taskID)
	if err != nil {
		return nil, err
	}
	var task model.Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, ErrTaskNotFound
	}

	records, parseErrs := adapters.ParseDocumentCSV(decodeUpload(data), "upload")
	if len(records) == 0 && len(parseErrs) > 0 {
		return nil, fmt.Errorf("%s", parseErrs[0])
	}
	for i := range records {
		records[i].OriginalFilename = filename
	}

	var docs []model.Document
	err = db.Transaction(func(tx *gorm.DB) error {
		docs, err = createDocuments(tx, &task, records)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.routeDocuments(taskID, docs)

	common.Logger.WithField("task", task.Name).
		WithField("filename", filename).
		WithField("imported", len(docs)).
		Info("csv upload processed")
	return &UploadResult{
		OK:       true,
		Imported: len(docs),
		Errors:   parseErrs,
		Filename: filename,
	}, nil
}
