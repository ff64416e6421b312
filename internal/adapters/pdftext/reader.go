package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/observability"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	lpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var pdfMagic = []byte("%PDF-")

// Reader extracts page text from PDF documents. pdfcpu inspects the document
// structure and encryption dictionary; ledongthuc/pdf interprets the page
// content streams.
type Reader struct {
	conf *model.Configuration
}

var _ providers.DocumentTextReader = (*Reader)(nil)

// NewReader creates a PDF text reader with relaxed structural validation
func NewReader() *Reader {
	// keep pdfcpu from writing a config directory under $HOME
	model.ConfigPath = "disable"
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Reader{conf: conf}
}

// ReadPages returns the text of every page in order. Pages whose content
// cannot be interpreted yield an empty string rather than failing the document.
func (r *Reader) ReadPages(ctx context.Context, data []byte) ([]string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic) {
		return nil, apperrors.NewCorruptDocumentError("file is not a PDF document", nil)
	}

	if err := r.checkEncryption(data); err != nil {
		return nil, err
	}

	doc, total, err := openDocument(data)
	if err != nil {
		return nil, err
	}

	logger := observability.LoggerFromContext(ctx)
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(doc, i)
		if err != nil {
			logger.Warn().Err(err).Int("page", i).Int("pages", total).Msg("Failed to extract text from page")
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func (r *Reader) checkEncryption(data []byte) error {
	pdfCtx, err := api.ReadContext(bytes.NewReader(data), r.conf)
	if err != nil {
		if errors.Is(err, pdfcpu.ErrWrongPassword) {
			return apperrors.NewEncryptedDocumentError("PDF is encrypted and cannot be processed", err)
		}
		// structural problems are judged by the content reader below
		return nil
	}
	if pdfCtx.Encrypt != nil {
		return apperrors.NewEncryptedDocumentError("PDF is encrypted and cannot be processed", nil)
	}
	return nil
}

func openDocument(data []byte) (doc *lpdf.Reader, pages int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			doc, pages = nil, 0
			err = apperrors.NewCorruptDocumentError(fmt.Sprintf("failed to parse PDF: %v", rec), nil)
		}
	}()

	doc, err = lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if errors.Is(err, lpdf.ErrInvalidPassword) {
		return nil, 0, apperrors.NewEncryptedDocumentError("PDF is encrypted and cannot be processed", err)
	}
	if err != nil {
		return nil, 0, apperrors.NewCorruptDocumentError("failed to parse PDF", err)
	}
	return doc, doc.NumPage(), nil
}

func pageText(doc *lpdf.Reader, n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("page %d: %v", n, rec)
		}
	}()

	page := doc.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}
