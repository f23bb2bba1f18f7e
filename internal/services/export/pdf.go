package export

import (
	"bytes"
	"log"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
)

// PDFExporter - выгрузка переписки в PDF
type PDFExporter struct {
	fontDir string
}

// NewPDFExporter создаёт генератор. Если fontDir содержит Arial.ttf и Arial Bold.ttf,
// используются они (UTF-8), иначе встроенный Helvetica с перекодировкой в cp1252.
func NewPDFExporter(fontDir string) *PDFExporter {
	return &PDFExporter{fontDir: fontDir}
}

func (e *PDFExporter) Format() string      { return FormatPDF }
func (e *PDFExporter) Extension() string   { return "pdf" }
func (e *PDFExporter) ContentType() string { return "application/pdf" }

// Export рисует заголовок и по абзацу на блок
func (e *PDFExporter) Export(title string, blocks []Block) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)

	family, tr := e.setupFonts(pdf)
	pdf.AddPage()

	// Заголовок
	pdf.SetFont(family, "B", 18)
	pdf.MultiCell(180, 9, tr(title), "", "L", false)

	// Тонкая линия-разделитель
	y := pdf.GetY() + 1
	pdf.SetLineWidth(0.3)
	pdf.Line(15, y, 195, y)
	pdf.Ln(5)
	pdf.SetLineWidth(0.2)

	for _, b := range blocks {
		pdf.SetFont(family, "B", 11)
		pdf.CellFormat(180, 6, tr(b.Speaker+":"), "", 1, "L", false, 0, "")
		pdf.SetFont(family, "", 10)
		pdf.MultiCell(180, 5, tr(b.Text), "", "L", false)
		pdf.Ln(4)
	}

	if err := pdf.Error(); err != nil {
		return nil, &ExportError{Format: FormatPDF, Err: err}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, &ExportError{Format: FormatPDF, Err: err}
	}
	return buf.Bytes(), nil
}

// setupFonts подключает TTF из fontDir или возвращает Helvetica с перекодировщиком
func (e *PDFExporter) setupFonts(pdf *fpdf.Fpdf) (string, func(string) string) {
	if e.fontDir != "" {
		regular := filepath.Join(e.fontDir, "Arial.ttf")
		bold := filepath.Join(e.fontDir, "Arial Bold.ttf")
		if fileExists(regular) && fileExists(bold) {
			pdf.AddUTF8Font("Arial", "", regular)
			pdf.AddUTF8Font("Arial", "B", bold)
			return "Arial", func(s string) string { return s }
		}
		log.Printf("[Export] Шрифты не найдены в %s, используем Helvetica", e.fontDir)
	}
	return "Helvetica", pdf.UnicodeTranslatorFromDescriptor("")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
