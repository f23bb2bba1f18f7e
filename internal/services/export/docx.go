package export

import (
	"bytes"
	"strings"

	"github.com/fumiama/go-docx"
)

// DocxExporter - выгрузка в Word (.docx)
type DocxExporter struct{}

func NewDocxExporter() *DocxExporter {
	return &DocxExporter{}
}

func (e *DocxExporter) Format() string    { return FormatDocx }
func (e *DocxExporter) Extension() string { return "docx" }
func (e *DocxExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

// Export собирает документ: заголовок Title и по абзацу на блок
func (e *DocxExporter) Export(title string, blocks []Block) ([]byte, error) {
	doc := docx.New().WithDefaultTheme()

	doc.AddParagraph().Style("Title").AddText(title).Size("52").Bold()

	for _, b := range blocks {
		p := doc.AddParagraph()
		p.AddText(b.Speaker + ":").Bold()
		// Подпись и текст разделены переносом строки внутри абзаца
		p.AddText("\n" + strings.ReplaceAll(b.Text, "\r\n", "\n"))
	}
	// Параметры раздела должны идти последним элементом тела
	doc.WithA4Page()

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, &ExportError{Format: FormatDocx, Err: err}
	}
	return buf.Bytes(), nil
}
