// Package export - выгрузка переписки анализа в документ
package export

import (
	"fmt"
	"strings"
	"time"
)

// Форматы выгрузки
const (
	FormatDocx = "docx"
	FormatPDF  = "pdf"
)

// Block - абзац документа: подпись говорящего и текст
type Block struct {
	Speaker string
	Text    string
}

// Exporter - сборщик документа из упорядоченных абзацев
type Exporter interface {
	Export(title string, blocks []Block) ([]byte, error)
	Format() string
	Extension() string
	ContentType() string
}

// ExportError - ошибка сборки документа; состояние сессии не меняется
type ExportError struct {
	Format string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("ошибка выгрузки в %s: %v", e.Format, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// Title - заголовок документа
func Title(monthKey string) string {
	return "Marketing Analysis – " + monthKey
}

// Filename - имя файла Analysis_<месяц>_<YYYYMMDD_HHMMSS>.<ext>
func Filename(monthKey string, at time.Time, ext string) string {
	return fmt.Sprintf("Analysis_%s_%s.%s", monthKey, at.Format("20060102_150405"), strings.TrimPrefix(ext, "."))
}

// Registry - экспортёры по формату
type Registry map[string]Exporter

// NewRegistry собирает реестр из экспортёров
func NewRegistry(exporters ...Exporter) Registry {
	r := make(Registry, len(exporters))
	for _, e := range exporters {
		r[e.Format()] = e
	}
	return r
}

// Get возвращает экспортёр по формату (без учёта регистра)
func (r Registry) Get(format string) (Exporter, bool) {
	e, ok := r[strings.ToLower(strings.TrimSpace(format))]
	return e, ok
}
