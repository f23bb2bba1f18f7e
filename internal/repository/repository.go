package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/user/marketing-insights-api/internal/config"
	"github.com/user/marketing-insights-api/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Repository - доступ к хранилищу данных и журналу AI
type Repository struct {
	db    *gorm.DB
	table string
}

// NewPostgresDB создаёт подключение к хранилищу
func NewPostgresDB(cfg config.WarehouseConfig, migrateUsage bool) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Таблица выгрузки принадлежит хранилищу, мигрируем только журнал
	if migrateUsage {
		if err := db.AutoMigrate(&models.AIUsageLog{}); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// NewRepository создаёт новый репозиторий; table уже проверена config.Validate
func NewRepository(db *gorm.DB, table string) *Repository {
	return &Repository{db: db, table: table}
}

// === Warehouse ===

// GetMonthlyMetrics возвращает выгрузку за месяц и фактический набор колонок
func (r *Repository) GetMonthlyMetrics(ctx context.Context, monthKey string) ([]string, []models.MetricRow, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE month_string = ?", r.table)

	rows, err := r.db.WithContext(ctx).Raw(query, monthKey).Rows()
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var result []models.MetricRow
	for rows.Next() {
		var row models.MetricRow
		if err := r.db.ScanRows(rows, &row); err != nil {
			return nil, nil, fmt.Errorf("ошибка чтения строки: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return columns, result, nil
}

// === AI Usage ===

// CreateAIUsageLog сохраняет запись об обращении к модели
func (r *Repository) CreateAIUsageLog(entry *models.AIUsageLog) error {
	return r.db.Create(entry).Error
}

// GetAIUsageLogs возвращает записи за последние days дней
func (r *Repository) GetAIUsageLogs(days int) ([]models.AIUsageLog, error) {
	var logs []models.AIUsageLog
	since := time.Now().AddDate(0, 0, -days)
	if err := r.db.Where("created_at >= ?", since).Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
