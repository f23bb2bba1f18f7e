package models

import (
	"time"
)

// MetricRow - строка месячной выгрузки из хранилища
// Одна строка = (группа кампаний, канал); агрегаты: channel = "Subtotal", campaign_group = "Total"
type MetricRow struct {
	MonthString   string  `gorm:"column:month_string" json:"month"`
	CampaignGroup string  `gorm:"column:campaign_group" json:"campaign_group"`
	Channel       string  `gorm:"column:channel" json:"channel"`
	Impressions   float64 `gorm:"column:impressions" json:"impressions"`
	Clicks        float64 `gorm:"column:clicks" json:"clicks"`
	CTR           float64 `gorm:"column:ctr" json:"ctr"` // в процентах
	Sessions      float64 `gorm:"column:sessions" json:"sessions"`
	Revenue       float64 `gorm:"column:revenue" json:"revenue"`
	Spend         float64 `gorm:"column:spend" json:"spend"`

	// Изменения месяц к месяцу, %
	ImpressionsMoM float64 `gorm:"column:impressions_mom_pct" json:"impressions_mom_pct"`
	ClicksMoM      float64 `gorm:"column:clicks_mom_pct" json:"clicks_mom_pct"`
	CTRMoM         float64 `gorm:"column:ctr_mom_pct" json:"ctr_mom_pct"`
	SessionsMoM    float64 `gorm:"column:sessions_mom_pct" json:"sessions_mom_pct"`
	RevenueMoM     float64 `gorm:"column:revenue_mom_pct" json:"revenue_mom_pct"`
	SpendMoM       float64 `gorm:"column:spend_mom_pct" json:"spend_mom_pct"`

	// Изменения год к году, %
	ImpressionsYoY float64 `gorm:"column:impressions_yoy_pct" json:"impressions_yoy_pct"`
	ClicksYoY      float64 `gorm:"column:clicks_yoy_pct" json:"clicks_yoy_pct"`
	CTRYoY         float64 `gorm:"column:ctr_yoy_pct" json:"ctr_yoy_pct"`
	SessionsYoY    float64 `gorm:"column:sessions_yoy_pct" json:"sessions_yoy_pct"`
	RevenueYoY     float64 `gorm:"column:revenue_yoy_pct" json:"revenue_yoy_pct"`
	SpendYoY       float64 `gorm:"column:spend_yoy_pct" json:"spend_yoy_pct"`
}

// Метки агрегирующих строк
const (
	TotalGroup      = "Total"
	SubtotalChannel = "Subtotal"
)

// IsTotal - строка общего итога
func (r *MetricRow) IsTotal() bool {
	return r.CampaignGroup == TotalGroup
}

// IsSubtotal - строка итога по группе кампаний
func (r *MetricRow) IsSubtotal() bool {
	return !r.IsTotal() && r.Channel == SubtotalChannel
}

// IsAggregate - любая агрегирующая строка
func (r *MetricRow) IsAggregate() bool {
	return r.IsTotal() || r.IsSubtotal()
}

// Role - роль реплики в переписке
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid проверяет допустимость роли
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ConversationTurn - одна реплика переписки
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// === AI Analytics ===

// AIUsageLog - лог использования AI (для контроля токенов)
type AIUsageLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RequestType  string    `gorm:"size:50" json:"request_type"` // "initial", "followup"
	Mode         string    `gorm:"size:10" json:"mode"`         // "sync", "async"
	Provider     string    `gorm:"size:20" json:"provider"`
	MonthKey     string    `gorm:"size:20;index" json:"month_key"`
	SessionID    string    `gorm:"size:64;index" json:"session_id"`
	InputTokens  int       `gorm:"default:0" json:"input_tokens"`
	OutputTokens int       `gorm:"default:0" json:"output_tokens"`
	TotalTokens  int       `gorm:"default:0" json:"total_tokens"`
	Success      bool      `gorm:"default:true" json:"success"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
