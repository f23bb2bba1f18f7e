package snapshot

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/user/marketing-insights-api/internal/metrics"
	"github.com/user/marketing-insights-api/internal/models"
	"golang.org/x/sync/singleflight"
)

// Source - источник месячных выгрузок (хранилище)
type Source interface {
	GetMonthlyMetrics(ctx context.Context, monthKey string) ([]string, []models.MetricRow, error)
}

// DefaultFetchTimeout - предел общего запроса к хранилищу
const DefaultFetchTimeout = 30 * time.Second

// Service - кэш снимков выгрузки по месяцам
type Service struct {
	source       Source
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu    sync.RWMutex
	cache map[string]*Dataset
	group singleflight.Group
}

// NewService создаёт сервис снимков
func NewService(source Source, ttl, fetchTimeout time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Service{
		source:       source,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
		cache:        make(map[string]*Dataset),
	}
}

// Get возвращает свежий снимок за месяц, при необходимости загружая его один раз
func (s *Service) Get(ctx context.Context, monthKey string) (*Dataset, error) {
	if d := s.cached(monthKey); d != nil {
		metrics.SnapshotFetches.WithLabelValues("hit").Inc()
		return d, nil
	}

	// Параллельные сессии с одним месяцем разделяют один запрос к хранилищу.
	// Запрос не зависит от отмены вызывающего, каждый ждёт его со своим ctx.
	ch := s.group.DoChan(monthKey, func() (interface{}, error) {
		if d := s.cached(monthKey); d != nil {
			return d, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx, monthKey)
	})

	select {
	case <-ctx.Done():
		metrics.SnapshotFetches.WithLabelValues("cancelled").Inc()
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			metrics.SnapshotFetches.WithLabelValues("error").Inc()
			return nil, res.Err
		}
		metrics.SnapshotFetches.WithLabelValues("miss").Inc()
		if res.Shared {
			log.Printf("[Snapshot] %s: использован общий запрос", monthKey)
		}
		return res.Val.(*Dataset), nil
	}
}

func (s *Service) cached(monthKey string) *Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.cache[monthKey]
	if !ok || s.now().Sub(d.FetchedAt) >= s.ttl {
		return nil
	}
	return d
}

func (s *Service) fetch(ctx context.Context, monthKey string) (*Dataset, error) {
	start := s.now()
	columns, rows, err := s.source.GetMonthlyMetrics(ctx, monthKey)
	if err != nil {
		log.Printf("[Snapshot] %s: ошибка запроса к хранилищу: %v", monthKey, err)
		return nil, &SourceError{MonthKey: monthKey, Err: err}
	}

	if len(rows) == 0 {
		return nil, ErrDataUnavailable
	}
	if missing := missingColumns(columns); len(missing) > 0 {
		return nil, &InvalidDatasetError{MonthKey: monthKey, Missing: missing}
	}

	d := NewDataset(monthKey, columns, rows, s.now())
	if d.Derived {
		log.Printf("[Snapshot] %s: итоговые строки досчитаны локально", monthKey)
	}

	s.mu.Lock()
	s.cache[monthKey] = d
	s.mu.Unlock()

	log.Printf("[Snapshot] %s: загружено %d строк за %s", monthKey, len(rows), s.now().Sub(start))
	return d, nil
}

// Invalidate удаляет снимок месяца из кэша
func (s *Service) Invalidate(monthKey string) {
	s.mu.Lock()
	delete(s.cache, monthKey)
	s.mu.Unlock()
}

// Purge удаляет устаревшие снимки (вызывается из cron)
func (s *Service) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for month, d := range s.cache {
		if s.now().Sub(d.FetchedAt) >= s.ttl {
			delete(s.cache, month)
			removed++
		}
	}
	return removed
}
