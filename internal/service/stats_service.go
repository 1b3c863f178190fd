package service

import (
	"time"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"shorturl-go/constant"
	"shorturl-go/internal/model"
	"shorturl-go/internal/repository"
)

// RecordDailyPV 记录每日 PV
func RecordDailyPV(conn redis.Conn, alias string) {
	dailyPvKey := constant.GetDailyPVKey(constant.GetDateKey())

	_, err := conn.Do("HINCRBY", dailyPvKey, alias, 1)
	if err != nil {
		zap.L().Error("Failed to record daily PV",
			zap.String("key", dailyPvKey),
			zap.String("alias", alias),
			zap.Error(err))
	}

	_, err = conn.Do("EXPIRE", dailyPvKey, 3*24*3600) // 3天过期
	if err != nil {
		zap.L().Error("Failed to record daily PV Expire",
			zap.String("key", dailyPvKey),
			zap.String("alias", alias),
			zap.Error(err))
	}
}

// RecordDailyUV 记录每日 UV
func RecordDailyUV(conn redis.Conn, alias string, ip string) {
	dailyUvKey := constant.GetDailyUVKey(alias, constant.GetDateKey())

	_, err := conn.Do("PFADD", dailyUvKey, ip)
	if err != nil {
		zap.L().Error("Failed to record daily UV",
			zap.String("key", dailyUvKey),
			zap.String("ip", ip),
			zap.Error(err))
	}

	_, err = conn.Do("EXPIRE", dailyUvKey, 3*24*3600)
	if err != nil {
		zap.L().Error("Failed to record daily UV Expire",
			zap.String("key", dailyUvKey),
			zap.String("alias", alias),
			zap.Error(err))
	}
}

// RecordTotalPV 记录总 PV
func RecordTotalPV(conn redis.Conn, alias string) {
	totalPvKey := constant.GetTotalPVKey(alias)
	_, err := conn.Do("INCR", totalPvKey)
	if err != nil {
		zap.L().Error("Failed to record total PV",
			zap.String("key", totalPvKey),
			zap.String("alias", alias),
			zap.Error(err))
	}
}

// RecordTotalUV 记录总 UV
func RecordTotalUV(conn redis.Conn, alias string, ip string) {
	totalUvKey := constant.GetTotalUVKey(alias)
	_, err := conn.Do("PFADD", totalUvKey, ip)
	if err != nil {
		zap.L().Error("Failed to record total UV",
			zap.String("key", totalUvKey),
			zap.String("ip", ip),
			zap.Error(err))
	}
}

// GetDailyPv 获取某日期的别名访问量（PV）
func GetDailyPv(conn redis.Conn, alias string, date string) (int64, error) {
	dailyPvKey := constant.GetDailyPVKey(date)

	reply, err := conn.Do("HGET", dailyPvKey, alias)
	if err != nil {
		return 0, err
	}

	return redis.Int64(reply, err)
}

// GetDailyUv 获取某日期的别名独立访客数（UV）
func GetDailyUv(conn redis.Conn, alias string, date string) (int64, error) {
	dailyUvKey := constant.GetDailyUVKey(alias, date)

	reply, err := conn.Do("PFCOUNT", dailyUvKey)
	if err != nil {
		return 0, err
	}

	return redis.Int64(reply, err)
}

// StatsService 把 Redis 里的访问统计定期沉淀到 daily_stats 表
type StatsService struct {
	db     *gorm.DB
	repo   *repository.ShortURLRepository
	pool   *redis.Pool
	logger *zap.Logger
}

func NewStatsService(db *gorm.DB, repo *repository.ShortURLRepository, pool *redis.Pool, logger *zap.Logger) *StatsService {
	return &StatsService{db: db, repo: repo, pool: pool, logger: logger}
}

// Flush 对每条短链记录把当日 Redis 计数落到 DailyStat
// 由 cron 每十分钟触发一次；Redis 不可用时整轮跳过
func (s *StatsService) Flush() error {
	if s.pool == nil {
		return nil
	}

	s.logger.Info("Stats flush start")

	records, err := s.repo.GetAll()
	if err != nil {
		s.logger.Error("Failed to list records for stats flush", zap.Error(err))
		return err
	}

	today := time.Now().Format("2006-01-02")
	dateKey := constant.GetDateKey()

	conn := s.pool.Get()
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Error("Failed to close Redis connection",
				zap.Error(err),
				zap.String("operation", "close"),
			)
		}
	}()

	for i := range records {
		s.flushOne(conn, &records[i], today, dateKey)
	}

	s.logger.Info("Stats flush end")
	return nil
}

func (s *StatsService) flushOne(conn redis.Conn, m *model.ShortURL, today, dateKey string) {
	dailyPv, err := GetDailyPv(conn, m.Alias, dateKey)
	if err != nil && err != redis.ErrNil {
		s.logger.Warn("Failed to read daily PV",
			zap.String("alias", m.Alias),
			zap.Error(err))
		return
	}

	dailyUv, err := GetDailyUv(conn, m.Alias, dateKey)
	if err != nil && err != redis.ErrNil {
		s.logger.Warn("Failed to read daily UV",
			zap.String("alias", m.Alias),
			zap.Error(err))
		return
	}

	if dailyPv == 0 && dailyUv == 0 {
		return
	}

	dailyStat := &model.DailyStat{
		ShortURLID: m.ID,
		Date:       today,
		PV:         dailyPv,
		UV:         dailyUv,
	}

	result := s.db.Where("short_url_id = ? AND date = ?", m.ID, today).
		Assign("pv", dailyPv, "uv", dailyUv).
		FirstOrCreate(dailyStat)
	if result.Error != nil {
		s.logger.Error("Failed to insert or update daily stat",
			zap.Uint("short_url_id", m.ID),
			zap.String("date", today),
			zap.Int64("pv", dailyPv),
			zap.Int64("uv", dailyUv),
			zap.Error(result.Error),
		)
	}
}

// GetStatsByShortURLID 获取某条短链的按日统计
func (s *StatsService) GetStatsByShortURLID(id uint) ([]model.DailyStat, error) {
	var stats []model.DailyStat
	err := s.db.Where("short_url_id = ?", id).Order("date DESC").Find(&stats).Error
	return stats, err
}
