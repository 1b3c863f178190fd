package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"

	"shorturl-go/constant"
	"shorturl-go/internal/apperrors"
	"shorturl-go/internal/dto"
	"shorturl-go/internal/model"
	"shorturl-go/internal/repository"
	"shorturl-go/pkg/utils"
)

// Config 服务层需要的配置项
type Config struct {
	Base            string        // 别名前缀，拼进传输对象
	Fallback        string        // 未命中时跳转的页面，空则 404
	ValidateTimeout time.Duration // Validate 出站探测超时
}

// ShortURLService 编排仓储、缓存与出站探测
// RedisPool 允许为 nil（测试环境），此时跳过缓存与访问统计
type ShortURLService struct {
	repo   *repository.ShortURLRepository
	pool   *redis.Pool
	cfg    Config
	logger *zap.Logger
	client *http.Client
}

func NewShortURLService(repo *repository.ShortURLRepository, pool *redis.Pool, cfg Config, logger *zap.Logger) *ShortURLService {
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = 10 * time.Second
	}
	return &ShortURLService{
		repo:   repo,
		pool:   pool,
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.ValidateTimeout},
	}
}

// Base 别名前缀，handler 转换 DTO 时使用
func (s *ShortURLService) Base() string {
	return s.cfg.Base
}

// Add 为 url 建立或返回既有短链记录
func (s *ShortURLService) Add(ctx context.Context, url string) (*model.ShortURL, error) {
	if err := utils.ValidateTargetURL(url); err != nil {
		return nil, apperrors.InvalidRequestError(err.Error())
	}
	return s.repo.Add(url)
}

// Update 按传输对象更新短链：先按别名解析，退化为按 id，都失败则 not-found
func (s *ShortURLService) Update(ctx context.Context, d dto.ShortURLDTO) (*model.ShortURL, error) {
	if err := utils.ValidateTargetURL(d.URL); err != nil {
		return nil, apperrors.InvalidRequestError(err.Error())
	}

	alias := utils.SanitizeAlias(d.Alias)

	m, err := s.repo.GetByAlias(alias)
	if err != nil {
		return nil, err
	}
	if m == nil {
		// 别名没命中，按 id 解析并把别名改写为请求里的值
		id, parseErr := strconv.ParseUint(d.ID, 10, 64)
		if parseErr != nil {
			return nil, apperrors.InvalidRequestError("invalid id: " + d.ID)
		}
		m, err = s.repo.GetByID(uint(id))
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, apperrors.NotFoundErrorDefault()
		}
		if err := utils.ValidateAlias(alias); err != nil {
			return nil, apperrors.InvalidRequestError(err.Error())
		}
		s.invalidateCache(m.Alias)
		m.Alias = alias
	} else {
		s.invalidateCache(m.Alias)
	}

	m.LongURL = d.URL
	return s.repo.Update(m)
}

// GetAll 全部记录
func (s *ShortURLService) GetAll(ctx context.Context) ([]model.ShortURL, error) {
	return s.repo.GetAll()
}

// GetByID 按 id 查询，未命中返回 not-found
func (s *ShortURLService) GetByID(ctx context.Context, id uint) (*model.ShortURL, error) {
	m, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperrors.NotFoundErrorDefault()
	}
	return m, nil
}

// DeleteByAlias 按别名删除，未命中返回 not-found
func (s *ShortURLService) DeleteByAlias(ctx context.Context, rawAlias string) error {
	alias := utils.SanitizeAlias(rawAlias)
	m, err := s.repo.GetByAlias(alias)
	if err != nil {
		return err
	}
	if m == nil {
		return apperrors.NotFoundErrorDefault()
	}
	s.invalidateCache(alias)
	return s.repo.Delete(m)
}

// DeleteByID 按 id 删除，未命中返回 not-found
func (s *ShortURLService) DeleteByID(ctx context.Context, id uint) error {
	m, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if m == nil {
		return apperrors.NotFoundErrorDefault()
	}
	s.invalidateCache(m.Alias)
	return s.repo.Delete(m)
}

// Redirect 重定向主路径：归一化别名 → 解析记录 → 命中数加一 → 返回跳转目标
// 未命中时返回配置的 fallback 页面；没有 fallback 则 not-found
func (s *ShortURLService) Redirect(ctx context.Context, rawAlias string, ip string) (string, error) {
	alias := utils.SanitizeAlias(rawAlias)
	if alias == "" {
		return s.missTarget()
	}

	m, err := s.resolve(alias)
	if err != nil {
		return "", err
	}
	if m == nil {
		return s.missTarget()
	}

	// 计数在存储层原子累加，并复用更新路径发出 ItemUpdated
	if _, err := s.repo.IncrementHits(m.ID); err != nil {
		return "", err
	}

	s.recordVisit(alias, ip)

	return m.LongURL, nil
}

func (s *ShortURLService) missTarget() (string, error) {
	if s.cfg.Fallback != "" {
		return s.cfg.Fallback, nil
	}
	return "", apperrors.NotFoundErrorDefault()
}

// Validate 解析别名并对长 URL 发出站探测，返回上游的状态码
func (s *ShortURLService) Validate(ctx context.Context, rawAlias string) (int, error) {
	alias := utils.SanitizeAlias(rawAlias)
	m, err := s.repo.GetByAlias(alias)
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 0, apperrors.NotFoundErrorDefault()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.LongURL, nil)
	if err != nil {
		return 0, apperrors.SystemError(err.Error())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, apperrors.BusinessError(http.StatusBadGateway, err.Error())
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Warn("Failed to close validate response body", zap.Error(err))
		}
	}()

	return resp.StatusCode, nil
}

// resolve 先查缓存再查库，命中库后回填缓存一小时
func (s *ShortURLService) resolve(alias string) (*model.ShortURL, error) {
	if s.pool == nil {
		return s.repo.GetByAlias(alias)
	}

	cacheKey := constant.GetAliasRecordKey(alias)

	conn := s.pool.Get()
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Error("Failed to close Redis connection",
				zap.Error(err),
				zap.String("operation", "close"),
			)
		}
	}()

	cached, err := redis.Bytes(conn.Do("GET", cacheKey))
	if err == nil {
		if len(cached) == 0 {
			// 空值缓存，防止穿透
			return nil, nil
		}
		var m model.ShortURL
		if err := json.Unmarshal(cached, &m); err == nil {
			return &m, nil
		}
		s.logger.Warn("Failed to unmarshal cached record",
			zap.String("cache_key", cacheKey),
			zap.Error(err),
		)
	} else if err != redis.ErrNil {
		s.logger.Warn("Error getting from Redis",
			zap.String("cache_key", cacheKey),
			zap.Error(err),
		)
	}

	m, err := s.repo.GetByAlias(alias)
	if err != nil {
		return nil, err
	}
	if m == nil {
		// 缓存空值 5 分钟
		if _, err := conn.Do("SET", cacheKey, "", "EX", 300); err != nil {
			s.logger.Error("Failed to cache empty record",
				zap.String("cache_key", cacheKey),
				zap.Error(err),
			)
		}
		return nil, nil
	}

	payload, _ := json.Marshal(m)
	if _, err := conn.Do("SET", cacheKey, payload, "EX", 3600); err != nil {
		s.logger.Error("Failed to cache record",
			zap.String("cache_key", cacheKey),
			zap.Error(err),
		)
	}

	return m, nil
}

// invalidateCache 删掉别名对应的缓存键，更新和删除后调用
func (s *ShortURLService) invalidateCache(alias string) {
	if s.pool == nil || alias == "" {
		return
	}

	conn := s.pool.Get()
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Error("Failed to close Redis connection",
				zap.Error(err),
				zap.String("operation", "close"),
			)
		}
	}()

	if _, err := conn.Do("DEL", constant.GetAliasRecordKey(alias)); err != nil {
		s.logger.Warn("Failed to invalidate cache",
			zap.String("alias", alias),
			zap.Error(err),
		)
	}
}

// recordVisit 把一次重定向记入 Redis PV/UV 统计
func (s *ShortURLService) recordVisit(alias string, ip string) {
	if s.pool == nil {
		return
	}

	conn := s.pool.Get()
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Error("Failed to close Redis connection",
				zap.Error(err),
				zap.String("operation", "close"),
			)
		}
	}()

	RecordDailyPV(conn, alias)
	RecordDailyUV(conn, alias, ip)
	RecordTotalPV(conn, alias)
	RecordTotalUV(conn, alias, ip)
}
