package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"shorturl-go/internal/dto"
	"shorturl-go/internal/repository"
)

// ImportService 启动时从 JSON 文件批量导入短链记录
// 导入完成后把源文件改名为 .old，避免下次启动重复导入
type ImportService struct {
	repo    *repository.ShortURLRepository
	logger  *zap.Logger
	file    string // 导入源，不存在时整个导入静默跳过
	logFile string // 逐条进度日志，空则不写
}

func NewImportService(repo *repository.ShortURLRepository, logger *zap.Logger, file, logFile string) *ImportService {
	return &ImportService{
		repo:    repo,
		logger:  logger,
		file:    file,
		logFile: logFile,
	}
}

// Run 执行一次导入
// 每条记录独立落库：唯一键冲突记日志跳过，其他持久化错误中止导入
func (s *ImportService) Run() error {
	if s.file == "" {
		return nil
	}

	raw, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		s.logger.Error("Failed to read import file",
			zap.String("file", s.file),
			zap.Error(err))
		return err
	}

	var items []dto.ShortURLDTO
	if err := json.Unmarshal(raw, &items); err != nil {
		s.logger.Error("Failed to parse import file",
			zap.String("file", s.file),
			zap.Error(err))
		return err
	}

	s.logger.Info("Import start",
		zap.String("file", s.file),
		zap.Int("count", len(items)))

	progress, closeProgress := s.openProgressLog()
	defer closeProgress()

	imported, skipped := 0, 0
	for i := range items {
		m := dto.ToModel(items[i])
		// 主键交给数据库分配，导入文件里的 id 只是外部编号
		m.ID = 0

		err := s.repo.Insert(&m)
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				skipped++
				s.writeProgress(progress, fmt.Sprintf("skip duplicate: %s -> %s", m.Alias, m.LongURL))
				continue
			}
			s.logger.Error("Import aborted",
				zap.String("url", m.LongURL),
				zap.Error(err))
			return err
		}

		imported++
		s.writeProgress(progress, fmt.Sprintf("imported: %s -> %s", m.Alias, m.LongURL))
	}

	s.logger.Info("Import done",
		zap.Int("imported", imported),
		zap.Int("skipped", skipped))

	if err := s.archive(); err != nil {
		s.logger.Warn("Failed to archive import file",
			zap.String("file", s.file),
			zap.Error(err))
	}

	return nil
}

// archive 把导入源改名为 .old；目标已存在时追加 " (n)" 序号
func (s *ImportService) archive() error {
	target := s.file + ".old"
	for n := 1; ; n++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = fmt.Sprintf("%s (%d).old", s.file, n)
	}
	return os.Rename(s.file, target)
}

func (s *ImportService) openProgressLog() (*os.File, func()) {
	if s.logFile == "" {
		return nil, func() {}
	}

	f, err := os.OpenFile(s.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn("Failed to open import progress log",
			zap.String("file", s.logFile),
			zap.Error(err))
		return nil, func() {}
	}

	return f, func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("Failed to close import progress log", zap.Error(err))
		}
	}
}

func (s *ImportService) writeProgress(f *os.File, line string) {
	if f == nil {
		return
	}
	stamp := time.Now().Format("2006-01-02 15:04:05")
	if _, err := fmt.Fprintf(f, "[%s] %s\n", stamp, line); err != nil {
		s.logger.Warn("Failed to write import progress log", zap.Error(err))
	}
}
