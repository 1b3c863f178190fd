package repository

import (
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"shorturl-go/internal/model"
	"shorturl-go/pkg/logging"
)

// NewDB 打开数据库连接并迁移表结构
// 返回的 *gorm.DB 由调用方注入到各处，不再保存全局状态
func NewDB(logger *zap.Logger, atomicLogLevel zap.AtomicLevel) (*gorm.DB, error) {
	dsn := viper.GetString("db.dsn")
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logging.NewGormLogger(logger, logging.ToGormLogLevel(atomicLogLevel.Level())),
		// 把方言各自的唯一键冲突翻译成 gorm.ErrDuplicatedKey
		TranslateError: true,
	})
	if err != nil {
		logger.Error("Failed to connect database", zap.Error(err))
		return nil, err
	}

	if err := db.AutoMigrate(&model.ShortURL{}, &model.DailyStat{}); err != nil {
		logger.Error("Failed to migrate database", zap.Error(err))
		return nil, err
	}

	return db, nil
}
