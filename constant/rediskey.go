package constant

import (
	"fmt"
	"time"
)

// 常量定义
const (
	BasePrefix = "shorturl:"
	Separator  = ":"
)

// Redis 键模板
const (
	AliasRecord = BasePrefix + "alias:%s"
	DailyPV     = BasePrefix + "pv" + Separator + "%s"                    // shorturl:pv:yyyyMMdd
	DailyUV     = BasePrefix + "uv" + Separator + "%s" + Separator + "%s" // shorturl:uv:yyyyMMdd:alias
	TotalPV     = BasePrefix + "total_pv" + Separator + "%s"              // shorturl:total_pv:alias
	TotalUV     = BasePrefix + "total_uv" + Separator + "%s"              // shorturl:total_uv:alias
)

// GetAliasRecordKey 生成别名记录缓存 key
func GetAliasRecordKey(alias string) string {
	return fmt.Sprintf(AliasRecord, alias)
}

// GetDateKey 生成当前日期的键（格式：yyyyMMdd）
func GetDateKey() string {
	return time.Now().Format("20060102")
}

// GetDailyPVKey 生成每日 PV 键（格式：shorturl:pv:yyyyMMdd）
func GetDailyPVKey(date string) string {
	return fmt.Sprintf(DailyPV, date)
}

// GetDailyUVKey 生成每日 UV 键（格式：shorturl:uv:yyyyMMdd:alias）
func GetDailyUVKey(alias, date string) string {
	return fmt.Sprintf(DailyUV, date, alias)
}

// GetTotalPVKey 生成总 PV 键（格式：shorturl:total_pv:alias）
func GetTotalPVKey(alias string) string {
	return fmt.Sprintf(TotalPV, alias)
}

// GetTotalUVKey 生成总 UV 键（格式：shorturl:total_uv:alias）
func GetTotalUVKey(alias string) string {
	return fmt.Sprintf(TotalUV, alias)
}
