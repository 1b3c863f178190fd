package dto

import (
	"path"
	"strconv"
	"time"

	"shorturl-go/internal/model"
	"shorturl-go/pkg/utils"
)

// ShortURLDTO 短链的传输对象，API 边界与消息通道统一使用该结构
// alias 字段携带拼接了前缀的完整外部路径，id 为字符串形式
type ShortURLDTO struct {
	ID          string     `json:"id"`
	URL         string     `json:"url" binding:"required,url" msg:"error.target_url_invalid"`
	Alias       string     `json:"alias"`
	Hits        int64      `json:"hits"`
	DateCreated *time.Time `json:"dateCreated,omitempty"`
}

// FromModel 持久化记录 → 传输对象
// 别名拼接 base 前缀，id 转字符串；不修改入参
func FromModel(m *model.ShortURL, base string) ShortURLDTO {
	created := m.CreatedAt
	return ShortURLDTO{
		ID:          strconv.FormatUint(uint64(m.ID), 10),
		URL:         m.LongURL,
		Alias:       path.Join(base, m.Alias),
		Hits:        m.Hits,
		DateCreated: &created,
	}
}

// ToModel 传输对象 → 持久化记录
// 剥离 base 前缀只保留最后一段路径，id 解析失败时为 0
func ToModel(d ShortURLDTO) model.ShortURL {
	id, _ := strconv.ParseUint(d.ID, 10, 64)

	m := model.ShortURL{
		LongURL: d.URL,
		Alias:   utils.SanitizeAlias(d.Alias),
	}
	m.ID = uint(id)
	m.Hits = d.Hits
	if d.DateCreated != nil {
		m.CreatedAt = *d.DateCreated
	}
	return m
}

// FromModels 批量转换，保持输入顺序
func FromModels(ms []model.ShortURL, base string) []ShortURLDTO {
	out := make([]ShortURLDTO, 0, len(ms))
	for i := range ms {
		out = append(out, FromModel(&ms[i], base))
	}
	return out
}
