package model

// ShortURL 短链记录：一个长 URL 对应唯一的别名
// long_url 与 alias 均建唯一索引，写入冲突由仓储层处理
type ShortURL struct {
	BaseModel
	// size 768 是 utf8mb4 下 InnoDB 唯一索引的上限（3072 字节）
	LongURL string `gorm:"uniqueIndex;size:768;not null" json:"longUrl"`
	Alias   string `gorm:"uniqueIndex;size:32;not null" json:"alias"`
	Hits    int64  `gorm:"default:0" json:"hits"`
}

// Snapshot 按值复制当前记录，用于事件的 old/new 快照
// 返回的副本与原对象不共享任何可变状态
func (s *ShortURL) Snapshot() ShortURL {
	return ShortURL{
		BaseModel: BaseModel{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		},
		LongURL: s.LongURL,
		Alias:   s.Alias,
		Hits:    s.Hits,
	}
}
