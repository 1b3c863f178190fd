package model

import "time"

// BaseModel 所有持久化实体的公共字段
// ID 由数据库在首次保存时分配，CreatedAt 创建后不再变更
type BaseModel struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
