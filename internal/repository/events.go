package repository

import "shorturl-go/internal/model"

// EventType 仓储变更事件类型
type EventType string

const (
	EventAdded   EventType = "ItemAdded"
	EventUpdated EventType = "ItemUpdated"
	EventDeleted EventType = "ItemDeleted"
)

// Event 仓储在提交成功后发出的变更事件
// Old / New 均为按值捕获的快照，互不共享状态：
//   - ItemAdded:   New 为新增记录，Old 为 nil
//   - ItemUpdated: Old 为变更前快照，New 为变更后记录
//   - ItemDeleted: Old 为被删除的记录，New 为 nil
type Event struct {
	Type EventType
	Old  *model.ShortURL
	New  *model.ShortURL
}
