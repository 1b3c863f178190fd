package repository

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"shorturl-go/internal/apperrors"
	"shorturl-go/internal/model"
	"shorturl-go/internal/shortener"
)

// 别名碰撞时最多重新生成的次数，之后交给唯一索引兜底
const maxAliasRetries = 5

// 事件通道缓冲大小，写满即丢弃（尽力而为投递）
const eventBufferSize = 256

// ShortURLRepository 短链记录的唯一持有者
// 所有写操作各自运行在独立事务里，提交成功后向事件通道发出变更事件
type ShortURLRepository struct {
	db     *gorm.DB
	gen    *shortener.Generator
	events chan Event
}

func NewShortURLRepository(db *gorm.DB, gen *shortener.Generator) *ShortURLRepository {
	return &ShortURLRepository{
		db:     db,
		gen:    gen,
		events: make(chan Event, eventBufferSize),
	}
}

// Events 返回变更事件通道，由通知器统一消费
func (r *ShortURLRepository) Events() <-chan Event {
	return r.events
}

// Add 为 longURL 建立短链记录
// 已存在时原样返回且不发事件；新建时生成别名、落库并发出 ItemAdded
// long_url 上的唯一索引兜住并发重复插入：冲突后回查并返回已有记录
func (r *ShortURLRepository) Add(longURL string) (*model.ShortURL, error) {
	existing, err := r.GetByLongURL(longURL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	m := &model.ShortURL{
		LongURL: longURL,
		Alias:   r.freshAlias(),
		Hits:    0,
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(m).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发 Add 撞到了唯一索引，返回已插入的那条
			winner, lookupErr := r.GetByLongURL(longURL)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, apperrors.PersistenceError(err)
	}

	snapshot := m.Snapshot()
	r.emit(Event{Type: EventAdded, New: &snapshot})
	return m, nil
}

// Insert 原样落库一条完整记录（批量导入路径）
// 别名为空时现场生成；唯一键冲突原样返回，由调用方决定跳过还是中止
func (r *ShortURLRepository) Insert(m *model.ShortURL) error {
	if m.Alias == "" {
		m.Alias = r.freshAlias()
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(m).Error
	})
	if err != nil {
		return apperrors.PersistenceError(err)
	}

	snapshot := m.Snapshot()
	r.emit(Event{Type: EventAdded, New: &snapshot})
	return nil
}

// freshAlias 生成一个当前未被占用的别名
// 重试耗尽后直接返回最后一次生成的值，由唯一索引拦截残余碰撞
func (r *ShortURLRepository) freshAlias() string {
	alias := r.gen.Generate()
	for i := 0; i < maxAliasRetries; i++ {
		taken, err := r.GetByAlias(alias)
		if err == nil && taken == nil {
			return alias
		}
		alias = r.gen.Generate()
	}
	return alias
}

// Update 持久化 m 的字段变更，按 ID 定位现有记录
// 事件携带变更前的快照与变更后的记录；记录不存在时返回 not-found
func (r *ShortURLRepository) Update(m *model.ShortURL) (*model.ShortURL, error) {
	var old model.ShortURL

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&old, m.ID).Error; err != nil {
			return err
		}
		// 创建时间不随更新变化
		m.CreatedAt = old.CreatedAt
		return tx.Save(m).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFoundErrorDefault()
		}
		return nil, apperrors.PersistenceError(err)
	}

	oldSnap := old.Snapshot()
	newSnap := m.Snapshot()
	r.emit(Event{Type: EventUpdated, Old: &oldSnap, New: &newSnap})
	return m, nil
}

// IncrementHits 把 id 对应记录的命中数原子加一并返回更新后的记录
// 计数在存储层累加，并发重定向不会丢失增量；同样发出 ItemUpdated
func (r *ShortURLRepository) IncrementHits(id uint) (*model.ShortURL, error) {
	var old model.ShortURL
	var updated model.ShortURL

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&old, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.ShortURL{}).
			Where("id = ?", id).
			UpdateColumn("hits", gorm.Expr("hits + ?", 1)).Error; err != nil {
			return err
		}
		return tx.First(&updated, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFoundErrorDefault()
		}
		return nil, apperrors.PersistenceError(err)
	}

	oldSnap := old.Snapshot()
	newSnap := updated.Snapshot()
	r.emit(Event{Type: EventUpdated, Old: &oldSnap, New: &newSnap})
	return &updated, nil
}

// GetAll 返回全部记录，顺序未定义
func (r *ShortURLRepository) GetAll() ([]model.ShortURL, error) {
	var list []model.ShortURL
	if err := r.db.Find(&list).Error; err != nil {
		return nil, apperrors.PersistenceError(err)
	}
	return list, nil
}

// GetByID 按 ID 查询，未命中返回 (nil, nil)
func (r *ShortURLRepository) GetByID(id uint) (*model.ShortURL, error) {
	var m model.ShortURL
	if err := r.db.First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.PersistenceError(err)
	}
	return &m, nil
}

// GetByAlias 按别名精确查询，未命中返回 (nil, nil)
func (r *ShortURLRepository) GetByAlias(alias string) (*model.ShortURL, error) {
	var m model.ShortURL
	if err := r.db.Where("alias = ?", alias).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.PersistenceError(err)
	}
	return &m, nil
}

// GetByLongURL 按长 URL 精确查询，未命中返回 (nil, nil)
func (r *ShortURLRepository) GetByLongURL(longURL string) (*model.ShortURL, error) {
	var m model.ShortURL
	if err := r.db.Where("long_url = ?", longURL).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.PersistenceError(err)
	}
	return &m, nil
}

// Delete 删除指定记录并发出 ItemDeleted，入参为 nil 时不做任何事
func (r *ShortURLRepository) Delete(m *model.ShortURL) error {
	if m == nil {
		return nil
	}

	snapshot := m.Snapshot()
	err := r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Delete(&model.ShortURL{}, m.ID).Error
	})
	if err != nil {
		return apperrors.PersistenceError(err)
	}

	r.emit(Event{Type: EventDeleted, Old: &snapshot})
	return nil
}

// DeleteByID 按 ID 删除，记录不存在时等同 no-op
func (r *ShortURLRepository) DeleteByID(id uint) error {
	m, err := r.GetByID(id)
	if err != nil {
		return err
	}
	return r.Delete(m)
}

// DeleteAll 清空全部记录，批量操作不逐条发事件
func (r *ShortURLRepository) DeleteAll() error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&model.ShortURL{}).Error
	})
	if err != nil {
		return apperrors.PersistenceError(err)
	}
	return nil
}

// emit 尽力而为地投递事件，通道写满时丢弃
func (r *ShortURLRepository) emit(e Event) {
	select {
	case r.events <- e:
	default:
		zap.L().Warn("Event channel full, dropping event",
			zap.String("event", string(e.Type)),
		)
	}
}
