package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"shorturl-go/internal/apperrors"
	"shorturl-go/internal/dto"
	"shorturl-go/internal/notifier"
	"shorturl-go/internal/service"
	"shorturl-go/response"
)

// ShortURLHandler 短链 API 的 gin 入口，依赖都从构造函数注入
type ShortURLHandler struct {
	svc    *service.ShortURLService
	stats  *service.StatsService
	hub    *notifier.Hub
	logger *zap.Logger
}

func NewShortURLHandler(svc *service.ShortURLService, stats *service.StatsService, hub *notifier.Hub, logger *zap.Logger) *ShortURLHandler {
	return &ShortURLHandler{
		svc:    svc,
		stats:  stats,
		hub:    hub,
		logger: logger,
	}
}

// bindError 把绑定失败翻译成 AppError
// 校验类错误优先取字段 msg 标签里的消息键
func bindError(req interface{}, err error) *apperrors.AppError {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, e := range validationErrs {
			field, ok := reflect.TypeOf(req).FieldByName(e.Field())
			if !ok {
				break
			}
			if customMsg := field.Tag.Get("msg"); customMsg != "" {
				return apperrors.InvalidRequestError(customMsg)
			}
		}
	}
	return apperrors.InvalidRequestErrorDefault()
}

// Add 新建短链；目标地址已存在时返回既有记录
// 目标地址取 ?url= 查询参数，没有时从 JSON 请求体取
func (h *ShortURLHandler) Add(c *gin.Context) {
	var req dto.ShortURLDTO

	if url := c.Query("url"); url != "" {
		req.URL = url
	} else if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Request body binding failed",
			zap.Error(err),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		//显式忽略返回值
		_ = c.Error(bindError(req, err))
		return
	}

	m, err := h.svc.Add(c.Request.Context(), req.URL)
	if err != nil {
		h.logger.Warn("Short url creation failed",
			zap.Error(err),
			zap.String("url", req.URL),
		)
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.OK(dto.FromModel(m, h.svc.Base()), "Short url creation successful"))
}

// Update 更新短链：先按别名定位，退化为按 id
func (h *ShortURLHandler) Update(c *gin.Context) {
	var req dto.ShortURLDTO

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Request body binding failed",
			zap.Error(err),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		_ = c.Error(bindError(req, err))
		return
	}

	m, err := h.svc.Update(c.Request.Context(), req)
	if err != nil {
		h.logger.Warn("Short url update failed",
			zap.Error(err),
			zap.String("id", req.ID),
			zap.String("alias", req.Alias),
		)
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.OK(dto.FromModel(m, h.svc.Base()), "Short url update successful"))
}

// List 全部短链记录
func (h *ShortURLHandler) List(c *gin.Context) {
	list, err := h.svc.GetAll(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.OK(dto.FromModels(list, h.svc.Base()), "success"))
}

// ByID 按 id 查询单条记录
func (h *ShortURLHandler) ByID(c *gin.Context) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		_ = c.Error(apperrors.InvalidRequestError("invalid id: " + idStr))
		return
	}

	m, err := h.svc.GetByID(c.Request.Context(), uint(id))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.OK(dto.FromModel(m, h.svc.Base()), "success"))
}

// DeleteByAlias 按别名删除
func (h *ShortURLHandler) DeleteByAlias(c *gin.Context) {
	alias := c.Param("alias")

	if err := h.svc.DeleteByAlias(c.Request.Context(), alias); err != nil {
		h.logger.Warn("Short url deletion failed",
			zap.Error(err),
			zap.String("alias", alias),
		)
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.OK(struct{}{}, "Short url deletion successful"))
}

// DeleteByID 按 id 删除
func (h *ShortURLHandler) DeleteByID(c *gin.Context) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		_ = c.Error(apperrors.InvalidRequestError("invalid id: " + idStr))
		return
	}

	if err := h.svc.DeleteByID(c.Request.Context(), uint(id)); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.OK(struct{}{}, "Short url deletion successful"))
}

// Validate 对别名指向的目标地址做一次出站探测，透传上游状态码
func (h *ShortURLHandler) Validate(c *gin.Context) {
	alias := c.Param("alias")

	code, err := h.svc.Validate(c.Request.Context(), alias)
	if err != nil {
		h.logger.Warn("Target url validation failed",
			zap.Error(err),
			zap.String("alias", alias),
		)
		_ = c.Error(err)
		return
	}

	c.Status(code)
}

// Stats 某条短链的按日 PV/UV 统计
func (h *ShortURLHandler) Stats(c *gin.Context) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		_ = c.Error(apperrors.InvalidRequestError("invalid id: " + idStr))
		return
	}

	stats, err := h.stats.GetStatsByShortURLID(uint(id))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.OK(stats, "success"))
}

// ServeWS 升级为 WebSocket 并订阅变更事件
func (h *ShortURLHandler) ServeWS(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

// Redirect 兜底路由：把未匹配的路径当作别名做跳转
// 未命中且没有配置 fallback 页面时返回 404
func (h *ShortURLHandler) Redirect(c *gin.Context) {
	alias := c.Request.URL.Path[1:] // /abc123 → abc123
	ip := c.ClientIP()

	target, err := h.svc.Redirect(c.Request.Context(), alias, ip)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == http.StatusNotFound {
			c.Status(http.StatusNotFound)
			return
		}
		_ = c.Error(err)
		return
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Redirect(http.StatusFound, target)
}
