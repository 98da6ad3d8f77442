package conditioner

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-therapist/backend/internal/imaging"
	"github.com/zhouzirui/z-therapist/backend/pkg/utils"
)

// Handler 暴露图像预处理参数的运行时查询与修改。
type Handler struct {
	conditioner *imaging.Conditioner
	log         *logrus.Entry
}

// New 创建预处理参数处理器
func New(c *imaging.Conditioner) *Handler {
	return &Handler{conditioner: c, log: logrus.WithField("component", "conditioner")}
}

// RegisterRoutes 注册预处理参数路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conditioner", h.handleGet)
	r.Put("/conditioner", h.handleUpdate)
}

type settingsResponse struct {
	imaging.Settings
	Strategies []imaging.Strategy `json:"strategies"`
}

type updateRequest struct {
	Strategy  *string  `json:"strategy"`
	ClipLimit *float64 `json:"clip_limit"`
	TileGrid  *[2]int  `json:"tile_grid"`
}

func (h *Handler) handleGet(w http.ResponseWriter, _ *http.Request) {
	h.respondSettings(w)
}

// handleUpdate 先校验全部字段，再依次应用；只影响之后处理的帧。
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := utils.DecodeJSON(w, r, 4096, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	current := h.conditioner.Settings()

	var strategy imaging.Strategy
	if req.Strategy != nil {
		parsed, err := imaging.ParseStrategy(*req.Strategy)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		strategy = parsed
	}

	clahe := current.Params.CLAHE
	if req.ClipLimit != nil {
		clahe.ClipLimit = *req.ClipLimit
	}
	if req.TileGrid != nil {
		clahe.TileGrid = *req.TileGrid
	}
	if err := clahe.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if strategy != "" {
		if err := h.conditioner.SetStrategy(strategy); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.ClipLimit != nil || req.TileGrid != nil {
		if err := h.conditioner.SetCLAHE(clahe); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	updated := h.conditioner.Settings()
	h.log.WithFields(logrus.Fields{
		"strategy":   updated.Strategy,
		"clip_limit": updated.Params.CLAHE.ClipLimit,
		"tile_grid":  updated.Params.CLAHE.TileGrid,
	}).Info("conditioner updated")
	h.respondSettings(w)
}

func (h *Handler) respondSettings(w http.ResponseWriter) {
	utils.RespondJSON(w, http.StatusOK, settingsResponse{
		Settings:   h.conditioner.Settings(),
		Strategies: imaging.Strategies(),
	})
}
