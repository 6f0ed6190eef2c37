package api

import (
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dhcptap/internal/server/storage"
	"dhcptap/pkg/model"
)

const maxLimit = 2000

type Handlers struct {
	store storage.Store
}

func NewHandlers(store storage.Store) *Handlers {
	return &Handlers{store: store}
}

func (h *Handlers) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	{
		v1.POST("/upload", h.Upload)
		v1.GET("/query", h.Query)
	}
}

func (h *Handlers) Upload(c *gin.Context) {
	var ev model.DHCPEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON 解析失败：" + err.Error()})
		return
	}
	if msg := validateEvent(&ev); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if err := h.store.Insert(c.Request.Context(), &ev); err != nil {
		logrus.WithError(err).Error("写入数据库失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "写入数据库失败：" + err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// validateEvent 做最基本的校验，并把 MAC 统一成小写冒号格式。
func validateEvent(ev *model.DHCPEvent) string {
	mac, err := net.ParseMAC(ev.SrcMAC)
	if err != nil || len(mac) != 6 {
		return "src_mac 非法"
	}
	ev.SrcMAC = mac.String()
	if ev.ClientHWAddr != "" {
		hw, err := net.ParseMAC(ev.ClientHWAddr)
		if err != nil {
			return "client_hw_addr 非法"
		}
		ev.ClientHWAddr = hw.String()
	}

	ip := net.ParseIP(ev.SrcIP)
	if ip == nil {
		return "src_ip 非法"
	}
	switch ev.Family {
	case 4:
		if ip.To4() == nil {
			return "family 与 src_ip 不一致"
		}
	case 6:
		if ip.To4() != nil {
			return "family 与 src_ip 不一致"
		}
	default:
		return "family 只能是 4 或 6"
	}
	if !validPort(ev.SrcPort) {
		return "src_port 非法"
	}
	if ev.MsgType == "" {
		return "msg_type 不能为空"
	}
	if ev.RequestedIP != "" && net.ParseIP(ev.RequestedIP) == nil {
		return "requested_ip 非法"
	}
	return ""
}

func (h *Handlers) Query(c *gin.Context) {
	limit := storage.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= maxLimit {
			limit = v
		}
	}

	var (
		rows []model.DHCPEvent
		err  error
	)
	switch ip, mac := c.Query("ip"), c.Query("mac"); {
	case ip != "":
		if net.ParseIP(ip) == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ip 参数非法"})
			return
		}
		rows, err = h.store.QueryByIP(c.Request.Context(), ip, limit)
	case mac != "":
		hw, perr := net.ParseMAC(mac)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mac 参数非法"})
			return
		}
		rows, err = h.store.QueryByMAC(c.Request.Context(), hw.String(), limit)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "需要 ip 或 mac 参数"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败：" + err.Error()})
		return
	}

	c.JSON(http.StatusOK, rows)
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
