package webui

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Lichas/wabridge/internal/channels"
	"github.com/Lichas/wabridge/internal/logging"
	"github.com/Lichas/wabridge/internal/service"
	"github.com/Lichas/wabridge/internal/session"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"whatsapp":    s.deps.API.Status(),
		"subscribers": 0,
		"published":   0,
	}
	if s.deps.Bus != nil {
		status["subscribers"] = s.deps.Bus.Count()
		status["published"] = s.deps.Bus.Published()
	}
	if s.deps.Media != nil {
		status["media"] = s.deps.Media.Stats()
	}
	if s.deps.Bridge != nil {
		status["bridge"] = s.deps.Bridge.Status()
	}
	if s.deps.Cron != nil {
		status["cron"] = s.deps.Cron.Status()
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleQR(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"qr": s.deps.API.QR()})
}

func (s *Server) handleChats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chats": s.deps.API.ListChats(c.Request.Context())})
}

func (s *Server) handleMessages(c *gin.Context) {
	q := channels.FetchMessagesQuery{
		ChatID: c.Param("id"),
		Limit:  queryInt(c, "limit"),
	}
	if raw, ok := c.GetQuery("fromMe"); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			q.FromMe = &v
		}
	}
	c.JSON(http.StatusOK, gin.H{"messages": s.deps.API.FetchMessages(c.Request.Context(), q)})
}

func (s *Server) handleSearch(c *gin.Context) {
	q := channels.SearchQuery{
		Query:  c.Query("q"),
		ChatID: c.Query("chatId"),
		Page:   queryInt(c, "page"),
		Limit:  queryInt(c, "limit"),
	}
	c.JSON(http.StatusOK, gin.H{"messages": s.deps.API.SearchMessages(c.Request.Context(), q)})
}

type sendRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	chatID := c.Param("id")
	msg, err := s.deps.API.SendMessage(c.Request.Context(), chatID, req.Message)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, session.ErrNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	default:
		if lg := logging.Get(); lg != nil && lg.Web != nil {
			lg.Web.Printf("send message chat=%s err=%v", chatID, err)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if lg := logging.Get(); lg != nil && lg.Web != nil {
		lg.Web.Printf("sent message chat=%s text=%q", chatID, logging.Truncate(req.Message, 300))
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (s *Server) handleAvatar(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"url": s.deps.API.Avatar(c.Request.Context(), c.Param("id"))})
}

// queryInt returns 0 for a missing or malformed value.
func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
