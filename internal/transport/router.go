package transport

import (
	"github.com/gin-gonic/gin"

	stocksvc "github.com/alanyang/pglock/internal/service/stock"
	stockhandler "github.com/alanyang/pglock/internal/transport/stock"
	wshandler "github.com/alanyang/pglock/internal/transport/ws"
)

func NewRouter(stockSvc *stocksvc.Service, hub *wshandler.Hub) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(CORSMiddleware())

	api := r.Group("/api")

	stockhandler.Register(api.Group("/stock"), stockSvc)
	hub.Register(api.Group("/ws"))

	return r
}
