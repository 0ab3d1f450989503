package router

import (
	"context"
	"net/http"

	"github.com/blues/collab/internal/handler"
	"github.com/blues/collab/internal/idempotency"
	"github.com/blues/collab/internal/logic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options 路由依赖
type Options struct {
	AgreementLogic *logic.AgreementLogic
	Idempotency    idempotency.Store
	JwtSecret      string
	// Health 返回附加的健康信息，例如链连接状态，可以为 nil
	Health func(ctx context.Context) map[string]interface{}
}

func Setup(opts Options) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": "collab-service",
		}
		if opts.Health != nil {
			for k, v := range opts.Health(c.Request.Context()) {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	// 指标
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API版本组
	v1 := r.Group("/api/v1")
	v1.Use(handler.PrincipalMiddleware(opts.JwtSecret))
	if opts.Idempotency != nil {
		v1.Use(handler.IdempotencyMiddleware(opts.Idempotency))
	}
	{
		// 协议相关路由
		agreementHandler := handler.NewAgreementHandler(opts.AgreementLogic)
		agreements := v1.Group("/agreements")
		{
			agreements.POST("", agreementHandler.CreateAgreement)
			agreements.GET("", agreementHandler.ListAgreements)
			agreements.GET("/:id", agreementHandler.GetAgreement)
			agreements.GET("/:id/vault", agreementHandler.GetVault)
			agreements.POST("/:id/participants", agreementHandler.AddParticipant)
			agreements.POST("/:id/milestones", agreementHandler.AddMilestone)
			agreements.PUT("/:id/milestones/:index/recipient", agreementHandler.SetRecipient)
			agreements.POST("/:id/milestones/:index/complete", agreementHandler.CompleteMilestone)
			agreements.POST("/:id/milestones/:index/release", agreementHandler.ReleasePayment)
			agreements.POST("/:id/fund", agreementHandler.FundVault)
			agreements.POST("/:id/activate", agreementHandler.Activate)
			agreements.POST("/:id/review", agreementHandler.SubmitForReview)
			agreements.POST("/:id/dispute", agreementHandler.FileDispute)
			agreements.POST("/:id/resolve", agreementHandler.ResolveDispute)
			agreements.POST("/:id/reclaim", agreementHandler.ReclaimFunds)
		}
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Principal, Idempotency-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
