package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acnewman/deskbridge/internal/app"
	iauth "github.com/acnewman/deskbridge/internal/auth"
	"github.com/acnewman/deskbridge/internal/handlers"
	"github.com/acnewman/deskbridge/internal/middleware"
	"github.com/acnewman/deskbridge/internal/services"
	"github.com/acnewman/deskbridge/internal/web"
)

// Deps bundles the collaborators the router wires into handlers.
type Deps struct {
	Config        *app.Config
	Handshake     *iauth.HandshakeStore
	JWT           *iauth.JWTService
	Users         *services.UserService
	Registrations *services.RegistrationService
	PaymentsReady bool
}

// NewRouter builds the Gin engine, wires middleware, templates, and routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Handshake == nil {
		return nil, fmt.Errorf("handshake store must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user service must be provided")
	}
	if deps.Registrations == nil {
		return nil, fmt.Errorf("registration service must be provided")
	}

	r := gin.New()
	r.SetHTMLTemplate(web.Templates())

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(100, time.Minute))

	r.NoRoute(middleware.NotFoundHandler)

	r.GET("/health", handlers.Health())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handshakeHandler := handlers.NewHandshakeHandler(deps.Handshake, deps.Users, deps.JWT)
	if deps.Config.Seed.Enabled {
		handshakeHandler.PrefillEmail = deps.Config.Seed.Email
	}

	registrationHandler := handlers.NewRegistrationHandler(
		deps.Registrations,
		deps.Config.Server.BaseURL,
		deps.PaymentsReady,
	)

	desktop := r.Group("/desktop")
	{
		desktop.GET("/login", handshakeHandler.LoginPage)
		desktop.POST("/login", handshakeHandler.LoginSubmit)

		register := desktop.Group("/register")
		{
			register.GET("", registrationHandler.DataPage)
			register.POST("", registrationHandler.DataSubmit)
			register.GET("/email", registrationHandler.EmailPage)
			register.POST("/email", registrationHandler.EmailSubmit)
			register.GET("/2fa", registrationHandler.SecondFactorPage)
			register.POST("/2fa", registrationHandler.SecondFactorSubmit)
			register.GET("/payment", registrationHandler.PaymentPage)
			register.POST("/payment", registrationHandler.PaymentSubmit)
			register.GET("/payment/success", registrationHandler.PaymentSuccess)
			register.GET("/review", registrationHandler.ReviewPage)
			register.POST("/complete", registrationHandler.Complete)
			register.GET("/cancel", registrationHandler.Cancel)
		}
	}

	auth := r.Group("/api/auth")
	{
		auth.POST("/desktop/exchange", handshakeHandler.Exchange)
		auth.GET("/me", middleware.Auth(deps.JWT), handshakeHandler.Me)
	}

	return r, nil
}
