package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, adminToken string) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", handler.Health)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOrder)
		r.Get("/{orderID}", handler.GetOrder)
	})
	r.Get("/users/{userID}/orders", handler.ListUserOrders)

	r.Post("/observe", handler.Observe)
	r.Get("/observe/ws", handler.ObserveWS)

	r.Route("/purchase", func(r chi.Router) {
		r.Post("/start", handler.StartWizard)
		r.Post("/input", handler.WizardInput)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth(adminToken))
		r.Get("/stats", handler.AdminStats)
		r.Get("/config/{key}", handler.AdminGetConfig)
		r.Put("/config/{key}", handler.AdminSetConfig)
		r.Post("/orders/{orderID}/mark-paid", handler.AdminMarkPaid)
		r.Post("/orders/{orderID}/mark-delivered", handler.AdminMarkDelivered)
		r.Post("/orders/{orderID}/retry-delivery", handler.AdminRetryDelivery)
	})

	return &Server{Router: r}
}
