// Package handler exposes the marketplace over HTTP. Every response under
// /api uses the JSON envelope {success, data?, message?, error?}.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/marketplace/internal/domain/audit"
	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/delivery"
	"github.com/xenking/marketplace/internal/domain/dispute"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/promotion"
	"github.com/xenking/marketplace/internal/domain/returns"
	"github.com/xenking/marketplace/internal/domain/review"
)

// CouponValidator checks a coupon against a purchase amount.
type CouponValidator interface {
	Validate(ctx context.Context, req coupon.ValidateRequest) (*coupon.Result, error)
}

// CouponAdmin manages coupons.
type CouponAdmin interface {
	Create(ctx context.Context, actorID string, req coupon.CreateRequest) (*coupon.Coupon, error)
	List(ctx context.Context) ([]coupon.Coupon, error)
	SetStatus(ctx context.Context, actorID, code string, status coupon.Status) error
}

// PromotionAdmin manages promotions.
type PromotionAdmin interface {
	Create(ctx context.Context, actorID string, req promotion.CreateRequest) (*promotion.Promotion, error)
	Get(ctx context.Context, id string) (*promotion.Promotion, error)
	List(ctx context.Context) ([]promotion.Promotion, error)
	LinkProduct(ctx context.Context, actorID, promotionID string, req promotion.LinkRequest) (*promotion.Link, error)
	Transition(ctx context.Context, actorID, id string, action promotion.Action) (*promotion.Promotion, error)
}

// Orders runs checkout and the order lifecycle.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	Get(ctx context.Context, actor auth.Principal, id string) (*order.Order, error)
	List(ctx context.Context, actor auth.Principal, limit, offset int) ([]order.Order, error)
	Transition(ctx context.Context, actor auth.Principal, req order.TransitionRequest) (*order.Order, error)
	UpdatePaymentStatus(ctx context.Context, actor auth.Principal, id string, target order.PaymentStatus) (*order.Order, error)
}

// Delivery runs the delivery person lifecycle.
type Delivery interface {
	Get(ctx context.Context, id string) (*delivery.Person, error)
	SetStatus(ctx context.Context, personID string, target delivery.Status, location string) (*delivery.Person, error)
	Assign(ctx context.Context, actor auth.Principal, req delivery.AssignRequest) (*order.Order, error)
	UpdateOrderStatus(ctx context.Context, personID string, req delivery.OrderStatusRequest) (*order.Order, error)
}

// Disputes runs the dispute workflow.
type Disputes interface {
	Open(ctx context.Context, actor auth.Principal, req dispute.OpenRequest) (*dispute.Dispute, error)
	Get(ctx context.Context, actor auth.Principal, id string) (*dispute.Dispute, error)
	List(ctx context.Context, actor auth.Principal, status dispute.Status) ([]dispute.Dispute, error)
	AddEvidence(ctx context.Context, actor auth.Principal, disputeID string, req dispute.EvidenceRequest) (*dispute.Evidence, error)
	Review(ctx context.Context, actor auth.Principal, id string) (*dispute.Dispute, error)
	Resolve(ctx context.Context, actor auth.Principal, id, resolution string) (*dispute.Dispute, error)
	Close(ctx context.Context, actor auth.Principal, id, note string) (*dispute.Dispute, error)
	VerifyEvidence(ctx context.Context, actor auth.Principal, disputeID, evidenceID string, verdict dispute.EvidenceStatus) (*dispute.Evidence, error)
}

// Returns runs the return and refund workflow.
type Returns interface {
	RequestReturn(ctx context.Context, actor auth.Principal, req returns.ReturnRequest) (*returns.Return, error)
	Get(ctx context.Context, actor auth.Principal, id string) (*returns.Return, error)
	List(ctx context.Context, actor auth.Principal, status returns.Status) ([]returns.Return, error)
	Transition(ctx context.Context, actor auth.Principal, id string, action returns.Action) (*returns.Return, error)
	CreateRefund(ctx context.Context, actor auth.Principal, returnID string, req returns.RefundRequest) (*returns.Refund, error)
	TransitionRefund(ctx context.Context, actor auth.Principal, id string, action returns.RefundAction) (*returns.Refund, error)
}

// Reviews stores and lists reviews.
type Reviews interface {
	Create(ctx context.Context, actor auth.Principal, req review.CreateRequest) (*review.Review, error)
	List(ctx context.Context, t review.Target, p review.Page) ([]review.Review, error)
}

// AuditLog reads the system log.
type AuditLog interface {
	List(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Idempotency remembers checkout results by client key.
type Idempotency interface {
	Claim(ctx context.Context, key string) (result string, claimed bool, err error)
	Complete(ctx context.Context, key, result string) error
	Release(ctx context.Context, key string) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
}

// Deps are the services behind the HTTP API. Idempotency may be nil, which
// disables Idempotency-Key handling.
type Deps struct {
	Products    product.Repository
	Validator   CouponValidator
	Coupons     CouponAdmin
	Promotions  PromotionAdmin
	Orders      Orders
	Delivery    Delivery
	Disputes    Disputes
	Returns     Returns
	Reviews     Reviews
	Audit       AuditLog
	Idempotency Idempotency
	Auth        *Authenticator
}

// Handler serves the /api routes.
type Handler struct {
	Deps
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg Config, deps Deps) *Handler {
	return &Handler{
		Deps:         deps,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes returns the router to mount under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)
	if h.Auth != nil {
		r.Use(h.Auth.Middleware)
	}

	// Public catalog.
	r.Get("/products", h.ListProducts)
	r.Get("/products/{id}", h.GetProduct)
	r.Get("/categories", h.ListCategories)
	r.Get("/reviews", h.ListReviews)
	r.Post("/coupons/validate", h.ValidateCoupon)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth)

		r.Post("/reviews", h.CreateReview)

		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/status", h.TransitionOrder)
		r.Post("/orders/{id}/payment", h.UpdatePayment)

		r.Post("/disputes", h.OpenDispute)
		r.Get("/disputes", h.ListDisputes)
		r.Get("/disputes/{id}", h.GetDispute)
		r.Post("/disputes/{id}/evidence", h.AddEvidence)
		r.Post("/disputes/{id}/review", h.ReviewDispute)
		r.Post("/disputes/{id}/resolve", h.ResolveDispute)
		r.Post("/disputes/{id}/close", h.CloseDispute)
		r.Put("/disputes/{id}/evidence/{eid}", h.VerifyEvidence)

		r.Post("/returns", h.RequestReturn)
		r.Get("/returns", h.ListReturns)
		r.Get("/returns/{id}", h.GetReturn)
		r.Post("/returns/{id}/refunds", h.CreateRefund)
		r.Post("/returns/{id}/{action}", h.TransitionReturn)
		r.Post("/refunds/{id}/{action}", h.TransitionRefund)

		r.Post("/delivery/assign", h.AssignDelivery)
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(auth.RoleDelivery))
			r.Get("/delivery/me", h.GetCourier)
			r.Put("/delivery/status", h.SetCourierStatus)
			r.Put("/delivery/order-status", h.UpdateDeliveryStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(auth.RoleAdmin))
			r.Post("/coupons", h.CreateCoupon)
			r.Get("/coupons", h.ListCoupons)
			r.Put("/coupons/{code}/status", h.SetCouponStatus)

			r.Post("/promotions", h.CreatePromotion)
			r.Get("/promotions", h.ListPromotions)
			r.Get("/promotions/{id}", h.GetPromotion)
			r.Post("/promotions/{id}/products", h.LinkPromotionProduct)
			r.Post("/promotions/{id}/{action}", h.TransitionPromotion)

			r.Get("/admin/logs", h.ListAuditLog)
		})
	})

	return r
}

// pathParam returns a chi URL parameter.
func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}
