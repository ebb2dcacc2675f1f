package handler

import (
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/audit"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/delivery"
	"github.com/xenking/marketplace/internal/domain/dispute"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/promotion"
	"github.com/xenking/marketplace/internal/domain/returns"
	"github.com/xenking/marketplace/internal/domain/review"
)

// list encodes items as a JSON array.
func list[T any](items []T, f func(e *jx.Encoder, v T)) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, v := range items {
				f(e, v)
			}
		})
	}
}

func one[T any](v T, f func(e *jx.Encoder, v T)) func(e *jx.Encoder) {
	return func(e *jx.Encoder) { f(e, v) }
}

func str(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func optStr(e *jx.Encoder, name, v string) {
	if v != "" {
		str(e, name, v)
	}
}

func integer(e *jx.Encoder, name string, v int) {
	e.Field(name, func(e *jx.Encoder) { e.Int(v) })
}

// money writes an amount as a JSON number with two decimals.
func money(e *jx.Encoder, name string, v decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { e.Num(jx.Num(v.StringFixed(2))) })
}

func timestamp(e *jx.Encoder, name string, t time.Time) {
	if t.IsZero() {
		e.Field(name, func(e *jx.Encoder) { e.Null() })
		return
	}
	str(e, name, t.UTC().Format(time.RFC3339))
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", p.ID)
		str(e, "sellerId", p.SellerID)
		str(e, "name", p.Name)
		money(e, "price", p.Price)
		str(e, "category", p.Category)
		str(e, "imageUrl", h.imageURL(p.ImageURL))
	})
}

// imageURL prefixes relative image paths with the configured base URL.
func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return h.imageBaseURL + path
}

func encodeCategory(e *jx.Encoder, c product.Category) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "name", c.Name)
		integer(e, "count", c.Count)
	})
}

func encodeCoupon(e *jx.Encoder, c coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", c.ID)
		str(e, "code", c.Code)
		str(e, "discountType", string(c.DiscountType))
		money(e, "value", c.Value)
		money(e, "minPurchase", c.MinPurchase)
		money(e, "maxDiscount", c.MaxDiscount)
		integer(e, "usageLimit", c.UsageLimit)
		integer(e, "usageCount", c.UsageCount)
		integer(e, "perUserLimit", c.PerUserLimit)
		timestamp(e, "startDate", c.StartDate)
		timestamp(e, "endDate", c.EndDate)
		str(e, "status", string(c.Status))
		optStr(e, "description", c.Description)
	})
}

func encodePromotion(e *jx.Encoder, p promotion.Promotion) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", p.ID)
		str(e, "name", p.Name)
		str(e, "discountType", string(p.DiscountType))
		str(e, "status", string(p.Status))
		integer(e, "priority", p.Priority)
		timestamp(e, "startDate", p.StartDate)
		timestamp(e, "endDate", p.EndDate)
		optStr(e, "condition", p.Condition)
		timestamp(e, "createdAt", p.CreatedAt)
	})
}

func encodeLink(e *jx.Encoder, l promotion.Link) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "promotionId", l.PromotionID)
		str(e, "productId", l.ProductID)
		money(e, "discountValue", l.DiscountValue)
		integer(e, "maxUsage", l.MaxUsage)
		integer(e, "usageCount", l.UsageCount)
		timestamp(e, "startDate", l.StartDate)
		timestamp(e, "endDate", l.EndDate)
	})
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", o.ID)
		str(e, "userId", o.UserID)
		str(e, "sellerId", o.SellerID)
		str(e, "status", string(o.Status))
		str(e, "paymentStatus", string(o.PaymentStatus))
		e.Field("items", list(o.Items, encodeOrderItem))
		money(e, "subtotal", o.Subtotal)
		money(e, "promotionDiscount", o.PromotionDiscount)
		money(e, "couponDiscount", o.CouponDiscount)
		money(e, "discounts", o.PromotionDiscount.Add(o.CouponDiscount))
		money(e, "total", o.Total)
		optStr(e, "couponCode", o.CouponCode)
		optStr(e, "deliveryPersonId", o.DeliveryPersonID)
		optStr(e, "deliveryLocation", o.DeliveryLocation)
		optStr(e, "cancelReason", o.CancelReason)
		timestamp(e, "createdAt", o.CreatedAt)
		timestamp(e, "updatedAt", o.UpdatedAt)
	})
}

func encodeOrderItem(e *jx.Encoder, it order.Item) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "productId", it.ProductID)
		integer(e, "quantity", it.Quantity)
		money(e, "unitPrice", it.UnitPrice)
		money(e, "discount", it.Discount)
		optStr(e, "promotionId", it.PromotionID)
	})
}

func encodePerson(e *jx.Encoder, p delivery.Person) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", p.ID)
		str(e, "name", p.Name)
		str(e, "status", string(p.Status))
		str(e, "currentLocation", p.CurrentLocation)
		integer(e, "deliveryCount", p.DeliveryCount)
		timestamp(e, "updatedAt", p.UpdatedAt)
	})
}

func encodeDispute(e *jx.Encoder, d dispute.Dispute) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", d.ID)
		str(e, "orderId", d.OrderID)
		str(e, "userId", d.UserID)
		str(e, "reason", d.Reason)
		optStr(e, "description", d.Description)
		str(e, "status", string(d.Status))
		optStr(e, "resolution", d.Resolution)
		optStr(e, "resolvedBy", d.ResolvedBy)
		timestamp(e, "resolvedAt", d.ResolvedAt)
		timestamp(e, "createdAt", d.CreatedAt)
		timestamp(e, "updatedAt", d.UpdatedAt)
		if d.Evidence != nil {
			e.Field("evidence", list(d.Evidence, encodeEvidence))
		}
	})
}

func encodeEvidence(e *jx.Encoder, ev dispute.Evidence) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", ev.ID)
		str(e, "disputeId", ev.DisputeID)
		str(e, "uploadedBy", ev.UploadedBy)
		str(e, "fileUrl", ev.FileURL)
		optStr(e, "description", ev.Description)
		str(e, "verificationStatus", string(ev.VerificationStatus))
		timestamp(e, "createdAt", ev.CreatedAt)
	})
}

func encodeReturn(e *jx.Encoder, r returns.Return) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", r.ID)
		str(e, "orderId", r.OrderID)
		str(e, "userId", r.UserID)
		str(e, "reason", r.Reason)
		money(e, "amount", r.Amount)
		str(e, "status", string(r.Status))
		timestamp(e, "createdAt", r.CreatedAt)
		timestamp(e, "updatedAt", r.UpdatedAt)
		if r.Refunds != nil {
			e.Field("refunds", list(r.Refunds, encodeRefund))
		}
	})
}

func encodeRefund(e *jx.Encoder, r returns.Refund) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", r.ID)
		str(e, "returnId", r.ReturnID)
		str(e, "orderId", r.OrderID)
		money(e, "amount", r.Amount)
		str(e, "method", r.Method)
		str(e, "status", string(r.Status))
		optStr(e, "processedBy", r.ProcessedBy)
		timestamp(e, "processedAt", r.ProcessedAt)
		timestamp(e, "createdAt", r.CreatedAt)
	})
}

func encodeReview(e *jx.Encoder, r review.Review) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", r.ID)
		str(e, "userId", r.UserID)
		e.Field("target", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				str(e, "kind", string(r.Target.Kind))
				str(e, "id", r.Target.ID)
			})
		})
		integer(e, "rating", r.Rating)
		optStr(e, "comment", r.Comment)
		timestamp(e, "createdAt", r.CreatedAt)
	})
}

func encodeAuditEntry(e *jx.Encoder, a audit.Entry) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", a.ID)
		str(e, "action", a.Action)
		str(e, "actorId", a.ActorID)
		str(e, "entityType", a.EntityType)
		str(e, "entityId", a.EntityID)
		optStr(e, "details", a.Details)
		timestamp(e, "createdAt", a.CreatedAt)
	})
}
