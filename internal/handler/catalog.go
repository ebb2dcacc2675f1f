package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/review"
)

// ListProducts returns active products, optionally filtered by ?category=.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Products.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "list products"))
		return
	}
	writeData(w, http.StatusOK, list(products, h.encodeProduct))
}

// GetProduct returns a single product by ID.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.GetByID(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "get product"))
		return
	}
	writeData(w, http.StatusOK, one(*p, h.encodeProduct))
}

// ListCategories returns product categories with their product counts.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Products.ListCategories(r.Context())
	if err != nil {
		writeError(r.Context(), w, errors.Wrap(err, "list categories"))
		return
	}
	if categories == nil {
		categories = []product.Category{}
	}
	writeData(w, http.StatusOK, list(categories, encodeCategory))
}

// ListReviews returns a page of reviews for ?kind=&id=.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	target, err := review.ParseTarget(q.Get("kind"), q.Get("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	reviews, err := h.Reviews.List(ctx, target, review.Page{Limit: limit, Offset: offset})
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "list reviews"))
		return
	}
	writeData(w, http.StatusOK, list(reviews, encodeReview))
}

// CreateReview stores the caller's review of a target.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		req      review.CreateRequest
		kind, id string
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "kind", "targetType":
			kind, err = readStr(d)
		case "id", "targetId":
			id, err = readStr(d)
		case "rating":
			req.Rating, err = readInt(d)
		case "comment":
			req.Comment, err = readStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.Target, err = review.ParseTarget(kind, id); err != nil {
		writeError(ctx, w, err)
		return
	}

	rv, err := h.Reviews.Create(ctx, principal(r), req)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "create review"))
		return
	}
	writeData(w, http.StatusCreated, one(*rv, encodeReview))
}
