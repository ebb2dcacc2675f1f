//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListProducts(t *testing.T) {
	body := expect[[]productResponse](t, doGet(t, "/api/products"), http.StatusOK)

	if !body.Success {
		t.Fatal("expected success envelope")
	}
	if len(body.Data) != seededProducts {
		t.Fatalf("expected %d products, got %d", seededProducts, len(body.Data))
	}
	for _, p := range body.Data {
		if p.ID == "" || p.Name == "" || p.SellerID == "" {
			t.Errorf("incomplete product: %+v", p)
		}
		if p.Price <= 0 {
			t.Errorf("product %s: price must be positive, got %v", p.ID, p.Price)
		}
	}
}

func TestListProducts_ByCategory(t *testing.T) {
	body := expect[[]productResponse](t, doGet(t, "/api/products?category=Pastry"), http.StatusOK)

	if len(body.Data) != 2 {
		t.Fatalf("expected 2 pastries, got %d", len(body.Data))
	}
	for _, p := range body.Data {
		if p.Category != "Pastry" {
			t.Errorf("product %s: category %q", p.ID, p.Category)
		}
	}
}

func TestGetProduct(t *testing.T) {
	body := expect[productResponse](t, doGet(t, "/api/products/p-sourdough"), http.StatusOK)

	if body.Data.Name != "Sourdough Loaf" {
		t.Errorf("name: got %q", body.Data.Name)
	}
	if body.Data.Price != 6.5 {
		t.Errorf("price: got %v, want 6.5", body.Data.Price)
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	body := expect[any](t, doGet(t, "/api/products/nope"), http.StatusNotFound)

	if body.Success || body.Error != "not_found" {
		t.Errorf("unexpected envelope: %+v", body)
	}
}

func TestListCategories(t *testing.T) {
	body := expect[[]categoryResponse](t, doGet(t, "/api/categories"), http.StatusOK)

	counts := make(map[string]int)
	for _, c := range body.Data {
		counts[c.Name] = c.Count
	}
	if counts["Bread"] != 2 || counts["Pastry"] != 2 {
		t.Errorf("unexpected categories: %v", counts)
	}
}
