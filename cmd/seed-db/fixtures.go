package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/coupon"
)

type fixtures struct {
	Users      []userFixture      `yaml:"users"`
	Sellers    []sellerFixture    `yaml:"sellers"`
	Products   []productFixture   `yaml:"products"`
	Couriers   []courierFixture   `yaml:"couriers"`
	Coupons    []couponFixture    `yaml:"coupons"`
	Promotions []promotionFixture `yaml:"promotions"`
	APIKeys    []apiKeyFixture    `yaml:"apiKeys"`
}

type userFixture struct {
	ID    string    `yaml:"id"`
	Name  string    `yaml:"name"`
	Email string    `yaml:"email"`
	Role  auth.Role `yaml:"role"`
}

type sellerFixture struct {
	ID       string `yaml:"id"`
	UserID   string `yaml:"userId"`
	ShopName string `yaml:"shopName"`
}

type productFixture struct {
	ID       string          `yaml:"id"`
	SellerID string          `yaml:"sellerId"`
	Name     string          `yaml:"name"`
	Price    decimal.Decimal `yaml:"price"`
	Category string          `yaml:"category"`
	ImageURL string          `yaml:"imageUrl"`
}

type courierFixture struct {
	ID       string `yaml:"id"`
	UserID   string `yaml:"userId"`
	Name     string `yaml:"name"`
	Status   string `yaml:"status"`
	Location string `yaml:"location"`
}

type couponFixture struct {
	Code         string              `yaml:"code"`
	DiscountType coupon.DiscountType `yaml:"discountType"`
	Value        decimal.Decimal     `yaml:"value"`
	MinPurchase  decimal.Decimal     `yaml:"minPurchase"`
	MaxDiscount  decimal.Decimal     `yaml:"maxDiscount"`
	UsageLimit   int                 `yaml:"usageLimit"`
	PerUserLimit int                 `yaml:"perUserLimit"`
	// ValidFor is the window length starting at seed time.
	ValidFor    time.Duration `yaml:"validFor"`
	Description string        `yaml:"description"`
}

type promotionFixture struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	DiscountType string        `yaml:"discountType"`
	Priority     int           `yaml:"priority"`
	ValidFor     time.Duration `yaml:"validFor"`
	Condition    string        `yaml:"condition"`
	Products     []struct {
		ProductID string          `yaml:"productId"`
		Discount  decimal.Decimal `yaml:"discount"`
		MaxUsage  int             `yaml:"maxUsage"`
	} `yaml:"products"`
}

type apiKeyFixture struct {
	ID        string    `yaml:"id"`
	Key       string    `yaml:"key"`
	Name      string    `yaml:"name"`
	SubjectID string    `yaml:"subjectId"`
	Role      auth.Role `yaml:"role"`
	Scopes    []string  `yaml:"scopes"`
}

func parseFixtures(data []byte) (*fixtures, error) {
	var fx fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, errors.Wrap(err, "parse fixtures")
	}
	for _, u := range fx.Users {
		if !u.Role.Valid() {
			return nil, errors.Errorf("user %s: unknown role %q", u.ID, u.Role)
		}
	}
	for _, k := range fx.APIKeys {
		if !k.Role.Valid() {
			return nil, errors.Errorf("api key %s: unknown role %q", k.ID, k.Role)
		}
		if k.Key == "" {
			return nil, errors.Errorf("api key %s: key is required", k.ID)
		}
	}
	return &fx, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	upsertUserSQL = `INSERT INTO users (id, name, email, role) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role`

	upsertSellerSQL = `INSERT INTO sellers (id, user_id, shop_name) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET shop_name = EXCLUDED.shop_name`

	upsertProductSQL = `INSERT INTO products (id, seller_id, name, price, category, image_url) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
    category = EXCLUDED.category, image_url = EXCLUDED.image_url, active = TRUE`

	upsertCourierSQL = `INSERT INTO delivery_persons (id, user_id, name, status, current_location) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status,
    current_location = EXCLUDED.current_location, updated_at = NOW()`

	insertCouponSQL = `INSERT INTO coupons (id, code, discount_type, value, min_purchase, max_discount,
    usage_limit, per_user_limit, start_date, end_date, status, description)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT ((UPPER(code))) DO NOTHING`

	upsertPromotionSQL = `INSERT INTO promotions (id, name, discount_type, status, priority, start_date, end_date, condition)
VALUES ($1, $2, $3, 'active', $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, priority = EXCLUDED.priority,
    start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date, condition = EXCLUDED.condition`

	upsertPromotionProductSQL = `INSERT INTO promotion_products (promotion_id, product_id, discount_value, max_usage)
VALUES ($1, $2, $3, $4)
ON CONFLICT (promotion_id, product_id) DO UPDATE SET discount_value = EXCLUDED.discount_value, max_usage = EXCLUDED.max_usage`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, subject_id, role, scopes) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
    subject_id = EXCLUDED.subject_id, role = EXCLUDED.role, scopes = EXCLUDED.scopes, active = TRUE`
)

const defaultValidFor = 365 * 24 * time.Hour

// seed writes fx in dependency order: users before the rows that
// reference them.
func seed(ctx context.Context, db execer, fx *fixtures, pepper []byte) error {
	now := time.Now().UTC()

	for _, u := range fx.Users {
		if _, err := db.Exec(ctx, upsertUserSQL, u.ID, u.Name, u.Email, string(u.Role)); err != nil {
			return errors.Wrapf(err, "upsert user %s", u.ID)
		}
	}
	for _, s := range fx.Sellers {
		if _, err := db.Exec(ctx, upsertSellerSQL, s.ID, s.UserID, s.ShopName); err != nil {
			return errors.Wrapf(err, "upsert seller %s", s.ID)
		}
	}
	for _, p := range fx.Products {
		if _, err := db.Exec(ctx, upsertProductSQL, p.ID, p.SellerID, p.Name, p.Price, p.Category, p.ImageURL); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}
	for _, c := range fx.Couriers {
		status := c.Status
		if status == "" {
			status = "offline"
		}
		if _, err := db.Exec(ctx, upsertCourierSQL, c.ID, c.UserID, c.Name, status, c.Location); err != nil {
			return errors.Wrapf(err, "upsert courier %s", c.ID)
		}
	}
	slog.Info("accounts and catalog seeded",
		slog.Int("users", len(fx.Users)),
		slog.Int("products", len(fx.Products)),
		slog.Int("couriers", len(fx.Couriers)),
	)

	for _, f := range fx.Coupons {
		c, err := coupon.Build(coupon.CreateRequest{
			Code:         f.Code,
			DiscountType: f.DiscountType,
			Value:        f.Value,
			MinPurchase:  f.MinPurchase,
			MaxDiscount:  f.MaxDiscount,
			UsageLimit:   f.UsageLimit,
			PerUserLimit: f.PerUserLimit,
			EndDate:      now.Add(validFor(f.ValidFor)),
			Description:  f.Description,
		}, now)
		if err != nil {
			return errors.Wrapf(err, "coupon %s", f.Code)
		}
		if _, err := db.Exec(ctx, insertCouponSQL, c.ID, c.Code, string(c.DiscountType), c.Value, c.MinPurchase,
			c.MaxDiscount, c.UsageLimit, c.PerUserLimit, c.StartDate, c.EndDate, string(c.Status), c.Description); err != nil {
			return errors.Wrapf(err, "insert coupon %s", c.Code)
		}
		slog.Info("seeded coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	for _, p := range fx.Promotions {
		if _, err := db.Exec(ctx, upsertPromotionSQL, p.ID, p.Name, p.DiscountType, p.Priority,
			now, now.Add(validFor(p.ValidFor)), p.Condition); err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.ID)
		}
		for _, pp := range p.Products {
			if _, err := db.Exec(ctx, upsertPromotionProductSQL, p.ID, pp.ProductID, pp.Discount, pp.MaxUsage); err != nil {
				return errors.Wrapf(err, "link promotion %s to %s", p.ID, pp.ProductID)
			}
		}
		slog.Info("seeded promotion", slog.String("id", p.ID), slog.Int("products", len(p.Products)))
	}

	for _, k := range fx.APIKeys {
		scopes := k.Scopes
		if scopes == nil {
			scopes = []string{}
		}
		if _, err := db.Exec(ctx, upsertAPIKeySQL, k.ID, auth.HashKey(pepper, k.Key), k.Name, k.SubjectID,
			string(k.Role), scopes); err != nil {
			return errors.Wrapf(err, "upsert api key %s", k.ID)
		}
		slog.Info("seeded API key", slog.String("id", k.ID), slog.String("role", string(k.Role)))
	}
	return nil
}

func validFor(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultValidFor
	}
	return d
}
