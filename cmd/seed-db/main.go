// Command seed-db loads the demo catalog, launch promotions, and test API
// keys into a PostgreSQL database. It is idempotent: rerunning updates rows
// in place.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/trminh/vnshop/internal/storage/postgres"
)

type variantJSON struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Stock    int             `json:"stock"`
	Variants []variantJSON   `json:"variants"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		customerKey  string
		staffKey     string
		pepper       string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&customerKey, "customer-key", "", "customer API key to seed (or VNSHOP_SEED_CUSTOMER_KEY env)")
	flag.StringVar(&staffKey, "staff-key", "", "staff API key to seed (or VNSHOP_SEED_STAFF_KEY env)")
	flag.StringVar(&pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or VNSHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if customerKey == "" {
		customerKey = os.Getenv("VNSHOP_SEED_CUSTOMER_KEY")
	}
	if staffKey == "" {
		staffKey = os.Getenv("VNSHOP_SEED_STAFF_KEY")
	}
	if customerKey == "" || staffKey == "" {
		slog.Error("API keys are required: set --customer-key/--staff-key or the VNSHOP_SEED_*_KEY envs")
		os.Exit(1)
	}
	if pepper == "" {
		pepper = os.Getenv("VNSHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, customerKey, staffKey, pepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, customerKey, staffKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedPromotions(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	if err := seedAPIKey(ctx, pool, "customer-demo", "Demo storefront key", customerKey, pepper, []string{"orders:write"}); err != nil {
		return errors.Wrap(err, "seed customer api key")
	}
	if err := seedAPIKey(ctx, pool, "staff-demo", "Demo staff key", staffKey, pepper, []string{"staff"}); err != nil {
		return errors.Wrap(err, "seed staff api key")
	}

	return nil
}

const upsertProductSQL = `
INSERT INTO products (id, name, price, category, stock)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, price = EXCLUDED.price, category = EXCLUDED.category, stock = EXCLUDED.stock`

const upsertVariantSQL = `
INSERT INTO product_variants (id, product_id, name, price, stock)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock`

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Category, p.Stock); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		for _, v := range p.Variants {
			if _, err := pool.Exec(ctx, upsertVariantSQL, v.ID, p.ID, v.Name, v.Price, v.Stock); err != nil {
				return errors.Wrapf(err, "upsert variant %s", v.ID)
			}
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.Int("variants", len(p.Variants)))
	}

	return nil
}

const upsertPromotionSQL = `
INSERT INTO promotions (code, discount_type, discount_value, max_discount_amount, min_order_amount, start_date, end_date, usage_limit, active, description)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9)
ON CONFLICT (code) DO UPDATE
SET discount_type = EXCLUDED.discount_type,
    discount_value = EXCLUDED.discount_value,
    max_discount_amount = EXCLUDED.max_discount_amount,
    min_order_amount = EXCLUDED.min_order_amount,
    start_date = EXCLUDED.start_date,
    end_date = EXCLUDED.end_date,
    usage_limit = EXCLUDED.usage_limit,
    active = EXCLUDED.active,
    description = EXCLUDED.description`

func seedPromotions(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding launch promotions")

	now := time.Now()
	monthEnd := now.AddDate(0, 1, 0)

	promos := []struct {
		code        string
		kind        string
		value       decimal.Decimal
		maxDiscount *decimal.Decimal
		minOrder    decimal.Decimal
		start, end  *time.Time
		usageLimit  *int
		description string
	}{
		{
			code:        "CHAOMUNG10",
			kind:        "percentage",
			value:       decimal.NewFromInt(10),
			maxDiscount: ptr(decimal.NewFromInt(50_000)),
			minOrder:    decimal.NewFromInt(200_000),
			start:       &now,
			end:         &monthEnd,
			description: "Chào mừng: giảm 10%, tối đa 50.000đ",
		},
		{
			code:        "FREESHIP30",
			kind:        "fixed",
			value:       decimal.NewFromInt(30_000),
			minOrder:    decimal.NewFromInt(300_000),
			usageLimit:  ptr(1000),
			description: "Trừ thẳng 30.000đ phí vận chuyển",
		},
	}

	for _, p := range promos {
		if _, err := pool.Exec(ctx, upsertPromotionSQL,
			p.code, p.kind, p.value, p.maxDiscount, p.minOrder, p.start, p.end, p.usageLimit, p.description,
		); err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.code)
		}

		slog.Info("upserted promotion", slog.String("code", p.code), slog.String("description", p.description))
	}

	return nil
}

const upsertAPIKeySQL = `
INSERT INTO api_keys (id, key_hash, name, scopes, active)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (id) DO UPDATE
SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name, scopes = EXCLUDED.scopes, active = EXCLUDED.active`

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, id, name, key, pepper string, scopes []string) error {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if _, err := pool.Exec(ctx, upsertAPIKeySQL, id, keyHash, name, scopes); err != nil {
		return errors.Wrapf(err, "upsert API key %s", id)
	}

	slog.Info("upserted API key", slog.String("id", id), slog.String("name", name))

	return nil
}

func ptr[T any](v T) *T { return &v }
