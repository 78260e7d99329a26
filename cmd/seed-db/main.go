// Command seed-db loads the product catalog and a bootstrap API key into the
// database. Product files may be plain JSON or gzip-compressed JSON.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/olamide-dev/orderflow/internal/repository"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Stock    int             `json:"stock"`
	ImageURL string          `json:"imageUrl"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		adminKey     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file (.json or .json.gz)")
	flag.StringVar(&apiKey, "api-key", "", "orders-scope API key to seed (or ORDERFLOW_SEED_API_KEY env)")
	flag.StringVar(&adminKey, "admin-key", "", "admin-scope API key to seed (or ORDERFLOW_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or ORDERFLOW_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("ORDERFLOW_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or ORDERFLOW_SEED_API_KEY")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("ORDERFLOW_SEED_ADMIN_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("ORDERFLOW_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, adminKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, adminKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedAPIKey(ctx, pool, "default", "Default orders key", apiKey, pepper, []string{"orders"}); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	if adminKey != "" {
		if err := seedAPIKey(ctx, pool, "admin", "Admin key", adminKey, pepper, []string{"orders", "admin"}); err != nil {
			return errors.Wrap(err, "seed admin key")
		}
	}

	return nil
}

const upsertProductSQL = `
INSERT INTO products (id, name, price, category, stock, image_url)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    name      = EXCLUDED.name,
    price     = EXCLUDED.price,
    category  = EXCLUDED.category,
    stock     = EXCLUDED.stock,
    image_url = EXCLUDED.image_url`

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	products, err := readProducts(productsFile)
	if err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		_, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Price, p.Category, p.Stock, p.ImageURL)
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func readProducts(path string) ([]productJSON, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer gz.Close()
		r = gz
	}

	var products []productJSON
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	return products, nil
}

const upsertAPIKeySQL = `
INSERT INTO api_keys (id, key_hash, name, scopes, active)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (id) DO UPDATE SET
    key_hash = EXCLUDED.key_hash,
    name     = EXCLUDED.name,
    scopes   = EXCLUDED.scopes,
    active   = TRUE`

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, id, name, key, pepper string, scopes []string) error {
	slog.Info("seeding API key", slog.String("id", id))

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if _, err := pool.Exec(ctx, upsertAPIKeySQL, id, keyHash, name, scopes); err != nil {
		return errors.Wrapf(err, "upsert API key %s", id)
	}

	slog.Info("upserted API key", slog.String("id", id), slog.String("name", name))
	return nil
}
