package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"esim-reseller/internal/config"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/repository"
	"esim-reseller/internal/infra/api"
	mydb "esim-reseller/internal/infra/db/mysql"
	pg "esim-reseller/internal/infra/db/postgres"
)

// seed loads a few package templates into the catalog mirror and prints
// bearer tokens for local testing.
func main() {
	// ---- Config ----
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var writer repository.PackageTemplateWriter
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mydb.Open(ctx, &cfg.Database)
		if err != nil {
			log.Fatalf("mysql: %v", err)
		}
		defer db.Close()
		writer = mydb.NewPackageTemplateRepo(db)
	default:
		pool, err := pg.NewPool(ctx, &cfg.Database)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		writer = pg.NewPackageTemplateRepo(pool)
	}

	const gb = int64(1) << 30
	seed := []model.PackageTemplate{
		{ID: "234593", Name: "Europe 5GB / 30d", ZoneID: "EU", DataBytes: 5 * gb, ValidityDays: 30, Price: decimal.RequireFromString("25.99")},
		{ID: "234594", Name: "Europe 1GB / 7d", ZoneID: "EU", DataBytes: gb, ValidityDays: 7, Price: decimal.RequireFromString("6.50")},
		{ID: "310020", Name: "Global 10GB / 30d", ZoneID: "WW", DataBytes: 10 * gb, ValidityDays: 30, Price: decimal.RequireFromString("59.00")},
	}
	for i := range seed {
		t := &seed[i]
		t.Currency = cfg.Orders.DefaultCurrency
		t.Active = true
		if err := writer.Upsert(ctx, repository.NoTX, t); err != nil {
			log.Fatalf("upsert template %s: %v", t.ID, err)
		}
		fmt.Printf("seeded: %s %q (%s, %d days, %s %s)\n", t.ID, t.Name, t.ZoneID, t.ValidityDays, t.Price.StringFixed(2), t.Currency)
	}

	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, 24*time.Hour)
	for _, who := range []struct{ id, role string }{{"dev-user", api.RoleUser}, {"dev-admin", api.RoleAdmin}} {
		tok, err := auth.Mint(who.id, who.role)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Printf("%s token (%s): %s\n", who.role, who.id, tok)
	}
	fmt.Println("Seeding complete.")
}
