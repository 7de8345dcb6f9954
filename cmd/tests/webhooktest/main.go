// Command webhooktest posts a signed gateway-style webhook to a running server,
// optionally several times to exercise replay handling.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/RankForge/server/internal/config"
	"github.com/RankForge/server/internal/httputil"
	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/internal/signature"
)

func main() {
	configPath := flag.String("config", "", "config yaml holding the cryptomus api key (env overrides apply)")
	target := flag.String("url", "http://localhost:8080/api/pay/cryptomus/webhook", "webhook endpoint")
	orderID := flag.String("order", "", "order id (random when empty)")
	invoice := flag.String("invoice", "", "gateway invoice uuid (random when empty)")
	amount := flag.String("amount", "10.00", "invoice amount")
	currency := flag.String("currency", "USD", "invoice currency")
	status := flag.String("status", "paid", "gateway payment status")
	userID := flag.String("user", "", "user_id for additional_data; empty omits the metadata")
	game := flag.String("game", "Valorant", "game for additional_data")
	service := flag.String("service", "Rank Boost", "service for additional_data")
	repeat := flag.Int("repeat", 1, "send the identical body this many times")
	tamper := flag.Bool("tamper", false, "alter the amount after signing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Cryptomus.APIKey == "" {
		log.Fatal("cryptomus api_key is not configured")
	}

	if *orderID == "" {
		*orderID = "test-" + uuid.NewString()[:8]
	}
	if *invoice == "" {
		*invoice = uuid.NewString()
	}

	payload := map[string]any{
		"type":     "payment",
		"uuid":     *invoice,
		"order_id": *orderID,
		"amount":   *amount,
		"currency": *currency,
		"status":   *status,
		"is_final": true,
	}
	if *userID != "" {
		meta, err := payments.AdditionalData{UserID: *userID, Game: *game, Service: *service}.Encode()
		if err != nil {
			log.Fatalf("encode additional_data: %v", err)
		}
		payload["additional_data"] = meta
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	body, err := signature.Attach(raw, cfg.Cryptomus.APIKey)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	if *tamper {
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		m["amount"] = "0.01"
		body, _ = json.Marshal(m)
	}

	client := httputil.NewClient(15 * time.Second)
	for i := 1; i <= *repeat; i++ {
		var resp map[string]any
		err := httputil.PostRaw(context.Background(), client, *target, nil, body, &resp)
		if err != nil {
			fmt.Printf("#%d order=%s error: %v\n", i, *orderID, err)
			continue
		}
		fmt.Printf("#%d order=%s status=%v\n", i, *orderID, resp["status"])
	}
}
