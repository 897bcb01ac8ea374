package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/mahaj/pulse-chat/pkg/client"
	"github.com/mahaj/pulse-chat/pkg/model"
)

// Smoke test against a running server: log in with the code printed in the
// server log, then list conversations and the newest page of each.
func main() {
	apiAddr := flag.String("api", "http://localhost:8080", "chat server address")
	email := flag.String("email", "test_user@example.com", "email to log in with")
	flag.Parse()

	ctx := context.Background()
	contact := model.Contact{Email: *email}
	api := client.NewAPI(*apiAddr, nil)

	if err := api.SendOTP(ctx, contact); err != nil {
		log.Fatal("send otp:", err)
	}
	var code string
	fmt.Print("otp: ")
	if _, err := fmt.Scanln(&code); err != nil {
		log.Fatal(err)
	}
	me, err := api.VerifyOTP(ctx, contact, code)
	if err != nil {
		log.Fatal("verify otp:", err)
	}
	fmt.Printf("Token: %s...\n", api.Token()[:10])
	fmt.Printf("User: %s verified=%v\n", me.ID, me.IsVerified)

	convs, err := api.Conversations(ctx)
	if err != nil {
		log.Fatal("conversations:", err)
	}
	for _, c := range convs {
		page, err := api.Messages(ctx, c.ID, 0)
		if err != nil {
			log.Fatalf("messages of %d: %v", c.ID, err)
		}
		fmt.Printf("conversation %d with %s: %d messages, unread %d, more=%v\n",
			c.ID, c.Other(me.ID), len(page.Messages), c.UnreadCount, page.HasMore)
	}
}
