package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/mahaj/pulse-chat/pkg/client"
	"github.com/mahaj/pulse-chat/pkg/model"
)

func printFrame(f client.Frame) {
	switch f.Event {
	case model.EventMessageRecv:
		var m model.Message
		if json.Unmarshal(f.Data, &m) == nil {
			fmt.Printf("\r%s: %s\n> ", m.Sender.Username, m.Content)
		}
	case model.EventUserTyping:
		var p model.UserTypingPayload
		if json.Unmarshal(f.Data, &p) == nil && p.IsTyping {
			fmt.Printf("\rUser %s is typing...      \n> ", p.UserID)
		}
	case model.EventStatusUpdate:
		var p model.StatusUpdatePayload
		if json.Unmarshal(f.Data, &p) == nil {
			fmt.Printf("\r[%d %s]\n> ", p.MessageID, p.Status)
		}
	case model.EventUserStatus:
		var p model.UserStatusPayload
		if json.Unmarshal(f.Data, &p) == nil {
			state := "offline"
			if p.IsOnline {
				state = "online"
			}
			fmt.Printf("\r%s is %s\n> ", p.UserID, state)
		}
	}
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8080", "chat server address")
	wsAddr := flag.String("ws", "ws://localhost:8080/ws", "websocket address")
	email := flag.String("email", "", "email to log in with")
	peer := flag.String("to", "", "user id to chat with")
	flag.Parse()
	if *email == "" || *peer == "" {
		log.Fatal("-email and -to are required")
	}

	ctx := context.Background()
	contact := model.Contact{Email: *email}
	api := client.NewAPI(*apiAddr, nil)
	if err := api.SendOTP(ctx, contact); err != nil {
		log.Fatal("send otp:", err)
	}

	stdin := bufio.NewScanner(os.Stdin)
	fmt.Print("otp: ")
	if !stdin.Scan() {
		return
	}

	sess := client.NewSession(api, *wsAddr, nil)
	sess.OnEvent = printFrame
	me, err := sess.Login(ctx, contact, strings.TrimSpace(stdin.Text()))
	if err != nil {
		log.Fatal("login:", err)
	}
	log.Printf("logged in as %s (%s)", me.ID, me.Email)

	var conversationID int64
	if convs, err := api.Conversations(ctx); err == nil {
		for _, c := range convs {
			if c.HasParticipant(*peer) {
				conversationID = c.ID
			}
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	done := make(chan struct{})

	go func() {
		defer close(done)
		fmt.Print("> ")
		for stdin.Scan() {
			text := stdin.Text()
			switch {
			case text == "":
			case text == "/quit":
				return
			case text == "/typing":
				if err := sess.Conn().StartTyping(model.TypingPayload{ConversationID: conversationID, ReceiverID: *peer}); err != nil {
					log.Println("typing:", err)
				}
			case text == "/read":
				if err := sess.View(conversationID); err != nil {
					log.Println("read:", err)
				}
			case text == "/status":
				st, err := sess.Conn().UserStatus(ctx, *peer)
				if err != nil {
					log.Println("status:", err)
					break
				}
				fmt.Printf("%s online=%v lastSeen=%v\n", st.UserID, st.IsOnline, st.LastSeen)
			default:
				m, err := sess.Send(ctx, model.UserRef{ID: *peer}, conversationID, text, nil)
				if client.IsThrottled(err) {
					fmt.Println("slow down")
				} else if err != nil {
					log.Println("send:", err)
				} else {
					conversationID = m.ConversationID
				}
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
	case <-sess.Conn().Done():
		log.Println("connection closed")
	}
	if err := sess.Logout(context.Background()); err != nil {
		log.Println("logout:", err)
	}
}
