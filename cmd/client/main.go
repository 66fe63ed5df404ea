package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/chatwire/chatwire/pkg/client"
	"github.com/chatwire/chatwire/pkg/protocol"
)

var (
	addr     = flag.String("addr", "localhost:8888", "Server address")
	username = flag.String("user", "", "Username (required)")
	password = flag.String("pass", "", "Password (required)")
)

func main() {
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("-user and -pass are required")
	}

	loggedIn := make(chan string, 1)

	cfg := client.DefaultConfig()
	cfg.Addr = *addr
	cfg.Username = *username
	cfg.Password = *password

	c := client.New(cfg, client.Handler{
		OnLogin: func(userID string) {
			select {
			case loggedIn <- userID:
			default:
			}
		},
		OnChat: func(msg *protocol.ChatMessage) {
			if msg.GroupID != "" {
				fmt.Printf("\n[%s] %s: %s\n> ", msg.GroupID, msg.From, msg.Content)
				return
			}
			fmt.Printf("\n%s: %s\n> ", msg.From, msg.Content)
		},
		OnNotify: func(msg *protocol.ChatMessage) {
			fmt.Printf("\n* %s\n> ", msg.Content)
		},
		OnError: func(msg *protocol.ChatMessage) {
			fmt.Printf("\n! %s\n> ", msg.Content)
		},
	})

	if err := c.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Shutdown()

	userID := <-loggedIn
	fmt.Printf("logged in as %s (%s)\n", *username, userID)
	fmt.Println("commands: chat <userId> <text> | group <groupId> <text> | exit")

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "exit":
			return
		case strings.HasPrefix(line, "chat "):
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 3 {
				fmt.Println("usage: chat <userId> <text>")
				break
			}
			if _, err := c.SendChat(parts[1], parts[2]); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		case strings.HasPrefix(line, "group "):
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 3 {
				fmt.Println("usage: group <groupId> <text>")
				break
			}
			if _, err := c.SendGroup(parts[1], parts[2]); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		default:
			fmt.Println("unknown command")
		}
		fmt.Print("> ")
	}
}
