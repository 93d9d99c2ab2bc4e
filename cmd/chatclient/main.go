package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/eventchat/internal/client"
	"github.com/npezzotti/eventchat/internal/protocol"
)

var (
	wsURL   string
	apiURL  string
	token   string
	userId  string
	eventId int
	history int
)

const usage = `commands:
  /typing             show a typing indicator until you go quiet
  /react <id> <emoji> react to a message
  /who                show who is typing
  /history            reprint the message list
  /quit               disconnect and exit
anything else is sent as a chat message`

func main() {
	logger := log.New(os.Stderr, "[eventchat-client] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil {
		logger.Println("no .env file found, using environment variables")
	}

	flag.StringVar(&wsURL, "ws", "ws://localhost:8000/ws", "websocket endpoint")
	flag.StringVar(&apiURL, "api", "http://localhost:8000", "REST base url")
	flag.StringVar(&token, "token", os.Getenv("EVENTCHAT_TOKEN"), "session token")
	flag.StringVar(&userId, "user", os.Getenv("EVENTCHAT_USER"), "user id carried by the token")
	flag.IntVar(&eventId, "event", 0, "event to join")
	flag.IntVar(&history, "history", 50, "number of past messages to load")
	flag.Parse()

	if token == "" || userId == "" || eventId <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	rest := client.NewAPI(apiURL, token)
	msgs := client.NewHistory()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	past, err := rest.FetchHistory(ctx, eventId, history)
	cancel()
	if err != nil {
		logger.Fatal("fetch history:", err)
	}
	msgs.Seed(past)
	printHistory(msgs)

	cfg := client.DefaultConfig()
	cfg.URL = wsURL
	cfg.Token = token
	cfg.UserId = userId

	session := client.NewSession(cfg, logger)
	session.OnStateChange(func(s client.State) {
		logger.Printf("connection %s", s)
	})
	session.OnMessage(func(f *protocol.Frame) {
		if msgs.Apply(f) && f.Type == protocol.TypeNewMessage {
			printMessage(f)
			return
		}
		printEvent(f)
	})

	session.OnReconnect(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		missed, err := msgs.Refresh(ctx, rest, eventId, history)
		if err != nil {
			logger.Println("refetch history:", err)
			return
		}
		for _, m := range missed {
			printMessage(protocol.NewMessage(&m))
		}
	})

	session.JoinEvent(eventId)
	session.Connect()
	defer session.Disconnect()

	typer := client.NewTyper(session, client.TypingIdle)
	defer typer.Stop()

	fmt.Println(usage)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case line == "/typing":
			typer.Keystroke()
		case line == "/who":
			fmt.Printf("typing: %s\n", strings.Join(session.TypingUsers(), ", "))
		case line == "/history":
			printHistory(msgs)
		case strings.HasPrefix(line, "/react "):
			react(rest, line)
		default:
			typer.Stop()
			if err := session.Send(protocol.ChatMessage(line, "", nil)); err != nil {
				fmt.Println("not sent:", err)
			}
		}
	}
}

func react(rest *client.API, line string) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		fmt.Println("usage: /react <id> <emoji>")
		return
	}
	messageId, err := strconv.Atoi(fields[1])
	if err != nil {
		fmt.Println("invalid message id:", fields[1])
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := rest.React(ctx, eventId, messageId, fields[2]); err != nil {
		fmt.Println("react:", err)
	}
}

func printHistory(h *client.History) {
	for _, m := range h.Messages() {
		printMessage(protocol.NewMessage(&m))
	}
}

func printMessage(f *protocol.Frame) {
	m := f.Message
	name := m.UserId
	if m.User != nil {
		name = m.User.DisplayName()
	}
	fmt.Printf("[%d %s] %s: %s\n", m.Id, m.CreatedAt.Local().Format("15:04"), name, m.Content)
}

func printEvent(f *protocol.Frame) {
	switch f.Type {
	case protocol.TypeUserJoined:
		fmt.Printf("* %s joined\n", f.Username)
	case protocol.TypeUserLeft:
		fmt.Printf("* %s left\n", f.Username)
	case protocol.TypeActiveUsers:
		fmt.Printf("* %d online\n", *f.Count)
	case protocol.TypeReactionUpdate:
		fmt.Printf("* reactions on %d: %v\n", f.MessageId, f.Reactions)
	case protocol.TypeUserTypingStart:
		fmt.Printf("* %s is typing\n", f.Username)
	}
}
