// Command chatclient is a line-oriented TeamChat client. Lines typed on
// stdin are sent to the open channel; commands start with a slash:
//
//	/join <channel>   open a channel
//	/leave            close it
//	/older            load older history
//	/who              list online users
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/teamchat/chat-app/internal/auth"
	"github.com/teamchat/chat-app/internal/client"
	"github.com/teamchat/chat-app/internal/protocol"
)

func main() {
	config := client.DefaultDriverConfig()
	if v := os.Getenv("CHAT_URL"); v != "" {
		config.URL = v
	}
	config.Token = os.Getenv("CHAT_TOKEN")
	if config.Token == "" {
		// Development shortcut: mint a token with the server's secret.
		user := os.Getenv("CHAT_USER")
		if user == "" {
			log.Fatalf("set CHAT_TOKEN, or CHAT_USER with JWT_SECRET")
		}
		authConfig := auth.DefaultConfig()
		if v := os.Getenv("JWT_SECRET"); v != "" {
			authConfig.Secret = v
		}
		if v, ok := os.LookupEnv("JWT_ISSUER"); ok {
			authConfig.Issuer = v
		}
		token, err := auth.NewJWTVerifier(authConfig).IssueToken(user)
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		config.Token = token
	}

	var driver *client.Driver
	var session *client.Session
	session = client.NewSession(client.SessionConfig{
		PageSize:     50,
		ClientHeight: 24,
		Measure:      func(protocol.Message) float64 { return 1 },
		Commands:     func(c client.Command) { driver.Enqueue(c) },
		Notify:       func(n client.Notice) { render(session, n) },
	})
	driver = client.NewDriver(config, session)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ch := os.Getenv("CHAT_CHANNEL"); ch != "" {
		if err := session.Post(ctx, client.OpenChannel{ChannelID: ch}); err != nil {
			return
		}
	}

	// EOF on stdin ends the client. A blocked Scan is not waited for on signal.
	go func() {
		defer stop()
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			ev := parseLine(scanner.Text())
			if ev == nil {
				continue
			}
			if err := session.Post(ctx, ev); err != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Printf("chatclient: read stdin: %v", err)
		}
	}()

	if err := driver.Run(ctx); err != nil {
		log.Fatalf("chatclient: %v", err)
	}
}

func parseLine(line string) client.Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return client.SendText{Content: line}
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/join":
		if len(fields) < 2 {
			fmt.Println("usage: /join <channel>")
			return nil
		}
		return client.OpenChannel{ChannelID: fields[1]}
	case "/leave":
		return client.CloseChannel{}
	case "/older":
		return client.ScrollTo{Y: 0}
	case "/who":
		return client.RefreshPresence{}
	default:
		fmt.Printf("unknown command %s\n", fields[0])
		return nil
	}
}

// render runs on the session goroutine, so reading session state is safe.
func render(s *client.Session, n client.Notice) {
	switch n.Kind {
	case protocol.TypeOnlineUsers:
		fmt.Printf("* online: %s\n", strings.Join(s.Presence().List(), ", "))
	case protocol.TypeUserOnline:
		fmt.Printf("* %s is online\n", n.UserID)
	case protocol.TypeUserOffline:
		fmt.Printf("* %s went offline\n", n.UserID)
	case protocol.TypeNewMessage:
		fmt.Printf("[%s] %s: %s\n", n.Message.CreatedAt.Local().Format("15:04:05"), n.Message.SenderID, n.Message.Content)
	case protocol.TypeUserTyping:
		fmt.Printf("* %s is typing...\n", n.UserID)
	case protocol.TypePage:
		tl := s.Timeline()
		fmt.Printf("--- #%s: %d of %d messages loaded (more=%v) ---\n", tl.ChannelID(), tl.Len(), tl.Total(), tl.HasMore())
		for _, m := range tl.Messages() {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.SenderID, m.Content)
		}
	case protocol.TypeError:
		fmt.Printf("! %s: %s\n", n.Error.Code, n.Error.Message)
	}
}
