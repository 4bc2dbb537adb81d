// ws_peer is an interactive signaling client. It joins a classroom and prints
// every message the relay delivers. Commands read from stdin:
//
//	hand        raise hand
//	lower       lower hand
//	offer <id>  send a dummy offer to a user
//	leave       leave the classroom
//	join        join again
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coder/websocket"

	"github.com/vovakirdan/meetrelay/internal/client"
	"github.com/vovakirdan/meetrelay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_peer: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws/meet", "meeting WebSocket address")
	classroom := flag.Int64("classroom", 1, "classroom id")
	user := flag.Int64("user", 1, "user id")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	c, err := client.Dial(ctx, *addr, *classroom, *user)
	if err != nil {
		return err
	}
	defer c.Close()

	ids, err := c.Join(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Connected to %s as user %d in classroom %d\n", *addr, *user, *classroom)
	fmt.Printf("Already here: %v\n", ids)

	go func() {
		defer cancel()
		readLoop(ctx, c)
	}()

	commandLoop(ctx, c)
	return nil
}

func readLoop(ctx context.Context, c *client.Client) {
	for {
		env, err := c.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch env.Type {
		case proto.TypeExistingParticipants:
			fmt.Printf("[classroom %d] already here: %v\n", env.ClassroomID, env.Participants)
		case proto.TypeParticipantLeft:
			fmt.Printf("[classroom %d] user %d left\n", env.ClassroomID, env.UserID)
		case proto.TypeRaiseHand:
			fmt.Printf("[classroom %d] user %d hand: %s\n", env.ClassroomID, env.FromUserID, env.Payload)
		default:
			fmt.Printf("[classroom %d] %s from %d: %s\n", env.ClassroomID, env.Type, env.FromUserID, env.Payload)
		}
	}
}

func commandLoop(ctx context.Context, c *client.Client) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := runCommand(ctx, c, strings.Fields(line)); err != nil {
				log.Printf("%v", err)
			}
		}
	}
}

func runCommand(ctx context.Context, c *client.Client, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "hand":
		return c.RaiseHand(ctx, true)
	case "lower":
		return c.RaiseHand(ctx, false)
	case "leave":
		return c.Leave(ctx)
	case "join":
		// The reply is printed by the read loop.
		return c.Send(ctx, proto.TypeJoin)
	case "offer":
		if len(fields) != 2 {
			return errors.New("usage: offer <user id>")
		}
		to, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad user id: %w", err)
		}
		return c.Signal(ctx, proto.TypeOffer, to, map[string]string{"type": "offer", "sdp": "v=0"})
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}
