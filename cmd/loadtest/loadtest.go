// Command loadtest connects many relay clients and checks that every
// message reaches every client.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/johndosdos/relay/internal/config"
	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/internal/relayclient"
)

type result struct {
	sent     atomic.Int64
	fellBack atomic.Int64
	received atomic.Int64
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env file: %+v", err)
	}

	def := config.Default()
	if err := def.ApplyEnv(os.Getenv); err != nil {
		log.Fatalf("invalid environment: %v", err)
	}

	url := pflag.String("url", def.Client.RelayURL, "relay websocket URL")
	clients := pflag.IntP("clients", "n", 10, "number of concurrent relay clients")
	messages := pflag.IntP("messages", "m", 5, "messages sent by each client")
	timeout := pflag.Duration("timeout", 30*time.Second, "how long to wait for delivery")
	pflag.Parse()

	if *clients < 1 || *messages < 0 {
		log.Fatalf("need at least one client and a non-negative message count")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		res       result
		histories = make([]*relayclient.History, *clients)
		conns     = make([]*relayclient.Client, *clients)
		ready     sync.WaitGroup
	)

	ready.Add(*clients)
	for i := range conns {
		c, err := relayclient.New(relayclient.DefaultOptions(*url))
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer c.Close()

		h := &relayclient.History{}
		histories[i] = h
		conns[i] = c

		var once sync.Once
		c.OnMessage(h.Apply)
		c.OnMessage(func(f model.Frame) {
			if f.Type == model.MessageCreated {
				res.received.Add(1)
			}
		})
		c.OnConnectionChange(func(up bool) {
			if up {
				once.Do(ready.Done)
			}
		})
		c.Connect()
	}

	if !wait(ctx, &ready) {
		log.Fatalf("clients did not connect within %s", *timeout)
	}
	slog.Info("all clients connected", "clients", *clients)

	start := time.Now()
	var senders sync.WaitGroup
	for i, c := range conns {
		senders.Add(1)
		go func() {
			defer senders.Done()
			for j := 0; j < *messages; j++ {
				msg := model.Message{
					SenderID:   fmt.Sprintf("load-%d", i),
					ReceiverID: "load",
					Content:    fmt.Sprintf("message %d from client %d", j, i),
				}.WithDefaults(time.Now())
				if c.Send(model.NewMessage, msg) {
					res.sent.Add(1)
				} else {
					res.fellBack.Add(1)
				}
			}
		}()
	}
	senders.Wait()

	want := res.sent.Load() * int64(*clients)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for res.received.Load() < want {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			slog.Error("delivery incomplete",
				"want", want,
				"received", res.received.Load(),
				"elapsed", time.Since(start))
			os.Exit(1)
		}
	}

	slog.Info("load test finished",
		"clients", *clients,
		"sent", res.sent.Load(),
		"not_sent", res.fellBack.Load(),
		"delivered", res.received.Load(),
		"history_len", histories[0].Len(),
		"elapsed", time.Since(start))
}

func wait(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
