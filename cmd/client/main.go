package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cbodonnell/flywheel-exchange/pkg/log"
	"github.com/cbodonnell/flywheel-exchange/pkg/messages"
	"github.com/cbodonnell/flywheel-exchange/pkg/version"
	"nhooyr.io/websocket"
)

const usage = `usage: client [flags] feed
       client [flags] exchange <amulets|filled-amulets|currencies|items|ships> <json>`

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Exchange server URL")
	token := flag.String("token", os.Getenv("EXCHANGE_TOKEN"), "Firebase ID token")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	log.SetDefaultLogger(log.New(os.Stderr, "", log.DefaultLoggerFlag, parsedLogLevel))
	log.Debug("Starting client version %s", version.Get())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	switch {
	case len(args) == 1 && args[0] == "feed":
		err = tailFeed(ctx, *serverURL, *token)
	case len(args) == 3 && args[0] == "exchange":
		err = postExchange(ctx, *serverURL, *token, args[1], args[2])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

// tailFeed prints every receipt of the caller's account as a JSON line.
func tailFeed(ctx context.Context, serverURL string, token string) error {
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/exchange/feed"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(messages.MessageBufferSize)
	log.Info("Connected to %s", url)

	encoder := json.NewEncoder(os.Stdout)
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("failed to read from feed: %v", err)
		}

		msg, err := messages.DeserializeMessage(frame)
		if err != nil {
			log.Warn("Skipping frame: %v", err)
			continue
		}
		receipt, err := messages.DeserializeReceipt(msg)
		if err != nil {
			log.Warn("Skipping message: %v", err)
			continue
		}
		if err := encoder.Encode(receipt); err != nil {
			return fmt.Errorf("failed to print receipt: %v", err)
		}
	}
}

func postExchange(ctx context.Context, serverURL string, token string, operation string, body string) error {
	if !json.Valid([]byte(body)) {
		return fmt.Errorf("request body is not valid JSON")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/exchange/"+operation, bytes.NewBufferString(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %v", err)
	}
	defer res.Body.Close()

	if _, err := io.Copy(os.Stdout, res.Body); err != nil {
		return fmt.Errorf("failed to read response: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange failed with status %d", res.StatusCode)
	}
	return nil
}
