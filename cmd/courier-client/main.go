package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/internal/syncagent"
)

// courier-client is the reference driver app: every mutating call goes
// through the sync agent, so it works offline and replays on reconnect.
//
//	courier-client accept <orderID> <driverID>
//	courier-client status <orderID> <STATUS> [driverID]
//	courier-client locate <driverID> <lat> <lng>
//	courier-client order <orderID>
//	courier-client drain
//	courier-client failed
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{})

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: courier-client <accept|status|locate|order|drain|failed> ...")
		os.Exit(2)
	}

	baseURL := getEnv("DISPATCH_URL", "http://localhost:8080/api")
	statePath := getEnv("COURIER_STATE", filepath.Join(os.TempDir(), "courier-client.db"))

	store, err := syncagent.OpenQueueStore(statePath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open local state store")
	}
	defer store.Close()

	agent := syncagent.New(syncagent.Config{
		BaseURL: baseURL,
		OnPermanentFailure: func(m syncagent.Mutation) {
			fmt.Printf("permanent failure: %s %s (%s)\n", m.Method, m.Endpoint, m.LastError)
		},
	}, store, logger)
	agent.SetOnline(getEnv("COURIER_OFFLINE", "") == "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, agent, os.Args[1], os.Args[2:]); err != nil {
		logger.WithError(err).Fatal("Command failed")
	}
}

func run(ctx context.Context, agent *syncagent.Agent, command string, args []string) error {
	switch command {
	case "accept":
		if len(args) != 2 {
			return fmt.Errorf("accept needs <orderID> <driverID>")
		}
		body, _ := json.Marshal(map[string]string{"driverId": args[1]})
		return agent.EnqueueOrSend(ctx, syncagent.Mutation{
			Method:   "POST",
			Endpoint: "/orders/" + args[0] + "/accept",
			Body:     body,
		})

	case "status":
		if len(args) < 2 {
			return fmt.Errorf("status needs <orderID> <STATUS> [driverID]")
		}
		payload := map[string]string{"status": args[1]}
		if len(args) > 2 {
			payload["driverId"] = args[2]
		}
		body, _ := json.Marshal(payload)
		return agent.EnqueueOrSend(ctx, syncagent.Mutation{
			Method:   "PATCH",
			Endpoint: "/orders/" + args[0],
			Body:     body,
		})

	case "locate":
		if len(args) != 3 {
			return fmt.Errorf("locate needs <driverID> <lat> <lng>")
		}
		lat, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return err
		}
		lng, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return err
		}
		body, _ := json.Marshal(map[string]interface{}{
			"location": map[string]interface{}{
				"lat":       lat,
				"lng":       lng,
				"timestamp": time.Now(),
			},
		})
		return agent.EnqueueOrSend(ctx, syncagent.Mutation{
			Method:   "POST",
			Endpoint: "/drivers/" + args[0] + "/location",
			Body:     body,
		})

	case "order":
		if len(args) != 1 {
			return fmt.Errorf("order needs <orderID>")
		}
		body, stale, err := agent.Get(ctx, "/orders/"+args[0])
		if err != nil {
			return err
		}
		if stale {
			fmt.Println("(cached, possibly stale)")
		}
		fmt.Println(string(body))
		return nil

	case "drain":
		return agent.Drain(ctx)

	case "failed":
		failed, err := agent.Failed()
		if err != nil {
			return err
		}
		if len(failed) == 0 {
			fmt.Println("no failed mutations")
			return nil
		}
		for _, m := range failed {
			fmt.Printf("%s %s key=%s retries=%d error=%s\n",
				m.Method, m.Endpoint, m.Key, m.Retries, m.LastError)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
