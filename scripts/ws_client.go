// Package main queues a run from a problem file and tails its WebSocket event stream.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"fleetroute/internal/model"
	"fleetroute/internal/problem"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	host := pflag.String("host", "localhost:"+port, "API host:port")
	tenant := pflag.String("tenant", "t_demo", "tenant id")
	path := pflag.String("problem", "internal/problem/testdata/cvrp.yaml", "problem document (.json or .yaml)")
	pflag.Parse()

	doc, err := problem.DecodeFile(*path)
	if err != nil {
		log.Fatal(err)
	}
	body, _ := json.Marshal(model.RunRequest{Problem: doc})
	req, _ := http.NewRequest(http.MethodPost, "http://"+*host+"/v1/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", *tenant)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		var p map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&p)
		log.Fatalf("create run: %s %v", resp.Status, p)
	}
	var created model.RunCreated
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		log.Fatal(err)
	}
	log.Printf("Run ID: %s", created.ID)

	u := url.URL{Scheme: "ws", Host: *host, Path: "/v1/runs/" + created.ID + "/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", *tenant)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	for {
		var ev model.RunEvent
		if err := c.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("read: %v", err)
			}
			return
		}
		switch ev.Type {
		case model.EventRunProgress:
			fmt.Printf("%s iteration=%d objective=%d unserved=%d\n", ev.Type, ev.Iteration, ev.Objective, ev.Unserved)
		case model.EventRunSucceeded:
			fmt.Printf("%s status=%s objective=%d unserved=%d\n", ev.Type, ev.Status, ev.Objective, ev.Unserved)
		case model.EventRunFailed:
			fmt.Printf("%s error=%s\n", ev.Type, ev.Error)
		default:
			fmt.Println(ev.Type)
		}
	}
}
