// Package main runs a demo WebSocket client: it submits a small run and
// prints the run's events as they stream in.
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
)

type event struct {
	Type  string         `json:"type"`
	RunID string         `json:"runId"`
	Data  map[string]any `json:"data"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Two stations and a commute between them
	body := []byte(`{
	  "region": "DEMO",
	  "stations": [{"x":0,"y":0},{"x":10,"y":0}],
	  "trips": [
	    {"originCounty":"DEMO","destCounty":"DEMO","origin":{"x":0,"y":0},"nodes":[{"pixel":{"x":10,"y":0},"riders":1}],"departSec":28800,"arriveSec":29520,"vehMiles":6},
	    {"originCounty":"DEMO","destCounty":"DEMO","origin":{"x":1,"y":0},"nodes":[{"pixel":{"x":10,"y":0},"riders":2}],"departSec":28900,"arriveSec":29548,"vehMiles":5.4},
	    {"originCounty":"DEMO","destCounty":"DEMO","origin":{"x":10,"y":0},"nodes":[{"pixel":{"x":0,"y":0},"riders":1}],"departSec":61200,"arriveSec":61920,"vehMiles":6}
	  ]
	}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer demo:analyst")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var run struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		log.Fatal(err)
	}
	if run.ID == "" {
		log.Fatalf("no run id (status %d)", resp.StatusCode)
	}
	log.Printf("Run ID: %s", run.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/runs/" + run.ID + "/events"}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer demo:viewer")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// the server closes the stream after the run finishes
	for {
		var evt event
		if err := c.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			log.Printf("read: %v", err)
			return
		}
		b, _ := json.Marshal(evt.Data)
		log.Printf("WS <- %s: %s", evt.Type, b)
	}
}
