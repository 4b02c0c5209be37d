package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/park285/chess-wager/pkg/wagerdto"
	"github.com/valyala/fasthttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func main() {
	baseURL := strings.TrimRight(os.Getenv("WAGER_BASE_URL"), "/")
	wsURL := os.Getenv("WAGER_WS_URL")
	token := os.Getenv("WAGER_TOKEN")
	userID := os.Getenv("WAGER_USER_ID")

	if baseURL == "" {
		log.Fatal("WAGER_BASE_URL is required")
	}

	client := &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	req.SetRequestURI(baseURL + "/healthz")
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := client.DoTimeout(req, resp, 5*time.Second); err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Printf("/healthz status=%d body=%s", resp.StatusCode(), resp.Body())
	}
	fasthttp.ReleaseRequest(req)
	fasthttp.ReleaseResponse(resp)

	if wsURL == "" {
		log.Println("WAGER_WS_URL not set; skipping WS check")
		return
	}

	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	if userID != "" {
		hdr.Set("X-User-ID", userID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, c, wagerdto.Frame{Type: wagerdto.EventPing, Data: json.RawMessage(`{}`)}); err != nil {
		log.Printf("WS ping error: %v", err)
		return
	}
	// 서버가 방 이벤트를 먼저 보낼 수 있으니 pong이 올 때까지 읽는다
	for {
		var f wagerdto.Frame
		if err := wsjson.Read(ctx, c, &f); err != nil {
			log.Printf("WS read error: %v (close status %d)", err, websocket.CloseStatus(err))
			return
		}
		log.Printf("WS frame type=%s data=%s", f.Type, f.Data)
		if f.Type == wagerdto.EventPong {
			log.Println("WS ok")
			return
		}
	}
}
