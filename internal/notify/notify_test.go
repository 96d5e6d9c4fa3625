package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordSender struct {
	name string
	got  []Message
	err  error
}

func (s *recordSender) Send(_ context.Context, msg Message) error {
	s.got = append(s.got, msg)
	return s.err
}

func (s *recordSender) Name() string { return s.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"purchase_succeeded", " order_taken "}, discard)

	ctx := context.Background()
	n.Notify(ctx, "purchase_succeeded", "Bought", "1:0xnft:7")
	n.Notify(ctx, "purchase_failed", "Failed", "1:0xnft:7")
	n.Notify(ctx, "order_taken", "Taken", "2:0xnft:8")

	if len(s.got) != 2 || s.got[1].Event != "order_taken" {
		t.Fatalf("delivered %+v", s.got)
	}
}

func TestNotifierJoinsFailures(t *testing.T) {
	bad := &recordSender{name: "bad", err: errors.New("503")}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard)

	err := n.Notify(context.Background(), "purchase_failed", "Failed", "reverted")
	if err == nil || !strings.Contains(err.Error(), "bad: 503") {
		t.Fatalf("err = %v", err)
	}
	if len(good.got) != 1 {
		t.Error("healthy sender skipped after a failure")
	}
}

func TestNotifierWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, discard)
	if n.Enabled() {
		t.Fatal("Enabled with no senders")
	}
	if err := n.Notify(context.Background(), "order_taken", "t", "m"); err != nil {
		t.Fatal(err)
	}
}

func TestTelegramSender(t *testing.T) {
	var path string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	if err := s.Send(context.Background(), Message{Title: "Bought <1>", Body: "a & b"}); err != nil {
		t.Fatal(err)
	}
	if path != "/bottok/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if payload["text"] != "<b>Bought &lt;1&gt;</b>\na &amp; b" || payload["chat_id"] != "42" {
		t.Errorf("payload = %v", payload)
	}
}

func TestDiscordSender(t *testing.T) {
	var payload struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), Message{Event: "purchase_failed", Title: "Failed", Body: "reverted"}); err != nil {
		t.Fatal(err)
	}
	if len(payload.Embeds) != 1 || payload.Embeds[0].Color != 0xe74c3c {
		t.Errorf("payload = %+v", payload)
	}

	status = http.StatusBadRequest
	if err := s.Send(context.Background(), Message{Title: "x"}); err == nil {
		t.Error("expected error on 400")
	}
}
