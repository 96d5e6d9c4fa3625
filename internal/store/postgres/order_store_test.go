package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

func TestOrderWhere(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		q     domain.OrderQuery
		want  string
		nargs int
	}{
		{"empty", domain.OrderQuery{}, "", 0},
		{
			"token and states",
			domain.OrderQuery{SignerToken: "0xABC", States: []domain.OrderState{domain.OrderStateOpen}},
			" WHERE lower(signer_token) = lower($1) AND state = ANY($2)",
			2,
		},
		{
			"search and since",
			domain.OrderQuery{Search: "1_0", ListOpts: domain.ListOpts{Since: &since, Limit: 5}},
			" WHERE signer_id LIKE $1 AND first_seen_at >= $2",
			2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args := orderWhere(tt.q)
			if got != tt.want {
				t.Fatalf("where = %q, want %q", got, tt.want)
			}
			if len(args) != tt.nargs {
				t.Fatalf("args = %v", args)
			}
		})
	}

	_, args := orderWhere(domain.OrderQuery{Search: "1_0%"})
	if args[0] != `1\_0\%%` {
		t.Fatalf("search arg = %q", args[0])
	}
}

func TestDSN(t *testing.T) {
	if got := DSN(ClientConfig{DSN: "postgres://x"}); got != "postgres://x" {
		t.Fatalf("explicit DSN = %q", got)
	}
	got := DSN(ClientConfig{Host: "db", Database: "swap", User: "u", Password: "p"})
	if !strings.HasPrefix(got, "postgres://u:p@db:5432/swap") || !strings.HasSuffix(got, "sslmode=disable") {
		t.Fatalf("built DSN = %q", got)
	}
}
