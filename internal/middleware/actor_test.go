package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskledger/taskledger/internal/domain/event"
)

func TestActorFromHeader(t *testing.T) {
	tests := []struct {
		header string
		want   event.Actor
	}{
		{"agent", event.ActorAgent},
		{"system", event.ActorSystem},
		{"user", event.ActorUser},
		{"", event.ActorUser},
		{"robot", event.ActorUser},
	}

	for _, tt := range tests {
		t.Run("header="+tt.header, func(t *testing.T) {
			var got event.Actor
			handler := Actor(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ActorFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Actor", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("actor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActorFromContextDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ActorFromContext(req.Context()); got != event.ActorUser {
		t.Errorf("actor = %q, want user default", got)
	}
}
