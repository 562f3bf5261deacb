package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/crypto"
	"github.com/alanyoungcy/marketledger/internal/domain"
)

type recordSender struct {
	mu   sync.Mutex
	name string
	err  error
	got  []Message
}

func (r *recordSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func soldEvent() domain.Event {
	return domain.Event{
		Sequence:   3,
		Kind:       domain.EventItemSold,
		Caller:     common.HexToAddress("0x0000000000000000000000000000000000000002"),
		Amount:     *uint256.NewInt(42),
		Item:       &domain.MarketItem{ItemID: 2, Price: *uint256.NewInt(42)},
		OccurredAt: time.Unix(1791979200, 0),
	}
}

func TestNotifierFiltersByKind(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{" ItemSold ", ""}, discard())
	ctx := context.Background()

	require.NoError(t, n.NotifyEvent(ctx, soldEvent()))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Kind: domain.EventItemListed}))

	require.Len(t, s.got, 1)
	assert.Equal(t, "Item #2 sold", s.got[0].Title)
	assert.Equal(t, "buyer 0x0000000000000000000000000000000000000002 paid 42 wei", s.got[0].Body)
	assert.Equal(t, "42", s.got[0].Fields["price"])
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	assert.True(t, n.Wants(domain.EventItemGrouped))
	assert.False(t, n.Enabled())
	require.NoError(t, n.NotifyEvent(context.Background(), soldEvent()))
}

func TestNotifierJoinsSenderFailures(t *testing.T) {
	bad := &recordSender{name: "bad", err: errors.New("boom")}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyEvent(context.Background(), soldEvent())
	require.ErrorContains(t, err, "bad: boom")
	assert.Len(t, good.got, 1)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "chat-1")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), Message{Title: "T", Body: "B"}))
	assert.Equal(t, "chat-1", got["chat_id"])
	assert.Equal(t, "*T*\nB", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "T"})
	require.ErrorContains(t, err, "discord: unexpected status 429")
}

func TestWebhookSenderSigns(t *testing.T) {
	verifier := crypto.NewWebhookSigner("secret")
	var verr error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verr = verifier.Verify(body,
			r.Header.Get(crypto.HeaderWebhookTimestamp),
			r.Header.Get(crypto.HeaderWebhookSignature),
			time.Minute)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSender(srv.URL, "secret").Send(context.Background(), Render(soldEvent())))
	require.NoError(t, verr)
}
