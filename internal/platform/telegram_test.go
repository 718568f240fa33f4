package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ta "github.com/mymmrac/telego/telegoapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-bridge/internal/config"
)

const testToken = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw0"

type recordedCall struct {
	Method string
	Body   map[string]any
}

type fakeBotAPI struct {
	mu        sync.Mutex
	calls     []recordedCall
	responses map[string]string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	raw, _ := io.ReadAll(r.Body)
	body := map[string]any{}
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Method: method, Body: body})
	resp, ok := f.responses[method]
	f.mu.Unlock()

	if !ok {
		resp = `{"ok":true,"result":true}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, resp)
}

func (f *fakeBotAPI) lastCall(t *testing.T) recordedCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func newTestClient(t *testing.T, responses map[string]string) (*TelegramClient, *fakeBotAPI) {
	t.Helper()
	api := &fakeBotAPI{responses: responses}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	client, err := NewTelegramClient(config.TelegramConfig{BotToken: testToken, APIServer: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	return client, api
}

func TestTelegramClient_CreateTopic(t *testing.T) {
	client, api := newTestClient(t, map[string]string{
		"createForumTopic": `{"ok":true,"result":{"message_thread_id":77,"name":"🆕 Ann","icon_color":7322096}}`,
	})

	topicID, err := client.CreateTopic(context.Background(), -100123, "🆕 Ann")
	require.NoError(t, err)
	assert.Equal(t, int64(77), topicID)

	call := api.lastCall(t)
	assert.Equal(t, "createForumTopic", call.Method)
	assert.Equal(t, "🆕 Ann", call.Body["name"])
}

func TestTelegramClient_SendMessageCopiesWithReply(t *testing.T) {
	client, api := newTestClient(t, map[string]string{
		"copyMessage": `{"ok":true,"result":{"message_id":901}}`,
	})

	id, err := client.SendMessage(context.Background(), OutboundMessage{
		ChatID:    -100123,
		ThreadID:  77,
		CopyFrom:  &MessageRef{ChatID: 42, MessageID: 10},
		ReplyToID: 880,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(901), id)

	call := api.lastCall(t)
	assert.Equal(t, "copyMessage", call.Method)
	assert.EqualValues(t, 77, call.Body["message_thread_id"])
	assert.EqualValues(t, 10, call.Body["message_id"])
	reply, ok := call.Body["reply_parameters"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 880, reply["message_id"])
}

func TestTelegramClient_RateLimitIsTransient(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"sendMessage": `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`,
	})

	_, err := client.SendMessage(context.Background(), OutboundMessage{ChatID: 42, Text: "hi"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.Code)
	assert.False(t, IsPermanent(err))

	wait, ok := RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, wait)
}

func TestTelegramClient_EditNotModifiedIsSuccess(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"editMessageText": `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`,
	})

	err := client.EditMessage(context.Background(), MessageEdit{ChatID: 42, MessageID: 5, Text: "same"})
	assert.NoError(t, err)
}

func TestTelegramClient_ForbiddenIsPermanent(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"sendMessage": `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
	})

	_, err := client.SendMessage(context.Background(), OutboundMessage{ChatID: 42, Text: "hi"})
	assert.True(t, IsPermanent(err))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "nil", err: nil},
		{name: "bad request", err: translate("op", &ta.Error{ErrorCode: 400, Description: "Bad Request: chat not found"}), permanent: true},
		{name: "not found", err: translate("op", &ta.Error{ErrorCode: 404, Description: "Not Found"}), permanent: true},
		{name: "server error", err: translate("op", &ta.Error{ErrorCode: 502, Description: "Bad Gateway"})},
		{name: "network", err: translate("op", errors.New("dial tcp: connection refused"))},
		{name: "deadline", err: context.DeadlineExceeded},
		{name: "unsupported", err: ErrUnsupported, permanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
		})
	}
}
