package inmem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helioai/lio-agent/runtime/agent/session"
)

func TestAppendBoundsHistory(t *testing.T) {
	ctx := context.Background()
	s := New(3)
	for i := range 5 {
		require.NoError(t, s.Append(ctx, "s1", session.Message{
			Role:      session.RoleUser,
			Content:   fmt.Sprintf("m%d", i),
			Timestamp: time.Unix(int64(i), 0),
		}))
	}

	msgs, err := s.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "m2", msgs[0].Content)
	require.Equal(t, "m4", msgs[2].Content)

	last, err := s.History(ctx, "s1", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"m3", "m4"}, []string{last[0].Content, last[1].Content})
}

func TestAppendIsIdempotentPerRequest(t *testing.T) {
	ctx := context.Background()
	s := New(10)
	user := session.Message{Role: session.RoleUser, Content: "hi", RequestID: "req-1"}
	note := session.Message{Role: session.RoleAssistant, Content: "[context] {}", RequestID: "req-1", Kind: "context"}
	reply := session.Message{Role: session.RoleAssistant, Content: "hello", RequestID: "req-1"}

	for range 2 {
		require.NoError(t, s.Append(ctx, "s1", user))
		require.NoError(t, s.Append(ctx, "s1", note))
		require.NoError(t, s.Append(ctx, "s1", reply))
	}
	msgs, err := s.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	require.NoError(t, s.Append(ctx, "s1", session.Message{Role: session.RoleUser, Content: "hi"}))
	require.NoError(t, s.Append(ctx, "s1", session.Message{Role: session.RoleUser, Content: "hi"}))
	msgs, err = s.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
}

func TestClearAndValidation(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	require.NoError(t, s.Append(ctx, "s1", session.Message{Role: session.RoleUser, Content: "x"}))
	require.NoError(t, s.Clear(ctx, "s1"))
	msgs, err := s.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.ErrorIs(t, s.Append(ctx, "", session.Message{}), session.ErrSessionIDRequired)
	_, err = s.History(ctx, "", 1)
	require.ErrorIs(t, err, session.ErrSessionIDRequired)
}
