package docstore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "boards", "main")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "boards", "main", Document{
		"boxes":    json.RawMessage(`[]`),
		"joinCode": json.RawMessage(`"1234"`),
	}))

	t.Run("merge keeps untouched fields", func(t *testing.T) {
		require.NoError(t, m.Set(ctx, "boards", "main", Document{"boxes": json.RawMessage(`[{"id":"a"}]`)}, Merge()))
		doc, err := m.Get(ctx, "boards", "main")
		require.NoError(t, err)
		assert.JSONEq(t, `[{"id":"a"}]`, string(doc["boxes"]))
		assert.JSONEq(t, `"1234"`, string(doc["joinCode"]))
	})

	t.Run("overwrite drops missing fields", func(t *testing.T) {
		require.NoError(t, m.Set(ctx, "boards", "main", Document{"boxes": json.RawMessage(`[]`)}))
		doc, err := m.Get(ctx, "boards", "main")
		require.NoError(t, err)
		assert.NotContains(t, doc, "joinCode")
	})

	t.Run("returned documents are copies", func(t *testing.T) {
		doc, err := m.Get(ctx, "boards", "main")
		require.NoError(t, err)
		doc["boxes"][0] = 'x'
		again, _ := m.Get(ctx, "boards", "main")
		assert.JSONEq(t, `[]`, string(again["boxes"]))
	})
}

func TestMemory_Subscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "boards", "main", Document{"joinCode": json.RawMessage(`"1"`)}))

	var (
		mu   sync.Mutex
		seen []string
	)
	unsub, err := m.Subscribe(ctx, "boards", "main", func(doc Document) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(doc["joinCode"]))
	})
	require.NoError(t, err)

	last := func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 {
			return ""
		}
		return seen[len(seen)-1]
	}

	assert.Eventually(t, func() bool { return last() == `"1"` }, time.Second, 5*time.Millisecond,
		"expected current document on subscribe")

	require.NoError(t, m.Set(ctx, "boards", "main", Document{"joinCode": json.RawMessage(`"2"`)}, Merge()))
	assert.Eventually(t, func() bool { return last() == `"2"` }, time.Second, 5*time.Millisecond,
		"expected change to be delivered")

	unsub()
	unsub()
	require.NoError(t, m.Set(ctx, "boards", "main", Document{"joinCode": json.RawMessage(`"3"`)}, Merge()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, `"2"`, last(), "expected no delivery after unsubscribe")
}

func TestMemory_SubscribeLatestWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	release := make(chan struct{})
	var (
		mu   sync.Mutex
		seen []string
	)
	_, err := m.Subscribe(ctx, "boards", "main", func(doc Document) {
		<-release
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(doc["n"]))
	})
	require.NoError(t, err)

	for _, n := range []string{"1", "2", "3", "4"} {
		require.NoError(t, m.Set(ctx, "boards", "main", Document{"n": json.RawMessage(n)}))
	}
	close(release)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == "4"
	}, time.Second, 5*time.Millisecond, "expected the latest snapshot to be delivered")

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(seen), 2, "expected intermediate snapshots to be dropped")
}

func TestMemory_List(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "users", "u1", Document{"role": json.RawMessage(`"admin"`)}))
	require.NoError(t, m.Set(ctx, "users", "u2", Document{"role": json.RawMessage(`"user"`)}))
	require.NoError(t, m.Set(ctx, "boards", "main", Document{}))

	users, err := m.List(ctx, "users")
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.JSONEq(t, `"admin"`, string(users["u1"]["role"]))
}

func TestEncodeDecode(t *testing.T) {
	type state struct {
		JoinCode string `json:"joinCode"`
		Count    int    `json:"count"`
	}

	doc, err := Encode(state{JoinCode: "1234", Count: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `"1234"`, string(doc["joinCode"]))

	var out state
	require.NoError(t, Decode(doc, &out))
	assert.Equal(t, state{JoinCode: "1234", Count: 2}, out)

	_, err = Encode([]int{1})
	assert.Error(t, err, "expected non-object values to be rejected")

	field, err := Field("role", "admin")
	require.NoError(t, err)
	assert.Equal(t, Document{"role": json.RawMessage(`"admin"`)}, field)
}
