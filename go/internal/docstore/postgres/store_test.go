package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mcdev12/seatboard/go/internal/docstore"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func TestStore_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)

	mock.ExpectQuery(q(selectDoc)).
		WithArgs("boards", "main").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`{"boxes":[]}`)))

	doc, err := s.Get(context.Background(), "boards", "main")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(doc["boxes"]))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetNotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)

	mock.ExpectQuery(q(selectDoc)).
		WithArgs("boards", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "boards", "missing")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestStore_SetMerge(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)

	doc := docstore.Document{"joinCode": json.RawMessage(`"ABCD"`)}

	mock.ExpectExec(q(mergeDoc)).
		WithArgs("tournaments", "ev1", []byte(`{"joinCode":"ABCD"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q(upsertDoc)).
		WithArgs("tournaments", "ev1", []byte(`{"joinCode":"ABCD"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Set(context.Background(), "tournaments", "ev1", doc, docstore.Merge()))
	require.NoError(t, s.Set(context.Background(), "tournaments", "ev1", doc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_List(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)

	mock.ExpectQuery(q(selectList)).
		WithArgs("users").
		WillReturnRows(pgxmock.NewRows([]string{"id", "data"}).
			AddRow("u1", []byte(`{"role":"admin"}`)).
			AddRow("u2", []byte(`{"role":"user"}`)))

	docs, err := s.List(context.Background(), "users")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.JSONEq(t, `"admin"`, string(docs["u1"]["role"]))
}

func TestStore_SubscribeNotifyAndPoll(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)
	ctx := context.Background()

	mock.ExpectQuery(q(selectDoc)).
		WithArgs("boards", "main").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`{"v":1}`)))

	got := make(chan string, 4)
	unsub, err := s.Subscribe(ctx, "boards", "main", func(doc docstore.Document) {
		got <- string(doc["v"])
	})
	require.NoError(t, err)
	defer unsub()

	select {
	case v := <-got:
		assert.Equal(t, "1", v)
	case <-time.After(time.Second):
		t.Fatal("initial snapshot not delivered")
	}

	mock.ExpectQuery(q(selectDoc)).
		WithArgs("boards", "main").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`{"v":2}`)))
	require.NoError(t, s.Notify(ctx, "boards/main"))

	select {
	case v := <-got:
		assert.Equal(t, "2", v)
	case <-time.After(time.Second):
		t.Fatal("notified snapshot not delivered")
	}

	// unchanged document is not re-delivered by the fallback poll
	mock.ExpectQuery(q(selectDoc)).
		WithArgs("boards", "main").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`{"v":2}`)))
	require.NoError(t, s.Poll(ctx))

	select {
	case v := <-got:
		t.Fatalf("unexpected delivery %s", v)
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_NotifyIgnoresUnsubscribed(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)

	require.NoError(t, s.Notify(context.Background(), "boards/other"))
	assert.Error(t, s.Notify(context.Background(), "garbage"))
	require.NoError(t, mock.ExpectationsWereMet())
}
