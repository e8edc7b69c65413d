package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"askweb/internal/domain"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &SQLStore{db: db, dialect: postgres, logger: testLogger()}, mock
}

func TestPostgres_SaveChatInsertsTail(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	chat := sampleChat(t, "c1", "u1", time.Now())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chats (id, user_id, title, path, created_at, updated_at)")).
		WithArgs("c1", "u1", "capital of France", "/search/c1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM messages WHERE chat_id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	for seq := 1; seq < 3; seq++ {
		m := chat.Messages[seq]
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
			WithArgs("c1", seq, m.ID, m.GroupID, string(m.Role), string(m.Type), m.Name, m.Content, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := s.SaveChat(ctx, chat); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_SaveChatRollsBackOnInsertError(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	chat := sampleChat(t, "c1", "u1", time.Now())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chats").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO messages").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := s.SaveChat(ctx, chat); err == nil {
		t.Fatal("expected insert error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_SaveChatRejectsStaleLog(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	chat := sampleChat(t, "c1", "u1", time.Now())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chats").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectRollback()

	if err := s.SaveChat(ctx, chat); !errors.Is(err, domain.ErrStaleChat) {
		t.Fatalf("expected ErrStaleChat, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_GetChat(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, title, path, created_at FROM chats WHERE id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "path", "created_at"}).
			AddRow("c1", "u1", "t", "/search/c1", created))
	mock.ExpectQuery("SELECT id, group_id, role, type, name, content, created_at").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "group_id", "role", "type", "name", "content", "created_at"}).
			AddRow("m1", "", "user", "input", "", `{"input":"q"}`, created).
			AddRow("m2", "g1", "assistant", "answer", "", "a", created))

	chat, err := s.GetChat(ctx, "c1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if len(chat.Messages) != 2 || chat.Messages[1].Role != domain.RoleAssistant || chat.Messages[1].Type != domain.TypeAnswer {
		t.Errorf("unexpected messages: %+v", chat.Messages)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_GetChatNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, user_id").WillReturnError(sql.ErrNoRows)

	if _, err := s.GetChat(context.Background(), "x"); !errors.Is(err, domain.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestPostgres_ListChats(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM chats WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2")).
		WithArgs("u1", 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "path", "created_at"}).
			AddRow("c2", "u1", "b", "/search/c2", now).
			AddRow("c1", "u1", "a", "/search/c1", now.Add(-time.Hour)))

	list, err := s.ListChats(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c2" {
		t.Errorf("unexpected list: %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_ListChatsRowsErr(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "user_id", "title", "path", "created_at"}).
		AddRow("c1", "u1", "a", "/search/c1", time.Now()).
		AddRow("c2", "u1", "b", "/search/c2", time.Now())
	rows.RowError(1, errors.New("row error"))
	mock.ExpectQuery("SELECT id, user_id, title, path, created_at FROM chats").WillReturnRows(rows)

	if _, err := s.ListChats(context.Background(), "", 5); err == nil {
		t.Fatal("expected rows error")
	}
}

func TestNewPostgresStore_MigratesFreshDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	orig := openDB
	openDB = func(driver, dsn string) (*sql.DB, error) {
		if driver != "pgx" {
			t.Errorf("driver = %s, want pgx", driver)
		}
		return db, nil
	}
	t.Cleanup(func() { openDB = orig })

	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_version").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM schema_version")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))
	for _, m := range migrations {
		mock.ExpectBegin()
		for range m.statements(postgres) {
			mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
		}
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_version (version, description) VALUES ($1, $2)")).
			WithArgs(m.Version, m.Description).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	s, err := NewPostgresStore(context.Background(), "postgres://localhost/askweb", testLogger())
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	if s.dialect != postgres {
		t.Error("expected postgres dialect")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
	mock.ExpectClose()
	_ = s.Close()
}

func TestNewPostgresStore_PingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	orig := openDB
	openDB = func(string, string) (*sql.DB, error) { return db, nil }
	t.Cleanup(func() { openDB = orig })

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	if _, err := NewPostgresStore(context.Background(), "postgres://localhost/askweb", testLogger()); err == nil {
		t.Fatal("expected ping error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
