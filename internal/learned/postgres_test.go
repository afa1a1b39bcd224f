package learned

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

// flexibleSQLMatcher makes expectations insensitive to whitespace.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*PostgresStore, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	mock.ExpectExec(flexibleSQLMatcher(sqlCreateTable)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	store, err := NewPostgresStore(context.Background(), mock, logger)
	require.NoError(t, err)
	return store, mock
}

func TestNewPostgresStore_PingFails(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	pingErr := errors.New("database unavailable")
	mock.ExpectPing().WillReturnError(pingErr)

	_, err = NewPostgresStore(context.Background(), mock, zap.NewNop())
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store, mock := newMockStore(t, zap.New(core))

	rows := pgxmock.NewRows([]string{"stage", "source"}).
		AddRow(int32(1), "storage").
		AddRow(int32(2), "localStorage").
		AddRow(int32(5), "dom").
		AddRow(int32(6), "telepathy")
	mock.ExpectQuery(flexibleSQLMatcher(sqlSelectMethods)).WillReturnRows(rows)

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int]engine.Source{
		1: engine.SourceStorage,
		2: engine.SourceStorage,
		5: engine.SourceDOM,
	}, got)
	assert.Equal(t, 1, logs.FilterMessage("Skipping learned method with unknown source.").Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadQueryError(t *testing.T) {
	store, mock := newMockStore(t, zaptest.NewLogger(t))
	mock.ExpectQuery(flexibleSQLMatcher(sqlSelectMethods)).WillReturnError(errors.New("relation missing"))

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation missing")
}

func TestPostgresStore_SaveUpsertsInOneStatement(t *testing.T) {
	store, mock := newMockStore(t, zaptest.NewLogger(t))

	mock.ExpectExec(flexibleSQLMatcher(sqlUpsertMethods)).
		WithArgs([]int32{2, 7, 11}, []string{"network", "dom", "storage"}, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 3))

	err := store.Save(context.Background(), map[int]engine.Source{
		11: engine.SourceStorage,
		2:  engine.SourceNetworkCache,
		7:  engine.SourceDOM,
		9:  engine.SourceUnknown,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveNothing(t *testing.T) {
	store, mock := newMockStore(t, zaptest.NewLogger(t))
	require.NoError(t, store.Save(context.Background(), map[int]engine.Source{3: engine.SourceUnknown}))
	assert.NoError(t, mock.ExpectationsWereMet(), "no statement for an empty map")
}

func TestPostgresStore_Reset(t *testing.T) {
	store, mock := newMockStore(t, zaptest.NewLogger(t))
	mock.ExpectExec(flexibleSQLMatcher(sqlDeleteMethods)).WillReturnResult(pgxmock.NewResult("DELETE", 4))

	require.NoError(t, store.Reset(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
