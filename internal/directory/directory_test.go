package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestStatic(t *testing.T) {
	dir := NewStatic()
	dir.AddPatient("p1", "Ana")
	dir.AddDoctor("d1", "Dr. Silva")

	name, err := dir.PatientName(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", name)

	name, err = dir.DoctorName(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Silva", name)

	_, err = dir.PatientName(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewDatabase(db), mock
}

func TestDatabasePatientName(t *testing.T) {
	dir, mock := newMockDatabase(t)

	mock.ExpectQuery(`SELECT "id","name" FROM "patients" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("p1", "Ana"))

	name, err := dir.PatientName(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseDoctorNotFound(t *testing.T) {
	dir, mock := newMockDatabase(t)

	mock.ExpectQuery(`SELECT "id","name" FROM "doctors"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	_, err := dir.DoctorName(context.Background(), "d9")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseFailure(t *testing.T) {
	dir, mock := newMockDatabase(t)

	mock.ExpectQuery(`SELECT "id","name" FROM "patients"`).
		WillReturnError(errors.New("connection reset"))

	_, err := dir.PatientName(context.Background(), "p1")
	assert.EqualError(t, err, "connection reset")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDatabaseEmptyIDMatchesNothing(t *testing.T) {
	dir, mock := newMockDatabase(t)

	_, err := dir.PatientName(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = dir.DoctorName(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
