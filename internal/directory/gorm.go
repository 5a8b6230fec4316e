package directory

import (
	"context"
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Patient struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

type Doctor struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Specialty string
}

// Database reads names from the patients and doctors tables.
type Database struct {
	db *gorm.DB
}

// Open connects to postgres. The tables are owned by the patient records
// service; this package only reads them.
func Open(dsn string) (*Database, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewDatabase(db), nil
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) PatientName(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrNotFound
	}
	var patient Patient
	if err := d.db.WithContext(ctx).
		Select("id", "name").
		Where("id = ?", id).
		First(&patient).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return patient.Name, nil
}

func (d *Database) DoctorName(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrNotFound
	}
	var doctor Doctor
	if err := d.db.WithContext(ctx).
		Select("id", "name").
		Where("id = ?", id).
		First(&doctor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return doctor.Name, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
